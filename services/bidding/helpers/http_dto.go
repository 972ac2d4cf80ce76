package helpers

import (
	"time"

	model "plate-auction/internal/models"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs

// PlaceBidRequest is the body of POST /bids. Amount accepts a JSON number or string.
type PlaceBidRequest struct {
	LotID  string          `json:"lot_id" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// ReviseBidRequest is the body of PUT /bids/:bid_id
type ReviseBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type BidResponse struct {
	BidID     string `json:"bid_id"`
	LotID     string `json:"lot_id"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at"`
}

// NewBidResponse renders a bid with a fixed two-decimal amount and an RFC3339 timestamp
func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:     bid.BidID,
		LotID:     bid.LotID,
		UserID:    bid.UserID,
		Amount:    bid.Amount.StringFixed(2),
		CreatedAt: bid.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewBidResponses renders a list of bids, never returning nil
func NewBidResponses(bids []model.Bid) []BidResponse {
	resp := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, NewBidResponse(b))
	}
	return resp
}
