package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"plate-auction/internal/auth"
	"plate-auction/internal/biddingerrors"
	model "plate-auction/internal/models"
	"plate-auction/services/bidding/helpers"
	"plate-auction/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=bidding_handler.go -destination=mock_bidding_handler.go -package=handler

type BiddingServiceInterface interface {
	Propose(ctx context.Context, lotID, userID string, amount decimal.Decimal) (model.Bid, error)
	Revise(ctx context.Context, bidID, userID string, amount decimal.Decimal) (model.Bid, error)
	Withdraw(ctx context.Context, bidID, userID string) error
	CurrentHighest(ctx context.Context, lotID string) (model.Bid, error)
	ListBidsForUser(ctx context.Context, userID string) ([]model.Bid, error)
	GetBid(ctx context.Context, bidID, userID string) (model.Bid, error)
	ListBidsForLot(ctx context.Context, lotID string) ([]model.Bid, error)
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// caller fetches the authenticated user or writes a 401
func caller(c *gin.Context, handlerName string) (model.User, bool) {
	user, err := auth.Caller(c)
	if err != nil {
		helpers.RespondError(c, handlerName, "no caller identity", err, nil)
		return model.User{}, false
	}
	return user, true
}

// bidIDParam reads :bid_id; ids that could never exist are answered with 404 without reaching the service
func bidIDParam(c *gin.Context, handlerName string) (string, bool) {
	bidID := c.Param("bid_id")
	if !utils.IsValidID(bidID) {
		err := fmt.Errorf("malformed bid id %q: %w", bidID, biddingerrors.ErrBidNotFound)
		helpers.RespondError(c, handlerName, "malformed bid id", err, map[string]any{"bid_id": bidID})
		return "", false
	}
	return bidID, true
}

// PlaceBidHandler handles POST /bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	user, ok := caller(c, "PlaceBidHandler")
	if !ok {
		return
	}

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.Propose(c.Request.Context(), req.LotID, user.UserID, req.Amount)
	if err != nil {
		helpers.RespondError(c, "PlaceBidHandler", "failed to place bid", err, map[string]any{
			"lot_id":  req.LotID,
			"user_id": user.UserID,
			"amount":  req.Amount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewBidResponse(bid), "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":  bid.BidID,
		"lot_id":  bid.LotID,
		"user_id": bid.UserID,
		"amount":  bid.Amount.String(),
	})
}

// ListMyBidsHandler handles GET /bids
func (h *BiddingHandler) ListMyBidsHandler(c *gin.Context) {
	user, ok := caller(c, "ListMyBidsHandler")
	if !ok {
		return
	}

	bids, err := h.service.ListBidsForUser(c.Request.Context(), user.UserID)
	if err != nil {
		helpers.RespondError(c, "ListMyBidsHandler", "error retrieving bids", err, map[string]any{"user_id": user.UserID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("ListMyBidsHandler", "bids retrieved successfully", map[string]any{
		"user_id": user.UserID,
		"count":   len(bids),
	})
}

// GetBidHandler handles GET /bids/:bid_id
func (h *BiddingHandler) GetBidHandler(c *gin.Context) {
	user, ok := caller(c, "GetBidHandler")
	if !ok {
		return
	}
	bidID, ok := bidIDParam(c, "GetBidHandler")
	if !ok {
		return
	}

	bid, err := h.service.GetBid(c.Request.Context(), bidID, user.UserID)
	if err != nil {
		helpers.RespondError(c, "GetBidHandler", "error retrieving bid", err, map[string]any{
			"bid_id":  bidID,
			"user_id": user.UserID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "bid retrieved successfully")
}

// ReviseBidHandler handles PUT /bids/:bid_id
func (h *BiddingHandler) ReviseBidHandler(c *gin.Context) {
	user, ok := caller(c, "ReviseBidHandler")
	if !ok {
		return
	}
	bidID, ok := bidIDParam(c, "ReviseBidHandler")
	if !ok {
		return
	}

	var req helpers.ReviseBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "ReviseBidHandler", err)
		return
	}

	bid, err := h.service.Revise(c.Request.Context(), bidID, user.UserID, req.Amount)
	if err != nil {
		helpers.RespondError(c, "ReviseBidHandler", "failed to revise bid", err, map[string]any{
			"bid_id":  bidID,
			"user_id": user.UserID,
			"amount":  req.Amount.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "bid updated successfully")
	helpers.LogSuccess("ReviseBidHandler", "bid updated successfully", map[string]any{
		"bid_id":  bid.BidID,
		"lot_id":  bid.LotID,
		"user_id": bid.UserID,
		"amount":  bid.Amount.String(),
	})
}

// WithdrawBidHandler handles DELETE /bids/:bid_id
func (h *BiddingHandler) WithdrawBidHandler(c *gin.Context) {
	user, ok := caller(c, "WithdrawBidHandler")
	if !ok {
		return
	}
	bidID, ok := bidIDParam(c, "WithdrawBidHandler")
	if !ok {
		return
	}

	if err := h.service.Withdraw(c.Request.Context(), bidID, user.UserID); err != nil {
		helpers.RespondError(c, "WithdrawBidHandler", "failed to withdraw bid", err, map[string]any{
			"bid_id":  bidID,
			"user_id": user.UserID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"bid_id": bidID}, "bid deleted successfully")
	helpers.LogSuccess("WithdrawBidHandler", "bid deleted successfully", map[string]any{
		"bid_id":  bidID,
		"user_id": user.UserID,
	})
}

// GetHighestBidHandler handles GET /lots/:lot_id/highest
func (h *BiddingHandler) GetHighestBidHandler(c *gin.Context) {
	lotID := c.Param("lot_id")
	bid, err := h.service.CurrentHighest(c.Request.Context(), lotID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrNoBids) {
			utils.JSONError(c, http.StatusNotFound, err, "no bids found for lot")
			utils.Info("GetHighestBidHandler: no bids yet", map[string]any{"lot_id": lotID})
			return
		}
		helpers.RespondError(c, "GetHighestBidHandler", "error retrieving highest bid", err, map[string]any{"lot_id": lotID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "highest bid retrieved successfully")
}

// GetBidsByLotHandler handles GET /lots/:lot_id/bids
func (h *BiddingHandler) GetBidsByLotHandler(c *gin.Context) {
	lotID := c.Param("lot_id")
	bids, err := h.service.ListBidsForLot(c.Request.Context(), lotID)
	if err != nil {
		helpers.RespondError(c, "GetBidsByLotHandler", "error retrieving bids", err, map[string]any{"lot_id": lotID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponses(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByLotHandler", "bids retrieved successfully", map[string]any{
		"lot_id": lotID,
		"count":  len(bids),
	})
}
