package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents an authenticated participant, as resolved by the identity provider
type User struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsStaff  bool   `json:"is_staff"`
}

// Lot represents an auctionable plate. The bidding engine only reads it.
type Lot struct {
	LotID       string    `json:"lot_id"`
	PlateNumber string    `json:"plate_number"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
	Active      bool      `json:"is_active"`
	OwnerID     string    `json:"created_by_id"`
}

// OpenAt reports whether the lot accepts bids at the given instant
func (l Lot) OpenAt(now time.Time) bool {
	return l.Active && now.Before(l.Deadline)
}

// Bid represents a user's offer on a lot. There is at most one bid per (UserID, LotID).
type Bid struct {
	BidID     string          `json:"bid_id"`
	LotID     string          `json:"lot_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}
