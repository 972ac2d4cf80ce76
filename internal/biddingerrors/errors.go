package biddingerrors

import (
	"errors"
	"fmt"
)

// Lookup errors
var (
	ErrNotFound    = errors.New("not found")
	ErrLotNotFound = fmt.Errorf("lot %w", ErrNotFound)
	ErrBidNotFound = fmt.Errorf("bid %w", ErrNotFound)
	ErrNoBids      = errors.New("no bids found for lot")
)

// Repository-level errors
var (
	// ErrConstraintViolation is returned when a second row for the same (user, lot) pair would be created.
	ErrConstraintViolation = errors.New("bid constraint violation")
)

// business logic errors
var (
	ErrInvalidBid      = errors.New("invalid bid")
	ErrBidTooLow       = errors.New("bid amount too low")
	ErrLotClosed       = errors.New("bidding is closed for this lot")
	ErrForbidden       = errors.New("bid belongs to another user")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// transient errors, safe for the caller to retry
var (
	ErrBidConflict = fmt.Errorf("concurrent bid conflict: %w", ErrConstraintViolation)
	ErrLotBusy     = errors.New("lot is busy")
)
