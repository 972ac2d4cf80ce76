package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"plate-auction/internal/biddingerrors"
	"plate-auction/internal/models"
	"plate-auction/internal/repository"
	"plate-auction/utils"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
)

// amountPrecision is the number of fractional digits a bid amount may carry (cents)
const amountPrecision int32 = 2

// maxAmount is the exclusive upper bound of NUMERIC(12,2)
var maxAmount = decimal.New(1, 10)

const (
	// maxIntegerDigits is the number of digits left of the point that NUMERIC(12,2) holds
	maxIntegerDigits = 10
	// minExponent bounds trailing zeros accepted after the cents, e.g. "1.000"
	minExponent = -(amountPrecision + 18)
)

// Options tunes the admission engine
type Options struct {
	// LockTimeout bounds how long a writer waits for the per-lot lock
	LockTimeout time.Duration
	// MaxAttempts bounds retries on ledger constraint violations
	MaxAttempts int
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		LockTimeout: 2 * time.Second,
		MaxAttempts: 3,
	}
}

// BiddingService is the bid admission and ranking engine. Every write for a lot runs under that lot's lock,
// so the read-max, compare, write sequence is never interleaved with another writer on the same lot in this
// process. The ledger repeats the gate and the comparison inside its own write, which keeps several engines
// sharing one database correct.
type BiddingService struct {
	ledger repository.BidLedger
	lots   repository.LotStore
	clock  clockwork.Clock
	locks  *LotLocker
	opts   Options
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(ledger repository.BidLedger, lots repository.LotStore, clock clockwork.Clock, opts Options) *BiddingService {
	defaults := DefaultOptions()
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaults.LockTimeout
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = defaults.MaxAttempts
	}

	return &BiddingService{
		ledger: ledger,
		lots:   lots,
		clock:  clock,
		locks:  NewLotLocker(opts.LockTimeout, clock),
		opts:   opts,
	}
}

// priorBid finds the row an admitted amount should be written to. ok is false when a new row must be inserted.
type priorBid func(ctx context.Context) (bid models.Bid, ok bool, err error)

// Propose places the caller's bid on a lot, or raises their existing bid on it
func (s *BiddingService) Propose(ctx context.Context, lotID, userID string, amount decimal.Decimal) (models.Bid, error) {
	if lotID == "" || userID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - missing lotID or userID", biddingerrors.ErrInvalidBid)
	}
	if err := validateAmount(amount); err != nil {
		return models.Bid{}, err
	}

	prior := func(ctx context.Context) (models.Bid, bool, error) {
		bid, err := s.ledger.GetByUserAndLot(ctx, userID, lotID)
		if errors.Is(err, biddingerrors.ErrBidNotFound) {
			return models.Bid{}, false, nil
		}
		if err != nil {
			return models.Bid{}, false, fmt.Errorf("service: failed to look up existing bid: %w", err)
		}
		return bid, true, nil
	}

	return s.admit(ctx, lotID, userID, amount, prior)
}

// Revise changes the amount of one of the caller's bids
func (s *BiddingService) Revise(ctx context.Context, bidID, userID string, amount decimal.Decimal) (models.Bid, error) {
	if bidID == "" || userID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - missing bidID or userID", biddingerrors.ErrInvalidBid)
	}
	if err := validateAmount(amount); err != nil {
		return models.Bid{}, err
	}

	owned, err := s.ownedBid(ctx, bidID, userID)
	if err != nil {
		return models.Bid{}, err
	}

	// the row may have been withdrawn while we waited for the lock
	prior := func(ctx context.Context) (models.Bid, bool, error) {
		bid, err := s.ledger.Get(ctx, bidID)
		if err != nil {
			return models.Bid{}, false, fmt.Errorf("service: failed to get bid %s: %w", bidID, err)
		}
		return bid, true, nil
	}

	return s.admit(ctx, owned.LotID, userID, amount, prior)
}

// Withdraw deletes one of the caller's bids while its lot is still open
func (s *BiddingService) Withdraw(ctx context.Context, bidID, userID string) error {
	if bidID == "" || userID == "" {
		return fmt.Errorf("service: %w - missing bidID or userID", biddingerrors.ErrInvalidBid)
	}

	bid, err := s.ownedBid(ctx, bidID, userID)
	if err != nil {
		return err
	}

	unlock, err := s.lockLot(ctx, bid.LotID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.ensureOpen(ctx, bid.LotID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("service: withdraw bid %s: %w", bidID, err)
	}

	if err := s.ledger.Delete(ctx, bidID); err != nil {
		return fmt.Errorf("service: failed to delete bid %s: %w", bidID, err)
	}
	return nil
}

// CurrentHighest returns the highest bid on a lot. It does not take the lot lock.
func (s *BiddingService) CurrentHighest(ctx context.Context, lotID string) (models.Bid, error) {
	if lotID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty lot ID", biddingerrors.ErrInvalidBid)
	}
	if _, err := s.lots.GetLot(ctx, lotID); err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get lot %s: %w", lotID, err)
	}

	bid, err := s.ledger.HighestBid(ctx, lotID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get highest bid for lot %s: %w", lotID, err)
	}
	return bid, nil
}

// ListBidsForUser returns every bid the user currently holds
func (s *BiddingService) ListBidsForUser(ctx context.Context, userID string) ([]models.Bid, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	bids, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list bids for user %s: %w", userID, err)
	}
	return bids, nil
}

// GetBid returns one of the caller's bids
func (s *BiddingService) GetBid(ctx context.Context, bidID, userID string) (models.Bid, error) {
	if bidID == "" || userID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - missing bidID or userID", biddingerrors.ErrInvalidBid)
	}
	return s.ownedBid(ctx, bidID, userID)
}

// ListBidsForLot returns the bids on a lot ordered by CreatedAt, i.e. by each row's latest placement or revision
func (s *BiddingService) ListBidsForLot(ctx context.Context, lotID string) ([]models.Bid, error) {
	if lotID == "" {
		return nil, fmt.Errorf("service: %w - empty lot ID", biddingerrors.ErrInvalidBid)
	}
	if _, err := s.lots.GetLot(ctx, lotID); err != nil {
		return nil, fmt.Errorf("service: failed to get lot %s: %w", lotID, err)
	}

	bids, err := s.ledger.ListByLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list bids for lot %s: %w", lotID, err)
	}
	return bids, nil
}

// admit runs the gate and rank decision under the lot lock, retrying only on ledger constraint violations
func (s *BiddingService) admit(ctx context.Context, lotID, userID string, amount decimal.Decimal, prior priorBid) (models.Bid, error) {
	unlock, err := s.lockLot(ctx, lotID)
	if err != nil {
		return models.Bid{}, err
	}
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		bid, err := s.tryAdmit(ctx, lotID, userID, amount, prior)
		if err == nil {
			utils.Debug("bid admitted", map[string]any{
				"bid_id":  bid.BidID,
				"lot_id":  lotID,
				"user_id": userID,
				"amount":  bid.Amount.StringFixed(amountPrecision),
				"attempt": attempt,
			})
			return bid, nil
		}
		if !errors.Is(err, biddingerrors.ErrConstraintViolation) {
			return models.Bid{}, err
		}

		lastErr = err
		utils.Warn("bid write conflicted, retrying", map[string]any{
			"lot_id":  lotID,
			"user_id": userID,
			"attempt": attempt,
			"error":   err.Error(),
		})
	}

	return models.Bid{}, fmt.Errorf("service: %w - gave up after %d attempts: %v", biddingerrors.ErrBidConflict, s.opts.MaxAttempts, lastErr)
}

func (s *BiddingService) tryAdmit(ctx context.Context, lotID, userID string, amount decimal.Decimal, prior priorBid) (models.Bid, error) {
	if err := s.ensureOpen(ctx, lotID); err != nil {
		return models.Bid{}, err
	}

	bid, exists, err := prior(ctx)
	if err != nil {
		return models.Bid{}, err
	}

	// the caller's own row never counts against them
	maxOther, found, err := s.ledger.MaxAmountExcluding(ctx, lotID, userID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to check highest bid: %w", err)
	}
	if found && amount.LessThanOrEqual(maxOther) {
		return models.Bid{}, fmt.Errorf("service: %w - current highest bid is %s", biddingerrors.ErrBidTooLow, maxOther.StringFixed(amountPrecision))
	}

	if err := ctx.Err(); err != nil {
		return models.Bid{}, fmt.Errorf("service: bid on lot %s abandoned: %w", lotID, err)
	}

	if !exists {
		bid = models.Bid{
			BidID:  utils.GenerateID(),
			LotID:  lotID,
			UserID: userID,
		}
	}
	bid.Amount = amount
	bid.CreatedAt = s.clock.Now().UTC()

	stored, err := s.ledger.InsertOrUpdate(ctx, bid)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to record bid for lot %s by user %s: %w", lotID, userID, err)
	}
	return stored, nil
}

// ensureOpen checks that the lot exists and accepts bids right now
func (s *BiddingService) ensureOpen(ctx context.Context, lotID string) error {
	lot, err := s.lots.GetLot(ctx, lotID)
	if err != nil {
		return fmt.Errorf("service: failed to get lot %s: %w", lotID, err)
	}
	if !lot.OpenAt(s.clock.Now()) {
		return fmt.Errorf("service: %w - lot %s", biddingerrors.ErrLotClosed, lotID)
	}
	return nil
}

func (s *BiddingService) ownedBid(ctx context.Context, bidID, userID string) (models.Bid, error) {
	bid, err := s.ledger.Get(ctx, bidID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get bid %s: %w", bidID, err)
	}
	if bid.UserID != userID {
		return models.Bid{}, fmt.Errorf("service: %w - bid %s", biddingerrors.ErrForbidden, bidID)
	}
	return bid, nil
}

func (s *BiddingService) lockLot(ctx context.Context, lotID string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, lotID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrLotBusy) {
			utils.Warn("lot lock timed out", map[string]any{"lot_id": lotID, "timeout": s.opts.LockTimeout.String()})
		}
		return nil, fmt.Errorf("service: %w", err)
	}
	return unlock, nil
}

// validateAmount checks that an amount is positive, fits the ledger column and has at most cent precision
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("service: %w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}
	// bound the scale before Round or Cmp, both of which rescale to the operand's exponent
	exp := amount.Exponent()
	if exp < minExponent || exp > maxIntegerDigits {
		return fmt.Errorf("service: %w - amount exponent %d out of range", biddingerrors.ErrInvalidBid, exp)
	}
	if !amount.Equal(amount.Round(amountPrecision)) {
		return fmt.Errorf("service: %w - amount has more than %d decimal places", biddingerrors.ErrInvalidBid, amountPrecision)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("service: %w - amount exceeds %s", biddingerrors.ErrInvalidBid, maxAmount.String())
	}
	return nil
}
