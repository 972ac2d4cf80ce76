package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"plate-auction/internal/biddingerrors"
	model "plate-auction/internal/models"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// BidLedger defines the durable bid storage. It holds at most one bid per (user, lot) pair.
type BidLedger interface {
	// InsertOrUpdate stores the bid. When the (user, lot) pair already has a row with the same BidID,
	// its amount and timestamp are updated in place; a new BidID for an existing pair is rejected
	// with ErrConstraintViolation. The write is re-checked atomically against the lot: ErrLotClosed
	// when the lot is not open at bid.CreatedAt, ErrBidTooLow when the amount does not exceed every
	// other user's bid on the lot.
	InsertOrUpdate(ctx context.Context, bid model.Bid) (model.Bid, error)
	MaxAmountExcluding(ctx context.Context, lotID, excludeUserID string) (decimal.Decimal, bool, error)
	HighestBid(ctx context.Context, lotID string) (model.Bid, error)
	Get(ctx context.Context, bidID string) (model.Bid, error)
	GetByUserAndLot(ctx context.Context, userID, lotID string) (model.Bid, error)
	ListByUser(ctx context.Context, userID string) ([]model.Bid, error)
	ListByLot(ctx context.Context, lotID string) ([]model.Bid, error)
	Delete(ctx context.Context, bidID string) error
}

// LotStore is the read side of the plate catalogue
type LotStore interface {
	GetLot(ctx context.Context, lotID string) (model.Lot, error)
}

type pairKey struct {
	userID string
	lotID  string
}

// MemoryRepo is a concurrency-safe in-memory implementation of BidLedger and LotStore
type MemoryRepo struct {
	mu      sync.RWMutex
	lots    map[string]model.Lot
	bids    map[string]model.Bid           // key: bidID -> value: bid
	byPair  map[pairKey]string             // key: (userID, lotID) -> value: bidID
	lotBids map[string]map[string]struct{} // key: lotID -> set of bidIDs
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		lots:    make(map[string]model.Lot),
		bids:    make(map[string]model.Bid),
		byPair:  make(map[pairKey]string),
		lotBids: make(map[string]map[string]struct{}),
	}
}

// InsertOrUpdate records a bid, keeping a single row per (user, lot) pair
func (r *MemoryRepo) InsertOrUpdate(ctx context.Context, bid model.Bid) (model.Bid, error) {
	if err := ctx.Err(); err != nil {
		return model.Bid{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lot, ok := r.lots[bid.LotID]
	if !ok {
		return model.Bid{}, fmt.Errorf("insert bid for lot %s: %w", bid.LotID, biddingerrors.ErrLotNotFound)
	}
	maxOther, found := r.maxAmountExcluding(bid.LotID, bid.UserID)
	if err := checkAdmissible(lot, bid, maxOther, found); err != nil {
		return model.Bid{}, err
	}

	key := pairKey{userID: bid.UserID, lotID: bid.LotID}
	if existingID, ok := r.byPair[key]; ok && existingID != bid.BidID {
		return model.Bid{}, fmt.Errorf("insert bid for lot %s by user %s: %w", bid.LotID, bid.UserID, biddingerrors.ErrConstraintViolation)
	}
	if existing, ok := r.bids[bid.BidID]; ok && (existing.UserID != bid.UserID || existing.LotID != bid.LotID) {
		return model.Bid{}, fmt.Errorf("update bid %s: %w", bid.BidID, biddingerrors.ErrConstraintViolation)
	}

	r.bids[bid.BidID] = bid
	r.byPair[key] = bid.BidID
	if r.lotBids[bid.LotID] == nil {
		r.lotBids[bid.LotID] = make(map[string]struct{})
	}
	r.lotBids[bid.LotID][bid.BidID] = struct{}{}

	return bid, nil
}

// MaxAmountExcluding returns the highest amount on a lot among bids not owned by excludeUserID
func (r *MemoryRepo) MaxAmountExcluding(ctx context.Context, lotID, excludeUserID string) (decimal.Decimal, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	maxOther, found := r.maxAmountExcluding(lotID, excludeUserID)
	return maxOther, found, nil
}

// maxAmountExcluding expects r.mu to be held
func (r *MemoryRepo) maxAmountExcluding(lotID, excludeUserID string) (decimal.Decimal, bool) {
	var (
		maxOther decimal.Decimal
		found    bool
	)
	for id := range r.lotBids[lotID] {
		b := r.bids[id]
		if b.UserID == excludeUserID {
			continue
		}
		if !found || b.Amount.GreaterThan(maxOther) {
			maxOther = b.Amount
			found = true
		}
	}
	return maxOther, found
}

// HighestBid returns the highest bid for a lot
func (r *MemoryRepo) HighestBid(ctx context.Context, lotID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		highest model.Bid
		found   bool
	)
	for id := range r.lotBids[lotID] {
		b := r.bids[id]
		if !found || b.Amount.GreaterThan(highest.Amount) {
			highest = b
			found = true
		}
	}
	if !found {
		return model.Bid{}, fmt.Errorf("get highest bid for lot %s: %w", lotID, biddingerrors.ErrNoBids)
	}
	return highest, nil
}

// Get returns a bid by id
func (r *MemoryRepo) Get(ctx context.Context, bidID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bid, ok := r.bids[bidID]
	if !ok {
		return model.Bid{}, fmt.Errorf("get bid %s: %w", bidID, biddingerrors.ErrBidNotFound)
	}
	return bid, nil
}

// GetByUserAndLot returns the single bid a user holds on a lot
func (r *MemoryRepo) GetByUserAndLot(ctx context.Context, userID, lotID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPair[pairKey{userID: userID, lotID: lotID}]
	if !ok {
		return model.Bid{}, fmt.Errorf("get bid on lot %s by user %s: %w", lotID, userID, biddingerrors.ErrBidNotFound)
	}
	return r.bids[id], nil
}

// ListByUser returns all bids of a user, newest first
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := make([]model.Bid, 0)
	for key, id := range r.byPair {
		if key.userID == userID {
			bids = append(bids, r.bids[id])
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].CreatedAt.After(bids[j].CreatedAt) })
	return bids, nil
}

// ListByLot returns all bids for a lot ordered by CreatedAt, which a revision moves to the revision time
func (r *MemoryRepo) ListByLot(ctx context.Context, lotID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bids := make([]model.Bid, 0, len(r.lotBids[lotID]))
	for id := range r.lotBids[lotID] {
		bids = append(bids, r.bids[id])
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].CreatedAt.Before(bids[j].CreatedAt) })
	return bids, nil
}

// Delete removes a bid
func (r *MemoryRepo) Delete(ctx context.Context, bidID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bid, ok := r.bids[bidID]
	if !ok {
		return fmt.Errorf("delete bid %s: %w", bidID, biddingerrors.ErrBidNotFound)
	}
	delete(r.bids, bidID)
	delete(r.byPair, pairKey{userID: bid.UserID, lotID: bid.LotID})
	delete(r.lotBids[bid.LotID], bidID)
	return nil
}

// GetLot returns a lot by id
func (r *MemoryRepo) GetLot(ctx context.Context, lotID string) (model.Lot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lot, ok := r.lots[lotID]
	if !ok {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, biddingerrors.ErrLotNotFound)
	}
	return lot, nil
}

// AddLot adds or replaces a lot. Lot management belongs to the staff tooling; this is used for seeding and tests.
func (r *MemoryRepo) AddLot(lot model.Lot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lots[lot.LotID] = lot
}

// checkAdmissible is the ledger-side gate every write passes under the lot's write lock
func checkAdmissible(lot model.Lot, bid model.Bid, maxOther decimal.Decimal, found bool) error {
	if !lot.OpenAt(bid.CreatedAt) {
		return fmt.Errorf("insert bid for lot %s: %w", bid.LotID, biddingerrors.ErrLotClosed)
	}
	if found && bid.Amount.LessThanOrEqual(maxOther) {
		return fmt.Errorf("insert bid for lot %s: %w - other users hold %s", bid.LotID, biddingerrors.ErrBidTooLow, maxOther.StringFixed(2))
	}
	return nil
}
