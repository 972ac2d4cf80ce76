package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"plate-auction/internal/biddingerrors"
	model "plate-auction/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Helper to create a new open Lot
func newLot(lotID string) model.Lot {
	return model.Lot{
		LotID:       lotID,
		PlateNumber: "P" + lotID,
		Description: fmt.Sprintf("%s description", lotID),
		Deadline:    time.Now().Add(24 * time.Hour),
		Active:      true,
		OwnerID:     "staff1",
	}
}

// Helper to create a new Bid
func newBid(bidID, lotID, userID, amount string, createdAt time.Time) model.Bid {
	return model.Bid{
		BidID:     bidID,
		LotID:     lotID,
		UserID:    userID,
		Amount:    decimal.RequireFromString(amount),
		CreatedAt: createdAt,
	}
}

func seededRepo(lotIDs ...string) *MemoryRepo {
	repo := NewMemoryRepo()
	for _, id := range lotIDs {
		repo.AddLot(newLot(id))
	}
	return repo
}

// Test InsertOrUpdate
func TestMemoryRepo_InsertOrUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()

	tests := []struct {
		name      string
		existing  []model.Bid
		bid       model.Bid
		wantError error
	}{
		{
			name: "first_bid_inserted",
			bid:  newBid("bid1", "lot1", "user1", "100.00", now),
		},
		{
			name:      "lot_not_found",
			bid:       newBid("bid1", "lotX", "user1", "100.00", now),
			wantError: biddingerrors.ErrLotNotFound,
		},
		{
			name:     "same_row_updated_in_place",
			existing: []model.Bid{newBid("bid1", "lot1", "user1", "100.00", now)},
			bid:      newBid("bid1", "lot1", "user1", "250.50", now.Add(time.Minute)),
		},
		{
			name:      "second_row_for_same_pair_rejected",
			existing:  []model.Bid{newBid("bid1", "lot1", "user1", "100.00", now)},
			bid:       newBid("bid2", "lot1", "user1", "300.00", now),
			wantError: biddingerrors.ErrConstraintViolation,
		},
		{
			name:      "existing_id_moved_to_other_user_rejected",
			existing:  []model.Bid{newBid("bid1", "lot1", "user1", "100.00", now)},
			bid:       newBid("bid1", "lot1", "user2", "300.00", now),
			wantError: biddingerrors.ErrConstraintViolation,
		},
		{
			name:     "same_user_other_lot_allowed",
			existing: []model.Bid{newBid("bid1", "lot1", "user1", "100.00", now)},
			bid:      newBid("bid2", "lot2", "user1", "100.00", now),
		},
		{
			name:      "not_above_other_users_rejected",
			existing:  []model.Bid{newBid("bid1", "lot1", "user1", "100.00", now)},
			bid:       newBid("bid2", "lot1", "user2", "100.00", now),
			wantError: biddingerrors.ErrBidTooLow,
		},
		{
			name:     "own_row_ignored_in_comparison",
			existing: []model.Bid{newBid("bid1", "lot1", "user1", "100.00", now)},
			bid:      newBid("bid1", "lot1", "user1", "50.00", now),
		},
		{
			name:      "written_after_deadline_rejected",
			bid:       newBid("bid1", "lot1", "user1", "100.00", now.Add(48*time.Hour)),
			wantError: biddingerrors.ErrLotClosed,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			repo := seededRepo("lot1", "lot2")
			for _, b := range tc.existing {
				_, err := repo.InsertOrUpdate(ctx, b)
				require.NoError(t, err)
			}

			stored, err := repo.InsertOrUpdate(ctx, tc.bid)
			if tc.wantError != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.wantError), "expected error: %v, got: %v", tc.wantError, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.bid, stored)

			got, err := repo.Get(ctx, tc.bid.BidID)
			require.NoError(t, err)
			require.True(t, tc.bid.Amount.Equal(got.Amount))

			userBids, err := repo.ListByUser(ctx, tc.bid.UserID)
			require.NoError(t, err)
			perLot := map[string]int{}
			for _, b := range userBids {
				perLot[b.LotID]++
			}
			for lotID, n := range perLot {
				require.Equal(t, 1, n, "user has more than one bid on %s", lotID)
			}
		})
	}

	t.Run("cancelled_context_leaves_no_row", func(t *testing.T) {
		t.Parallel()

		repo := seededRepo("lot1")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := repo.InsertOrUpdate(cctx, newBid("bid1", "lot1", "user1", "10.00", now))
		require.ErrorIs(t, err, context.Canceled)

		_, err = repo.Get(ctx, "bid1")
		require.ErrorIs(t, err, biddingerrors.ErrBidNotFound)
	})

	t.Run("concurrent_inserts_same_pair_keep_one_row", func(t *testing.T) {
		t.Parallel()

		repo := seededRepo("lot1")
		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			successes  int
			violations int
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			i := i
			go func() {
				defer wg.Done()
				_, err := repo.InsertOrUpdate(ctx, newBid(fmt.Sprintf("bid-%d", i), "lot1", "user1", "100.00", now))
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
				} else if errors.Is(err, biddingerrors.ErrConstraintViolation) {
					violations++
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, successes)
		require.Equal(t, 49, violations)
		bids, err := repo.ListByLot(ctx, "lot1")
		require.NoError(t, err)
		require.Len(t, bids, 1)
	})
}

// Test MaxAmountExcluding
func TestMemoryRepo_MaxAmountExcluding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	repo := seededRepo("lot1", "lot2")
	for _, b := range []model.Bid{
		newBid("bid1", "lot1", "user1", "100.00", now),
		newBid("bid3", "lot1", "user3", "120.00", now),
		newBid("bid2", "lot1", "user2", "150.00", now),
		newBid("bid4", "lot2", "user1", "999.99", now),
	} {
		_, err := repo.InsertOrUpdate(ctx, b)
		require.NoError(t, err)
	}

	tests := []struct {
		name      string
		lotID     string
		exclude   string
		wantFound bool
		wantMax   string
	}{
		{name: "excluding_nobody", lotID: "lot1", exclude: "", wantFound: true, wantMax: "150.00"},
		{name: "excluding_leader", lotID: "lot1", exclude: "user2", wantFound: true, wantMax: "120.00"},
		{name: "excluding_non_bidder", lotID: "lot1", exclude: "user9", wantFound: true, wantMax: "150.00"},
		{name: "only_own_bid", lotID: "lot2", exclude: "user1", wantFound: false},
		{name: "empty_lot", lotID: "lot3", exclude: "user1", wantFound: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			maxOther, found, err := repo.MaxAmountExcluding(ctx, tc.lotID, tc.exclude)
			require.NoError(t, err)
			require.Equal(t, tc.wantFound, found)
			if tc.wantFound {
				require.True(t, decimal.RequireFromString(tc.wantMax).Equal(maxOther), "want %s, got %s", tc.wantMax, maxOther)
			}
		})
	}
}

// Test HighestBid and Delete
func TestMemoryRepo_HighestBidAfterDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	repo := seededRepo("lot1")

	_, err := repo.HighestBid(ctx, "lot1")
	require.ErrorIs(t, err, biddingerrors.ErrNoBids)

	for _, b := range []model.Bid{
		newBid("bid1", "lot1", "user1", "100.00", now),
		newBid("bid2", "lot1", "user2", "150.00", now.Add(time.Second)),
		newBid("bid3", "lot1", "user3", "200.00", now.Add(2*time.Second)),
	} {
		_, err := repo.InsertOrUpdate(ctx, b)
		require.NoError(t, err)
	}

	highest, err := repo.HighestBid(ctx, "lot1")
	require.NoError(t, err)
	require.Equal(t, "bid3", highest.BidID)

	require.NoError(t, repo.Delete(ctx, "bid3"))
	highest, err = repo.HighestBid(ctx, "lot1")
	require.NoError(t, err)
	require.Equal(t, "bid2", highest.BidID)
	require.Equal(t, "150.00", highest.Amount.StringFixed(2))

	err = repo.Delete(ctx, "bid3")
	require.ErrorIs(t, err, biddingerrors.ErrBidNotFound)

	// the pair is free again after delete
	_, err = repo.InsertOrUpdate(ctx, newBid("bid3b", "lot1", "user3", "300.00", now))
	require.NoError(t, err)
}

// Test listing
func TestMemoryRepo_Listings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	repo := seededRepo("lot1", "lot2")
	for _, b := range []model.Bid{
		newBid("bid1", "lot1", "user1", "100.00", now),
		newBid("bid2", "lot1", "user2", "150.00", now.Add(time.Second)),
		newBid("bid3", "lot2", "user1", "50.00", now.Add(2*time.Second)),
	} {
		_, err := repo.InsertOrUpdate(ctx, b)
		require.NoError(t, err)
	}

	byLot, err := repo.ListByLot(ctx, "lot1")
	require.NoError(t, err)
	require.Len(t, byLot, 2)
	require.Equal(t, "bid1", byLot[0].BidID)
	require.Equal(t, "bid2", byLot[1].BidID)

	byUser, err := repo.ListByUser(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	require.Equal(t, "bid3", byUser[0].BidID, "newest first")

	none, err := repo.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)

	own, err := repo.GetByUserAndLot(ctx, "user2", "lot1")
	require.NoError(t, err)
	require.Equal(t, "bid2", own.BidID)

	_, err = repo.GetByUserAndLot(ctx, "user2", "lot2")
	require.ErrorIs(t, err, biddingerrors.ErrBidNotFound)

	// a revision rewrites CreatedAt, moving the row behind later placements
	_, err = repo.InsertOrUpdate(ctx, newBid("bid1", "lot1", "user1", "200.00", now.Add(3*time.Second)))
	require.NoError(t, err)
	byLot, err = repo.ListByLot(ctx, "lot1")
	require.NoError(t, err)
	require.Equal(t, []string{"bid2", "bid1"}, []string{byLot[0].BidID, byLot[1].BidID})
}

// Test GetLot
func TestMemoryRepo_GetLot(t *testing.T) {
	t.Parallel()

	repo := seededRepo("lot1")

	lot, err := repo.GetLot(context.Background(), "lot1")
	require.NoError(t, err)
	require.Equal(t, "lot1", lot.LotID)
	require.True(t, lot.OpenAt(time.Now()))
	require.False(t, lot.OpenAt(lot.Deadline))

	_, err = repo.GetLot(context.Background(), "missing")
	require.ErrorIs(t, err, biddingerrors.ErrLotNotFound)
	require.ErrorIs(t, err, biddingerrors.ErrNotFound)
}
