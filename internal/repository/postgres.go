package repository

import (
	"context"
	"errors"
	"fmt"

	"plate-auction/internal/biddingerrors"
	model "plate-auction/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	uniqueViolationCode = "23505"
	userLotConstraint   = "bids_user_lot_key"
	foreignKeyCode      = "23503"
)

const bidColumns = `id, lot_id, user_id, amount::text, created_at`

// PostgresRepo implements BidLedger and LotStore on top of a pgx connection pool
type PostgresRepo struct {
	DB *pgxpool.Pool
}

// NewPostgresRepo creates a new PostgresRepo
func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBid(row rowScanner) (model.Bid, error) {
	var (
		bid    model.Bid
		amount string
	)
	if err := row.Scan(&bid.BidID, &bid.LotID, &bid.UserID, &amount, &bid.CreatedAt); err != nil {
		return model.Bid{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return model.Bid{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	bid.Amount = parsed
	bid.CreatedAt = bid.CreatedAt.UTC()
	return bid, nil
}

func collectBids(rows pgx.Rows) ([]model.Bid, error) {
	defer rows.Close()

	bids := make([]model.Bid, 0)
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// InsertOrUpdate writes the bid inside a single transaction. The lot row is locked first, so writers on the
// same lot serialize across every process sharing the database, and the lot gate and the other users' maximum
// are re-read under that lock before the write. The (user, lot) row is then locked so an update never races a
// concurrent delete; a concurrent first insert surfaces as ErrConstraintViolation.
func (r *PostgresRepo) InsertOrUpdate(ctx context.Context, bid model.Bid) (model.Bid, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return model.Bid{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	lot := model.Lot{LotID: bid.LotID}
	err = tx.QueryRow(ctx,
		`SELECT deadline, is_active FROM lots WHERE id = $1 FOR UPDATE`,
		bid.LotID).Scan(&lot.Deadline, &lot.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("insert bid for lot %s: %w", bid.LotID, biddingerrors.ErrLotNotFound)
	}
	if err != nil {
		return model.Bid{}, fmt.Errorf("lock lot %s: %w", bid.LotID, err)
	}

	maxOther, found, err := maxAmountExcluding(ctx, tx, bid.LotID, bid.UserID)
	if err != nil {
		return model.Bid{}, err
	}
	if err := checkAdmissible(lot, bid, maxOther, found); err != nil {
		return model.Bid{}, err
	}

	var existingID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM bids WHERE user_id = $1 AND lot_id = $2 FOR UPDATE`,
		bid.UserID, bid.LotID).Scan(&existingID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO bids (id, lot_id, user_id, amount, created_at) VALUES ($1, $2, $3, $4::numeric, $5)`,
			bid.BidID, bid.LotID, bid.UserID, bid.Amount.String(), bid.CreatedAt)
		if err != nil {
			return model.Bid{}, translatePgError(err, bid)
		}
	case err != nil:
		return model.Bid{}, fmt.Errorf("lock bid on lot %s: %w", bid.LotID, err)
	case existingID != bid.BidID:
		return model.Bid{}, fmt.Errorf("insert bid for lot %s by user %s: %w", bid.LotID, bid.UserID, biddingerrors.ErrConstraintViolation)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE bids SET amount = $2::numeric, created_at = $3 WHERE id = $1`,
			bid.BidID, bid.Amount.String(), bid.CreatedAt)
		if err != nil {
			return model.Bid{}, translatePgError(err, bid)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Bid{}, translatePgError(err, bid)
	}
	return bid, nil
}

func translatePgError(err error, bid model.Bid) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolationCode && (pgErr.ConstraintName == userLotConstraint || pgErr.ConstraintName == ""):
			return fmt.Errorf("insert bid for lot %s by user %s: %w", bid.LotID, bid.UserID, biddingerrors.ErrConstraintViolation)
		case pgErr.Code == foreignKeyCode:
			return fmt.Errorf("insert bid for lot %s: %w", bid.LotID, biddingerrors.ErrLotNotFound)
		}
	}
	return fmt.Errorf("write bid %s: %w", bid.BidID, err)
}

// MaxAmountExcluding returns the highest amount on a lot among bids not owned by excludeUserID
func (r *PostgresRepo) MaxAmountExcluding(ctx context.Context, lotID, excludeUserID string) (decimal.Decimal, bool, error) {
	return maxAmountExcluding(ctx, r.DB, lotID, excludeUserID)
}

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func maxAmountExcluding(ctx context.Context, q rowQuerier, lotID, excludeUserID string) (decimal.Decimal, bool, error) {
	var amount *string
	err := q.QueryRow(ctx,
		`SELECT MAX(amount)::text FROM bids WHERE lot_id = $1 AND user_id <> $2`,
		lotID, excludeUserID).Scan(&amount)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("max amount for lot %s: %w", lotID, err)
	}
	if amount == nil {
		return decimal.Decimal{}, false, nil
	}
	maxOther, err := decimal.NewFromString(*amount)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("parse amount %q: %w", *amount, err)
	}
	return maxOther, true, nil
}

// HighestBid returns the highest bid for a lot
func (r *PostgresRepo) HighestBid(ctx context.Context, lotID string) (model.Bid, error) {
	row := r.DB.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE lot_id = $1 ORDER BY amount DESC LIMIT 1`, lotID)
	bid, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("get highest bid for lot %s: %w", lotID, biddingerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, fmt.Errorf("get highest bid for lot %s: %w", lotID, err)
	}
	return bid, nil
}

// Get returns a bid by id
func (r *PostgresRepo) Get(ctx context.Context, bidID string) (model.Bid, error) {
	bid, err := scanBid(r.DB.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, bidID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("get bid %s: %w", bidID, biddingerrors.ErrBidNotFound)
	}
	if err != nil {
		return model.Bid{}, fmt.Errorf("get bid %s: %w", bidID, err)
	}
	return bid, nil
}

// GetByUserAndLot returns the single bid a user holds on a lot
func (r *PostgresRepo) GetByUserAndLot(ctx context.Context, userID, lotID string) (model.Bid, error) {
	bid, err := scanBid(r.DB.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE user_id = $1 AND lot_id = $2`, userID, lotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("get bid on lot %s by user %s: %w", lotID, userID, biddingerrors.ErrBidNotFound)
	}
	if err != nil {
		return model.Bid{}, fmt.Errorf("get bid on lot %s by user %s: %w", lotID, userID, err)
	}
	return bid, nil
}

// ListByUser returns all bids of a user, newest first
func (r *PostgresRepo) ListByUser(ctx context.Context, userID string) ([]model.Bid, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bids for user %s: %w", userID, err)
	}
	return collectBids(rows)
}

// ListByLot returns all bids for a lot ordered by created_at, which a revision moves to the revision time
func (r *PostgresRepo) ListByLot(ctx context.Context, lotID string) ([]model.Bid, error) {
	rows, err := r.DB.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE lot_id = $1 ORDER BY created_at ASC`, lotID)
	if err != nil {
		return nil, fmt.Errorf("list bids for lot %s: %w", lotID, err)
	}
	return collectBids(rows)
}

// Delete removes a bid
func (r *PostgresRepo) Delete(ctx context.Context, bidID string) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM bids WHERE id = $1`, bidID)
	if err != nil {
		return fmt.Errorf("delete bid %s: %w", bidID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete bid %s: %w", bidID, biddingerrors.ErrBidNotFound)
	}
	return nil
}

// GetLot returns a lot by id
func (r *PostgresRepo) GetLot(ctx context.Context, lotID string) (model.Lot, error) {
	var (
		lot         model.Lot
		description *string
		ownerID     *string
	)
	err := r.DB.QueryRow(ctx,
		`SELECT id, plate_number, description, deadline, is_active, created_by_id FROM lots WHERE id = $1`,
		lotID).Scan(&lot.LotID, &lot.PlateNumber, &description, &lot.Deadline, &lot.Active, &ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, biddingerrors.ErrLotNotFound)
	}
	if err != nil {
		return model.Lot{}, fmt.Errorf("get lot %s: %w", lotID, err)
	}
	if description != nil {
		lot.Description = *description
	}
	if ownerID != nil {
		lot.OwnerID = *ownerID
	}
	lot.Deadline = lot.Deadline.UTC()
	return lot, nil
}

// AddLot inserts or replaces a lot row. Used for seeding and tests.
func (r *PostgresRepo) AddLot(ctx context.Context, lot model.Lot) error {
	_, err := r.DB.Exec(ctx,
		`INSERT INTO lots (id, plate_number, description, deadline, is_active, created_by_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET plate_number = EXCLUDED.plate_number, description = EXCLUDED.description,
		 deadline = EXCLUDED.deadline, is_active = EXCLUDED.is_active, created_by_id = EXCLUDED.created_by_id`,
		lot.LotID, lot.PlateNumber, lot.Description, lot.Deadline, lot.Active, lot.OwnerID)
	if err != nil {
		return fmt.Errorf("add lot %s: %w", lot.LotID, err)
	}
	return nil
}
