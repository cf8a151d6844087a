// Package purchases is the Purchase Ledger: one row per top-up attempt, moved
// from pending to a terminal status exactly once.
package purchases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/db"
	"github.com/inaiurai/credits/internal/models"
)

var (
	ErrNotFound       = apperr.New(apperr.KindNotFound, "purchase not found")
	ErrInvalidOutcome = apperr.New(apperr.KindInvalid, "settlement outcome must be approved or rejected")
	ErrNotPending     = apperr.New(apperr.KindConflict, "purchase is no longer pending")
)

// SettleResult reports what Settle did.
type SettleResult int

const (
	// Applied means this call moved the purchase out of pending.
	Applied SettleResult = iota + 1
	// AlreadySettled means an earlier call won; nothing changed.
	AlreadySettled
	// NotFound means no purchase has the given id.
	NotFound
)

func (r SettleResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case AlreadySettled:
		return "already_settled"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

const purchaseColumns = `id, user_id, package_id, package_name, amount_paid, credits_received, payment_method,
	status, payment_id, settlement_ref, settled_at, credited_at, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreatePending records a new top-up attempt priced from snap. The row is
// committed before any gateway call so a timeout leaves it recoverable.
func (r *Repository) CreatePending(ctx context.Context, userID uuid.UUID, snap models.PackageSnapshot) (*models.Purchase, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO purchases (user_id, package_id, package_name, amount_paid, credits_received, payment_method, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING `+purchaseColumns,
		userID, snap.PackageID, snap.Name, snap.Price, snap.Credits, snap.PaymentMethod)
	p, err := scanPurchase(row)
	if err != nil {
		return nil, db.Classify("purchases.CreatePending", err)
	}
	return p, nil
}

// AttachExternalReference stores the gateway's payment id on a pending
// purchase. It runs outside any caller transaction.
func (r *Repository) AttachExternalReference(ctx context.Context, purchaseID uuid.UUID, paymentID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE purchases SET payment_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, purchaseID, paymentID)
	if err != nil {
		return db.Classify("purchases.AttachExternalReference", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

// Settle moves a pending purchase to approved or rejected inside tx. The
// status predicate makes the check-and-set atomic: of any number of
// concurrent calls exactly one sees Applied.
func (r *Repository) Settle(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID, outcome models.Outcome, settlementRef string) (SettleResult, *models.Purchase, error) {
	if !outcome.Terminal() {
		return 0, nil, ErrInvalidOutcome
	}
	var ref *string
	if settlementRef != "" {
		ref = &settlementRef
	}
	row := tx.QueryRow(ctx, `
		UPDATE purchases
		SET status = $2, settlement_ref = COALESCE($3, settlement_ref), settled_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+purchaseColumns,
		purchaseID, string(outcome), ref)
	p, err := scanPurchase(row)
	if err == nil {
		return Applied, p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, db.Classify("purchases.Settle", err)
	}

	p, err = scanPurchase(tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, purchaseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound, nil, nil
	}
	if err != nil {
		return 0, nil, db.Classify("purchases.Settle", err)
	}
	return AlreadySettled, p, nil
}

// MarkCredited sets the credited flag on an approved purchase inside tx. It
// returns false when the purchase is not approved or was already credited;
// the row lock held until commit serializes concurrent callers.
func (r *Repository) MarkCredited(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE purchases SET credited_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'approved' AND credited_at IS NULL
	`, purchaseID)
	if err != nil {
		return false, db.Classify("purchases.MarkCredited", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, db.Classify("purchases.GetByID", err)
	}
	return p, nil
}

// FindByPaymentID resolves a purchase from the gateway id attached after
// intent creation.
func (r *Repository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Purchase, error) {
	p, err := scanPurchase(r.pool.QueryRow(ctx, `
		SELECT `+purchaseColumns+` FROM purchases WHERE payment_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, paymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, db.Classify("purchases.FindByPaymentID", err)
	}
	return p, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Purchase, error) {
	return r.list(ctx, "purchases.ListByUser", `
		SELECT `+purchaseColumns+` FROM purchases WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
}

// ListAll returns every purchase, newest first, for the admin view.
func (r *Repository) ListAll(ctx context.Context, limit, offset int) ([]*models.Purchase, error) {
	return r.list(ctx, "purchases.ListAll", `
		SELECT `+purchaseColumns+` FROM purchases
		ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
}

// ListUncredited returns approved purchases whose credits never reached the
// user's balance, oldest settlement first.
func (r *Repository) ListUncredited(ctx context.Context, limit int) ([]*models.Purchase, error) {
	return r.list(ctx, "purchases.ListUncredited", `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE status = 'approved' AND credited_at IS NULL
		ORDER BY settled_at LIMIT $1
	`, limit)
}

// ListPendingOlderThan returns purchases still pending after age.
func (r *Repository) ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]*models.Purchase, error) {
	return r.list(ctx, "purchases.ListPendingOlderThan", `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE status = 'pending' AND created_at < now() - make_interval(secs => $1)
		ORDER BY created_at LIMIT $2
	`, age.Seconds(), limit)
}

func (r *Repository) list(ctx context.Context, op, sql string, args ...any) ([]*models.Purchase, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, db.Classify(op, err)
	}
	defer rows.Close()
	var list []*models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, db.Classify(op, fmt.Errorf("scan: %w", err))
		}
		list = append(list, p)
	}
	return list, db.Classify(op, rows.Err())
}

func scanPurchase(row pgx.Row) (*models.Purchase, error) {
	var p models.Purchase
	err := row.Scan(&p.ID, &p.UserID, &p.PackageID, &p.PackageName, &p.AmountPaid, &p.CreditsReceived, &p.PaymentMethod,
		&p.Status, &p.PaymentID, &p.SettlementRef, &p.SettledAt, &p.CreditedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
