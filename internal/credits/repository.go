package credits

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/db"
	"github.com/inaiurai/credits/internal/models"
)

var (
	ErrInsufficientBalance = apperr.New(apperr.KindInsufficientBalance, "insufficient credits")
	ErrUserNotFound        = apperr.New(apperr.KindNotFound, "user not found")
	ErrInvalidAmount       = apperr.New(apperr.KindInvalid, "amount must be positive")
	// ErrAlreadyCredited is returned when a purchase already has its ledger
	// entry; the partial unique index on credit_ledger.purchase_id fires.
	ErrAlreadyCredited = apperr.New(apperr.KindConflict, "purchase already credited")
)

// Repository is the Credit Store. Every balance mutation goes through Debit or
// Credit, which change users.credits with a single conditional UPDATE and
// append a credit_ledger row in the same transaction.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, db.Classify("credits.Begin", err)
	}
	return tx, nil
}

// Debit runs inside the caller's transaction. The row lock taken by the UPDATE
// serializes concurrent debits for the same user, and the WHERE clause keeps
// the balance from going negative.
func (r *Repository) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE users SET credits = credits - $1, updated_at = now()
		WHERE id = $2 AND credits >= $1
		RETURNING credits
	`, amount, userID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return 0, db.Classify("credits.Debit", err)
		}
		if !exists {
			return 0, ErrUserNotFound
		}
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, db.Classify("credits.Debit", err)
	}

	err = r.appendEntry(ctx, tx, &models.CreditEntry{
		UserID:       userID,
		EntryType:    models.CreditEntrySpend,
		Amount:       -amount,
		BalanceAfter: newBalance,
		Reason:       reason,
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Credit adds amount to the user's balance inside the caller's transaction.
// It is not idempotent on its own; purchase credits are fenced by the caller
// and, as a last line, by the unique purchase_id ledger index.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, purchaseID *uuid.UUID, entryType, reason string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE users SET credits = credits + $1, updated_at = now()
		WHERE id = $2
		RETURNING credits
	`, amount, userID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, db.Classify("credits.Credit", err)
	}

	err = r.appendEntry(ctx, tx, &models.CreditEntry{
		UserID:       userID,
		PurchaseID:   purchaseID,
		EntryType:    entryType,
		Amount:       amount,
		BalanceAfter: newBalance,
		Reason:       reason,
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Balance is a read-committed point read.
func (r *Repository) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, db.Classify("credits.Balance", err)
	}
	return balance, nil
}

// History lists the user's ledger entries, newest first.
func (r *Repository) History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, purchase_id, entry_type, amount, balance_after, reason, created_at
		FROM credit_ledger WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, db.Classify("credits.History", err)
	}
	defer rows.Close()
	var list []*models.CreditEntry
	for rows.Next() {
		var e models.CreditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PurchaseID, &e.EntryType, &e.Amount, &e.BalanceAfter, &e.Reason, &e.CreatedAt); err != nil {
			return nil, db.Classify("credits.History", err)
		}
		list = append(list, &e)
	}
	return list, db.Classify("credits.History", rows.Err())
}

func (r *Repository) appendEntry(ctx context.Context, tx pgx.Tx, e *models.CreditEntry) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (user_id, purchase_id, entry_type, amount, balance_after, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, e.UserID, e.PurchaseID, e.EntryType, e.Amount, e.BalanceAfter, e.Reason).Scan(&e.ID, &e.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrAlreadyCredited
	}
	return db.Classify("credits.appendEntry", err)
}
