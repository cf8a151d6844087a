// Package catalog stores the credit packages users can buy. Packages are
// never deleted: reseeding upserts by name and deactivates what is gone, so
// purchases keep pointing at real rows.
package catalog

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
	ErrNotFound       = apperr.New(apperr.KindNotFound, "package not found")
	ErrInvalidPackage = apperr.New(apperr.KindInvalid, "package needs a name, positive credits and a positive price")
)

const packageColumns = `id, name, credits, price, is_active, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetActive returns the package only if it can currently be bought.
func (r *Repository) GetActive(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	p, err := scanPackage(r.pool.QueryRow(ctx, `
		SELECT `+packageColumns+` FROM credit_packages WHERE id = $1 AND is_active
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, db.Classify("catalog.GetActive", err)
	}
	return p, nil
}

// ListActive returns purchasable packages, cheapest first.
func (r *Repository) ListActive(ctx context.Context) ([]*models.CreditPackage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+packageColumns+` FROM credit_packages WHERE is_active ORDER BY price, name
	`)
	if err != nil {
		return nil, db.Classify("catalog.ListActive", err)
	}
	defer rows.Close()
	var list []*models.CreditPackage
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, db.Classify("catalog.ListActive", err)
		}
		list = append(list, p)
	}
	return list, db.Classify("catalog.ListActive", rows.Err())
}

// UpsertByName creates the package or updates its economics in place and
// reactivates it. Existing purchases are unaffected because they carry their
// own snapshot.
func (r *Repository) UpsertByName(ctx context.Context, tx pgx.Tx, name string, credits int, price int64) (*models.CreditPackage, error) {
	if name == "" || credits <= 0 || price <= 0 {
		return nil, ErrInvalidPackage
	}
	p, err := scanPackage(tx.QueryRow(ctx, `
		INSERT INTO credit_packages (name, credits, price, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (name) DO UPDATE
		SET credits = EXCLUDED.credits, price = EXCLUDED.price, is_active = true, updated_at = now()
		RETURNING `+packageColumns,
		name, credits, price))
	if err != nil {
		return nil, db.Classify("catalog.UpsertByName", err)
	}
	return p, nil
}

// DeactivateExcept marks every active package whose name is not in keep as
// inactive and returns how many rows changed.
func (r *Repository) DeactivateExcept(ctx context.Context, tx pgx.Tx, keep []string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE credit_packages SET is_active = false, updated_at = now()
		WHERE is_active AND NOT (name = ANY($1))
	`, keep)
	if err != nil {
		return 0, db.Classify("catalog.DeactivateExcept", err)
	}
	return tag.RowsAffected(), nil
}

func scanPackage(row pgx.Row) (*models.CreditPackage, error) {
	var p models.CreditPackage
	if err := row.Scan(&p.ID, &p.Name, &p.Credits, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
