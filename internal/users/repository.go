// Package users stores user profiles and grants the signup bonus.
package users

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
	ErrNotFound    = apperr.New(apperr.KindNotFound, "user not found")
	ErrInvalidRole = apperr.New(apperr.KindInvalid, "invalid role")
	ErrMissingUID  = apperr.New(apperr.KindInvalid, "uid is required")
)

const userColumns = `id, uid, email, name, alias, avatar_id, role, credits, created_at, updated_at`

// Profile carries the fields an upsert may set. Nil fields are left as they
// are on an existing user and stored empty on a new one.
type Profile struct {
	UID      string
	Email    *string
	Name     *string
	Alias    *string
	AvatarID *string
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert creates the user on first sight of its uid or updates the given
// profile fields. The signup bonus is written by the INSERT branch only: the
// UPDATE branch never touches credits, and (xmax = 0) tells the two apart.
// It returns whether the row was created.
func (r *Repository) Upsert(ctx context.Context, p Profile) (*models.User, bool, error) {
	if p.UID == "" {
		return nil, false, ErrMissingUID
	}
	var (
		u        *models.User
		inserted bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		u, inserted, err = upsertTx(ctx, tx, p)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_ledger (user_id, entry_type, amount, balance_after, reason)
			VALUES ($1, 'signup_bonus', $2, $2, 'signup bonus')
		`, u.ID, models.SignupBonusCredits)
		return err
	})
	if err != nil {
		return nil, false, db.Classify("users.Upsert", err)
	}
	return u, inserted, nil
}

func upsertTx(ctx context.Context, tx pgx.Tx, p Profile) (*models.User, bool, error) {
	var u models.User
	var inserted bool
	err := tx.QueryRow(ctx, `
		INSERT INTO users (uid, email, name, alias, avatar_id, credits)
		VALUES ($1, COALESCE($2, ''), COALESCE($3, ''), COALESCE($4, ''), COALESCE($5, ''), $6)
		ON CONFLICT (uid) DO UPDATE SET
			email = COALESCE($2, users.email),
			name = COALESCE($3, users.name),
			alias = COALESCE($4, users.alias),
			avatar_id = COALESCE($5, users.avatar_id),
			updated_at = now()
		RETURNING `+userColumns+`, (xmax = 0) AS inserted
	`, p.UID, p.Email, p.Name, p.Alias, p.AvatarID, models.SignupBonusCredits).Scan(
		&u.ID, &u.UID, &u.Email, &u.Name, &u.Alias, &u.AvatarID, &u.Role, &u.Credits, &u.CreatedAt, &u.UpdatedAt, &inserted)
	if err != nil {
		return nil, false, err
	}
	return &u, inserted, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getOne(ctx, "users.GetByID", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *Repository) GetByUID(ctx context.Context, uid string) (*models.User, error) {
	return r.getOne(ctx, "users.GetByUID", `SELECT `+userColumns+` FROM users WHERE uid = $1`, uid)
}

// EnsureUser returns the user for uid, creating it on first use.
func (r *Repository) EnsureUser(ctx context.Context, uid, email string) (*models.User, error) {
	u, err := r.GetByUID(ctx, uid)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	p := Profile{UID: uid}
	if email != "" {
		p.Email = &email
	}
	u, _, err = r.Upsert(ctx, p)
	return u, err
}

// SetRole changes a user's role. Credits are untouched.
func (r *Repository) SetRole(ctx context.Context, id uuid.UUID, role string) (*models.User, error) {
	switch role {
	case models.RoleUser, models.RoleAdmin, models.RoleModerator:
	default:
		return nil, ErrInvalidRole
	}
	return r.getOne(ctx, "users.SetRole", `
		UPDATE users SET role = $2, updated_at = now() WHERE id = $1
		RETURNING `+userColumns, id, role)
}

// List returns users, newest first, for the admin view.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, db.Classify("users.List", err)
	}
	defer rows.Close()
	var list []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.UID, &u.Email, &u.Name, &u.Alias, &u.AvatarID, &u.Role, &u.Credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, db.Classify("users.List", err)
		}
		list = append(list, &u)
	}
	return list, db.Classify("users.List", rows.Err())
}

func (r *Repository) getOne(ctx context.Context, op, sql string, args ...any) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, sql, args...).Scan(
		&u.ID, &u.UID, &u.Email, &u.Name, &u.Alias, &u.AvatarID, &u.Role, &u.Credits, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, db.Classify(op, err)
	}
	return &u, nil
}
