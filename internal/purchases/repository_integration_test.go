package purchases

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/credits/internal/db/dbtest"
	"github.com/inaiurai/credits/internal/models"
)

func seed(t *testing.T, pool *pgxpool.Pool) (userID uuid.UUID, pkg models.CreditPackage) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO users (uid, credits) VALUES ($1, 0) RETURNING id`, uuid.NewString()).Scan(&userID))
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO credit_packages (name, credits, price) VALUES ($1, 5, 10000)
		RETURNING id, name, credits, price, is_active`, "Pack "+uuid.NewString()).
		Scan(&pkg.ID, &pkg.Name, &pkg.Credits, &pkg.Price, &pkg.IsActive))
	return userID, pkg
}

func snapshot(pkg models.CreditPackage) models.PackageSnapshot {
	s := pkg.Snapshot()
	s.PaymentMethod = "mercadopago"
	return s
}

func TestCreatePending_SnapshotIsolation(t *testing.T) {
	pool := dbtest.Open(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	userID, pkg := seed(t, pool)

	p, err := repo.CreatePending(ctx, userID, snapshot(pkg))
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusPending, p.Status)
	assert.Nil(t, p.PaymentID)

	_, err = pool.Exec(ctx, `UPDATE credit_packages SET price = 99999, credits = 1 WHERE id = $1`, pkg.ID)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, got.AmountPaid)
	assert.Equal(t, 5, got.CreditsReceived)
}

func TestAttachExternalReference_OnlyWhilePending(t *testing.T) {
	pool := dbtest.Open(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	userID, pkg := seed(t, pool)

	p, err := repo.CreatePending(ctx, userID, snapshot(pkg))
	require.NoError(t, err)
	require.NoError(t, repo.AttachExternalReference(ctx, p.ID, "pref-123"))

	found, err := repo.FindByPaymentID(ctx, "pref-123")
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	require.NoError(t, pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		_, _, err := repo.Settle(ctx, tx, p.ID, models.OutcomeRejected, "")
		return err
	}))
	assert.ErrorIs(t, repo.AttachExternalReference(ctx, p.ID, "pref-456"), ErrNotPending)
}

func TestSettle_ConcurrentCallsApplyOnce(t *testing.T) {
	pool := dbtest.Open(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	userID, pkg := seed(t, pool)

	p, err := repo.CreatePending(ctx, userID, snapshot(pkg))
	require.NoError(t, err)

	const n = 8
	results := make(chan SettleResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
				res, _, err := repo.Settle(ctx, tx, p.ID, models.OutcomeApproved, "pay-1")
				results <- res
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(results)

	counts := map[SettleResult]int{}
	for r := range results {
		counts[r]++
	}
	assert.Equal(t, 1, counts[Applied])
	assert.Equal(t, n-1, counts[AlreadySettled])
}

func TestSettle_TerminalIsFinalAndUnknownIsNotFound(t *testing.T) {
	pool := dbtest.Open(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	userID, pkg := seed(t, pool)
	p, err := repo.CreatePending(ctx, userID, snapshot(pkg))
	require.NoError(t, err)

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		res, got, err := repo.Settle(ctx, tx, p.ID, models.OutcomeRejected, "")
		require.NoError(t, err)
		assert.Equal(t, Applied, res)
		assert.Equal(t, models.PurchaseStatusRejected, got.Status)

		res, got, err = repo.Settle(ctx, tx, p.ID, models.OutcomeApproved, "")
		require.NoError(t, err)
		assert.Equal(t, AlreadySettled, res)
		assert.Equal(t, models.PurchaseStatusRejected, got.Status)

		res, _, err = repo.Settle(ctx, tx, uuid.New(), models.OutcomeApproved, "")
		require.NoError(t, err)
		assert.Equal(t, NotFound, res)

		_, _, err = repo.Settle(ctx, tx, p.ID, models.OutcomePending, "")
		assert.ErrorIs(t, err, ErrInvalidOutcome)
		return nil
	})
	require.NoError(t, err)
}

func TestMarkCredited_FenceAndSweepQuery(t *testing.T) {
	pool := dbtest.Open(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	userID, pkg := seed(t, pool)
	p, err := repo.CreatePending(ctx, userID, snapshot(pkg))
	require.NoError(t, err)

	require.NoError(t, pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		_, _, err := repo.Settle(ctx, tx, p.ID, models.OutcomeApproved, "pay-9")
		return err
	}))

	uncredited, err := repo.ListUncredited(ctx, 10)
	require.NoError(t, err)
	require.Len(t, uncredited, 1)
	assert.Equal(t, p.ID, uncredited[0].ID)

	require.NoError(t, pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		ok, err := repo.MarkCredited(ctx, tx, p.ID)
		assert.True(t, ok)
		return err
	}))
	require.NoError(t, pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		ok, err := repo.MarkCredited(ctx, tx, p.ID)
		assert.False(t, ok)
		return err
	}))

	uncredited, err = repo.ListUncredited(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, uncredited)
}

func TestListPendingOlderThan(t *testing.T) {
	pool := dbtest.Open(t)
	repo := NewRepository(pool)
	ctx := context.Background()
	userID, pkg := seed(t, pool)
	p, err := repo.CreatePending(ctx, userID, snapshot(pkg))
	require.NoError(t, err)

	fresh, err := repo.ListPendingOlderThan(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	_, err = pool.Exec(ctx, `UPDATE purchases SET created_at = now() - interval '2 hours' WHERE id = $1`, p.ID)
	require.NoError(t, err)
	stale, err := repo.ListPendingOlderThan(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, p.ID, stale[0].ID)
}
