package reconcile

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/db/dbtest"
	"github.com/inaiurai/credits/internal/gateway"
	"github.com/inaiurai/credits/internal/jobs"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/purchases"
)

// ---------------------------------------------------------------------------
// In-memory world
// ---------------------------------------------------------------------------

// world is the shared state behind the fakes. runTx serialises transactions
// and restores the state when fn fails, so the fakes roll back like Postgres.
type world struct {
	txMu sync.Mutex
	mu   sync.Mutex

	packages  map[uuid.UUID]*models.CreditPackage
	users     map[uuid.UUID]*models.User
	purchases map[uuid.UUID]models.Purchase
	balances  map[uuid.UUID]int
	receipts  []jobs.PurchaseReceiptArgs

	attachErr  error
	creditErrs int // Credit fails this many more times
}

func newWorld() *world {
	return &world{
		packages:  map[uuid.UUID]*models.CreditPackage{},
		users:     map[uuid.UUID]*models.User{},
		purchases: map[uuid.UUID]models.Purchase{},
		balances:  map[uuid.UUID]int{},
	}
}

func (w *world) runTx(ctx context.Context, fn func(pgx.Tx) error) error {
	w.txMu.Lock()
	defer w.txMu.Unlock()

	w.mu.Lock()
	purchases := maps.Clone(w.purchases)
	balances := maps.Clone(w.balances)
	receipts := len(w.receipts)
	w.mu.Unlock()

	if err := dbtest.RunInNoopTx(ctx, fn); err != nil {
		w.mu.Lock()
		w.purchases, w.balances, w.receipts = purchases, balances, w.receipts[:receipts]
		w.mu.Unlock()
		return err
	}
	return nil
}

func (w *world) insertReceipt(_ context.Context, _ pgx.Tx, args jobs.PurchaseReceiptArgs) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.receipts = append(w.receipts, args)
	return nil
}

func (w *world) addUser(email string) *models.User {
	u := &models.User{ID: uuid.New(), UID: "uid-" + email, Email: email, Role: models.RoleUser}
	w.users[u.ID] = u
	return u
}

func (w *world) addPackage(name string, credits int, price int64) *models.CreditPackage {
	p := &models.CreditPackage{ID: uuid.New(), Name: name, Credits: credits, Price: price, IsActive: true}
	w.packages[p.ID] = p
	return p
}

func (w *world) balance(userID uuid.UUID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID]
}

func (w *world) purchase(id uuid.UUID) models.Purchase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.purchases[id]
}

type memPackages struct{ w *world }

func (m memPackages) GetActive(_ context.Context, id uuid.UUID) (*models.CreditPackage, error) {
	p, ok := m.w.packages[id]
	if !ok || !p.IsActive {
		return nil, errors.New("package not found")
	}
	return p, nil
}

type memUsers struct{ w *world }

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := m.w.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

type memLedger struct{ w *world }

func (m memLedger) CreatePending(_ context.Context, userID uuid.UUID, snap models.PackageSnapshot) (*models.Purchase, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	p := models.Purchase{
		ID:              uuid.New(),
		UserID:          userID,
		PackageID:       snap.PackageID,
		PackageName:     snap.Name,
		AmountPaid:      snap.Price,
		CreditsReceived: snap.Credits,
		PaymentMethod:   snap.PaymentMethod,
		Status:          models.PurchaseStatusPending,
		CreatedAt:       time.Now(),
	}
	m.w.purchases[p.ID] = p
	return &p, nil
}

func (m memLedger) AttachExternalReference(_ context.Context, id uuid.UUID, paymentID string) error {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.attachErr != nil {
		return m.w.attachErr
	}
	p, ok := m.w.purchases[id]
	if !ok {
		return purchases.ErrNotFound
	}
	p.PaymentID = &paymentID
	m.w.purchases[id] = p
	return nil
}

func (m memLedger) Settle(_ context.Context, _ pgx.Tx, id uuid.UUID, outcome models.Outcome, ref string) (purchases.SettleResult, *models.Purchase, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	p, ok := m.w.purchases[id]
	if !ok {
		return purchases.NotFound, nil, nil
	}
	if p.Status != models.PurchaseStatusPending {
		return purchases.AlreadySettled, &p, nil
	}
	now := time.Now()
	p.Status = string(outcome)
	p.SettlementRef = &ref
	p.SettledAt = &now
	m.w.purchases[id] = p
	return purchases.Applied, &p, nil
}

func (m memLedger) MarkCredited(_ context.Context, _ pgx.Tx, id uuid.UUID) (bool, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	p, ok := m.w.purchases[id]
	if !ok || !p.NeedsCredit() {
		return false, nil
	}
	now := time.Now()
	p.CreditedAt = &now
	m.w.purchases[id] = p
	return true, nil
}

func (m memLedger) GetByID(_ context.Context, id uuid.UUID) (*models.Purchase, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	p, ok := m.w.purchases[id]
	if !ok {
		return nil, purchases.ErrNotFound
	}
	return &p, nil
}

func (m memLedger) FindByPaymentID(_ context.Context, paymentID string) (*models.Purchase, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	for _, p := range m.w.purchases {
		if p.PaymentID != nil && *p.PaymentID == paymentID {
			return &p, nil
		}
	}
	return nil, purchases.ErrNotFound
}

func (m memLedger) ListUncredited(_ context.Context, limit int) ([]*models.Purchase, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	var out []*models.Purchase
	for _, p := range m.w.purchases {
		if p.NeedsCredit() && len(out) < limit {
			out = append(out, &p)
		}
	}
	return out, nil
}

func (m memLedger) ListPendingOlderThan(_ context.Context, age time.Duration, limit int) ([]*models.Purchase, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	cutoff := time.Now().Add(-age)
	var out []*models.Purchase
	for _, p := range m.w.purchases {
		if p.Status == models.PurchaseStatusPending && !p.CreatedAt.After(cutoff) && len(out) < limit {
			out = append(out, &p)
		}
	}
	return out, nil
}

type memCredits struct{ w *world }

func (m memCredits) Credit(_ context.Context, _ pgx.Tx, userID uuid.UUID, amount int, _ *uuid.UUID, _, _ string) (int, error) {
	m.w.mu.Lock()
	defer m.w.mu.Unlock()
	if m.w.creditErrs > 0 {
		m.w.creditErrs--
		return 0, apperr.New(apperr.KindStorageTransient, "connection reset")
	}
	m.w.balances[userID] += amount
	return m.w.balances[userID], nil
}

// ---------------------------------------------------------------------------
// Fake gateway
// ---------------------------------------------------------------------------

type fakeGateway struct {
	mu        sync.Mutex
	nextID    string
	createErr error
	requests  []gateway.IntentRequest
	// payments is keyed by external reference.
	payments map[string]*gateway.Payment
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateIntent(_ context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &gateway.Intent{Provider: "fake", GatewayPaymentID: g.nextID, RedirectURL: "https://pay.example/" + g.nextID}, nil
}

func (g *fakeGateway) Lookup(_ context.Context, req gateway.LookupRequest) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.payments[req.ExternalReference]; ok {
		return p, nil
	}
	return nil, gateway.ErrNoPayment
}

func (g *fakeGateway) ParseWebhook(context.Context, []byte, http.Header, url.Values) (*gateway.Payment, error) {
	return nil, nil
}

func newCoordinator(w *world, gw *fakeGateway) *Coordinator {
	return New(Deps{
		Packages:      memPackages{w},
		Users:         memUsers{w},
		Ledger:        memLedger{w},
		Credits:       memCredits{w},
		Gateway:       gw,
		RunTx:         w.runTx,
		InsertReceipt: w.insertReceipt,
	}, Config{GatewayTimeout: time.Second, NotificationURL: "https://api.example/webhook"})
}

// ---------------------------------------------------------------------------
// InitiatePurchase / ResumePurchase
// ---------------------------------------------------------------------------

func TestInitiatePurchase_CreatesPendingAndAttaches(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	gw := &fakeGateway{nextID: "X"}
	c := newCoordinator(w, gw)

	p, intent, err := c.InitiatePurchase(context.Background(), user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)
	assert.Equal(t, "X", intent.GatewayPaymentID)
	assert.Equal(t, models.PurchaseStatusPending, p.Status)
	assert.Equal(t, int64(10000), p.AmountPaid)
	assert.Equal(t, 5, p.CreditsReceived)
	assert.Equal(t, "fake", p.PaymentMethod)

	stored := w.purchase(p.ID)
	require.NotNil(t, stored.PaymentID)
	assert.Equal(t, "X", *stored.PaymentID)

	require.Len(t, gw.requests, 1)
	req := gw.requests[0]
	assert.Equal(t, p.ID.String(), req.ExternalReference)
	assert.Equal(t, "ana@example.com", req.PayerEmail)
	assert.Equal(t, "https://api.example/webhook", req.NotificationURL)
	assert.Equal(t, int64(10000), req.Items[0].UnitPrice)
}

func TestInitiatePurchase_PriceIsSnapshotted(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Guerrero", 20, 30000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})

	p, _, err := c.InitiatePurchase(context.Background(), user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)

	pkg.Price, pkg.Credits = 99999, 1

	_, err = c.ApplySettlement(context.Background(), p.ID.String(), models.OutcomeApproved, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, 20, w.balance(user.ID))
	assert.Equal(t, int64(30000), w.purchase(p.ID).AmountPaid)
}

func TestInitiatePurchase_AttachFailureIsNotFatal(t *testing.T) {
	w := newWorld()
	w.attachErr = errors.New("db blip")
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})

	p, intent, err := c.InitiatePurchase(context.Background(), user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Nil(t, w.purchase(p.ID).PaymentID)

	// Settlement still resolves through the external reference.
	res, err := c.ApplySettlement(context.Background(), p.ID.String(), models.OutcomeApproved, "X")
	require.NoError(t, err)
	assert.True(t, res.Credited)
	assert.Equal(t, 5, w.balance(user.ID))
}

func TestInitiatePurchase_GatewayUnavailableLeavesPending(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	gw := &fakeGateway{createErr: gateway.Unavailable("create intent", context.DeadlineExceeded)}
	c := newCoordinator(w, gw)

	p, intent, err := c.InitiatePurchase(context.Background(), user.ID, pkg.ID, gateway.ReturnURLs{})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindGatewayUnavailable))
	assert.Nil(t, intent)
	require.NotNil(t, p)
	assert.Equal(t, models.PurchaseStatusPending, w.purchase(p.ID).Status)
	assert.Equal(t, 0, w.balance(user.ID))

	// Once the processor recovers the same purchase can be resumed.
	gw.createErr, gw.nextID = nil, "Y"
	_, intent, err = c.ResumePurchase(context.Background(), user.ID, p.ID, gateway.ReturnURLs{})
	require.NoError(t, err)
	assert.Equal(t, "Y", intent.GatewayPaymentID)
	assert.Equal(t, "Y", *w.purchase(p.ID).PaymentID)
}

func TestInitiatePurchase_UnknownPackage(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	gw := &fakeGateway{nextID: "X"}
	c := newCoordinator(w, gw)

	_, _, err := c.InitiatePurchase(context.Background(), user.ID, uuid.New(), gateway.ReturnURLs{})
	require.Error(t, err)
	assert.Empty(t, gw.requests)
	assert.Empty(t, w.purchases)
}

func TestResumePurchase_Guards(t *testing.T) {
	w := newWorld()
	owner := w.addUser("ana@example.com")
	other := w.addUser("bob@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})
	ctx := context.Background()

	p, _, err := c.InitiatePurchase(ctx, owner.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)

	_, _, err = c.ResumePurchase(ctx, other.ID, p.ID, gateway.ReturnURLs{})
	assert.ErrorIs(t, err, purchases.ErrNotFound)

	_, err = c.ApplySettlement(ctx, p.ID.String(), models.OutcomeRejected, "X")
	require.NoError(t, err)
	_, _, err = c.ResumePurchase(ctx, owner.ID, p.ID, gateway.ReturnURLs{})
	assert.ErrorIs(t, err, purchases.ErrNotPending)
}

// ---------------------------------------------------------------------------
// ApplySettlement
// ---------------------------------------------------------------------------

func TestApplySettlement_EndToEndDuplicateDelivery(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})
	ctx := context.Background()

	p, intent, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)
	require.Equal(t, "X", intent.GatewayPaymentID)

	first, err := c.ApplySettlement(ctx, p.ID.String(), models.OutcomeApproved, "X")
	require.NoError(t, err)
	assert.Equal(t, purchases.Applied, first.Ledger)
	assert.True(t, first.Credited)

	second, err := c.ApplySettlement(ctx, p.ID.String(), models.OutcomeApproved, "X")
	require.NoError(t, err)
	assert.Equal(t, purchases.AlreadySettled, second.Ledger)
	assert.False(t, second.Credited)

	assert.Equal(t, 5, w.balance(user.ID))
	assert.Equal(t, models.PurchaseStatusApproved, w.purchase(p.ID).Status)
	assert.Len(t, w.receipts, 1)
}

func TestApplySettlement_ConcurrentDeliveriesCreditOnce(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Guerrero", 20, 30000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})
	ctx := context.Background()

	p, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)

	const deliveries = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.ApplySettlement(ctx, p.ID.String(), models.OutcomeApproved, "X")
			if err != nil {
				return
			}
			if res.Ledger == purchases.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	assert.Equal(t, 20, w.balance(user.ID))
	assert.Len(t, w.receipts, 1)
}

func TestApplySettlement_RejectedGrantsNothing(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})
	ctx := context.Background()

	p, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)

	res, err := c.ApplySettlement(ctx, p.ID.String(), models.OutcomeRejected, "X")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusRejected, res.Status)
	assert.False(t, res.Credited)

	// A late approval cannot flip a settled purchase.
	res, err = c.ApplySettlement(ctx, p.ID.String(), models.OutcomeApproved, "X")
	require.NoError(t, err)
	assert.Equal(t, purchases.AlreadySettled, res.Ledger)
	assert.Equal(t, models.PurchaseStatusRejected, res.Status)
	assert.Equal(t, 0, w.balance(user.ID))
	assert.Empty(t, w.receipts)
}

func TestApplySettlement_PendingIsNoop(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})
	ctx := context.Background()

	p, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)

	res, err := c.ApplySettlement(ctx, p.ID.String(), models.OutcomePending, "X")
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusPending, res.Status)
	assert.Equal(t, models.PurchaseStatusPending, w.purchase(p.ID).Status)
	assert.Nil(t, w.purchase(p.ID).SettledAt)
}

func TestApplySettlement_ResolvesByPaymentID(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	c := newCoordinator(w, &fakeGateway{nextID: "pref-123"})
	ctx := context.Background()

	p, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)

	res, err := c.ApplySettlement(ctx, "pref-123", models.OutcomeApproved, "pay-9")
	require.NoError(t, err)
	assert.Equal(t, p.ID, res.PurchaseID)
	assert.Equal(t, 5, w.balance(user.ID))
}

func TestApplySettlement_UnknownReference(t *testing.T) {
	w := newWorld()
	c := newCoordinator(w, &fakeGateway{})

	_, err := c.ApplySettlement(context.Background(), uuid.NewString(), models.OutcomeApproved, "pay-1")
	assert.ErrorIs(t, err, purchases.ErrNotFound)

	_, err = c.ApplySettlement(context.Background(), "garbage", models.OutcomeApproved, "")
	assert.ErrorIs(t, err, purchases.ErrNotFound)
}

// ---------------------------------------------------------------------------
// Recovery
// ---------------------------------------------------------------------------

func TestApplySettlement_CreditFailureIsRecoverable(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})
	ctx := context.Background()

	p, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)

	w.creditErrs = 1
	res, err := c.ApplySettlement(ctx, p.ID.String(), models.OutcomeApproved, "X")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindStorageTransient))
	require.NotNil(t, res)
	assert.Equal(t, purchases.Applied, res.Ledger)

	stored := w.purchase(p.ID)
	assert.Equal(t, models.PurchaseStatusApproved, stored.Status)
	assert.Nil(t, stored.CreditedAt, "credited fence must roll back with the failed credit")
	assert.Equal(t, 0, w.balance(user.ID))

	n, err := c.RecoverUncredited(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, w.balance(user.ID))

	n, err = c.RecoverUncredited(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 5, w.balance(user.ID))
	assert.Len(t, w.receipts, 1)
}

func TestApplySettlement_RedeliveryCompletesCredit(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})
	ctx := context.Background()

	p, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)

	w.creditErrs = 1
	_, err = c.ApplySettlement(ctx, p.ID.String(), models.OutcomeApproved, "X")
	require.Error(t, err)

	res, err := c.ApplySettlement(ctx, p.ID.String(), models.OutcomeApproved, "X")
	require.NoError(t, err)
	assert.Equal(t, purchases.AlreadySettled, res.Ledger)
	assert.True(t, res.Credited)
	assert.Equal(t, 5, w.balance(user.ID))
}

func TestRecoverUncredited_ReportsPartialFailure(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	c := newCoordinator(w, &fakeGateway{nextID: "X"})
	ctx := context.Background()

	for range 2 {
		p, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
		require.NoError(t, err)
		w.creditErrs = 1
		_, err = c.ApplySettlement(ctx, p.ID.String(), models.OutcomeApproved, "")
		require.Error(t, err)
	}

	w.creditErrs = 1
	n, err := c.RecoverUncredited(ctx, 10)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, w.balance(user.ID))

	n, err = c.RecoverUncredited(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 10, w.balance(user.ID))
}

func TestReconcilePending_AppliesProcessorVerdicts(t *testing.T) {
	w := newWorld()
	user := w.addUser("ana@example.com")
	pkg := w.addPackage("Paquete Iniciación", 5, 10000)
	gw := &fakeGateway{nextID: "X", payments: map[string]*gateway.Payment{}}
	c := newCoordinator(w, gw)
	ctx := context.Background()

	approved, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)
	rejected, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)
	stillPending, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)
	unknown, _, err := c.InitiatePurchase(ctx, user.ID, pkg.ID, gateway.ReturnURLs{})
	require.NoError(t, err)

	gw.payments[approved.ID.String()] = &gateway.Payment{ID: "p1", ExternalReference: approved.ID.String(), Outcome: models.OutcomeApproved}
	gw.payments[rejected.ID.String()] = &gateway.Payment{ID: "p2", ExternalReference: rejected.ID.String(), Outcome: models.OutcomeRejected}
	gw.payments[stillPending.ID.String()] = &gateway.Payment{ID: "p3", ExternalReference: stillPending.ID.String(), Outcome: models.OutcomePending}

	n, err := c.ReconcilePending(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, models.PurchaseStatusApproved, w.purchase(approved.ID).Status)
	assert.Equal(t, models.PurchaseStatusRejected, w.purchase(rejected.ID).Status)
	assert.Equal(t, models.PurchaseStatusPending, w.purchase(stillPending.ID).Status)
	assert.Equal(t, models.PurchaseStatusPending, w.purchase(unknown.ID).Status)
	assert.Equal(t, 5, w.balance(user.ID))
}
