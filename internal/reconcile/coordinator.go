// Package reconcile is the only place that touches both the purchase ledger
// and the credit store in one logical operation. It owns every transaction
// boundary between them.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/credits/internal/gateway"
	"github.com/inaiurai/credits/internal/jobs"
	"github.com/inaiurai/credits/internal/metrics"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/purchases"
)

type PackageReader interface {
	GetActive(ctx context.Context, id uuid.UUID) (*models.CreditPackage, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Ledger is the purchase ledger as the coordinator uses it.
type Ledger interface {
	CreatePending(ctx context.Context, userID uuid.UUID, snap models.PackageSnapshot) (*models.Purchase, error)
	AttachExternalReference(ctx context.Context, purchaseID uuid.UUID, paymentID string) error
	Settle(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID, outcome models.Outcome, settlementRef string) (purchases.SettleResult, *models.Purchase, error)
	MarkCredited(ctx context.Context, tx pgx.Tx, purchaseID uuid.UUID) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Purchase, error)
	ListUncredited(ctx context.Context, limit int) ([]*models.Purchase, error)
	ListPendingOlderThan(ctx context.Context, age time.Duration, limit int) ([]*models.Purchase, error)
}

// CreditStore is the credit primitive the coordinator applies approvals with.
type CreditStore interface {
	Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, purchaseID *uuid.UUID, entryType, reason string) (int, error)
}

// TxRunner runs fn in a transaction, committing when it returns nil. In
// production it is pgx.BeginFunc over the pool.
type TxRunner func(ctx context.Context, fn func(pgx.Tx) error) error

// InsertReceiptTxFunc enqueues a receipt job inside the crediting transaction.
// Provided by main using river.Client.InsertTx.
type InsertReceiptTxFunc func(ctx context.Context, tx pgx.Tx, args jobs.PurchaseReceiptArgs) error

type Config struct {
	// GatewayTimeout bounds every call to the payment processor.
	GatewayTimeout time.Duration
	// NotificationURL is where the processor posts settlement webhooks.
	NotificationURL string
}

// Deps groups the coordinator's collaborators.
type Deps struct {
	Packages      PackageReader
	Users         UserReader
	Ledger        Ledger
	Credits       CreditStore
	Gateway       gateway.Client
	RunTx         TxRunner
	InsertReceipt InsertReceiptTxFunc
	Log           *slog.Logger
}

type Coordinator struct {
	packages      PackageReader
	users         UserReader
	ledger        Ledger
	credits       CreditStore
	gw            gateway.Client
	runTx         TxRunner
	insertReceipt InsertReceiptTxFunc
	cfg           Config
	log           *slog.Logger
}

func New(d Deps, cfg Config) *Coordinator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		packages:      d.Packages,
		users:         d.Users,
		ledger:        d.Ledger,
		credits:       d.Credits,
		gw:            d.Gateway,
		runTx:         d.RunTx,
		insertReceipt: d.InsertReceipt,
		cfg:           cfg,
		log:           log.With("component", "reconcile", "provider", d.Gateway.Name()),
	}
}

// InitiatePurchase records a pending purchase for the package and asks the
// processor for a checkout. The pending row is committed before the gateway
// call, so a timeout or crash leaves it recoverable. On a gateway failure the
// purchase is returned together with the error.
func (c *Coordinator) InitiatePurchase(ctx context.Context, userID, packageID uuid.UUID, urls gateway.ReturnURLs) (*models.Purchase, *gateway.Intent, error) {
	pkg, err := c.packages.GetActive(ctx, packageID)
	if err != nil {
		return nil, nil, err
	}
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	snap := pkg.Snapshot()
	snap.PaymentMethod = c.gw.Name()
	p, err := c.ledger.CreatePending(ctx, user.ID, snap)
	if err != nil {
		return nil, nil, err
	}
	log := c.log.With("purchase_id", p.ID, "user_id", user.ID)
	log.Info("purchase created", "package", p.PackageName, "amount", p.AmountPaid, "credits", p.CreditsReceived)

	intent, err := c.openIntent(ctx, p, user.Email, urls)
	if err != nil {
		metrics.PurchasesInitiated.WithLabelValues("gateway_error").Inc()
		log.Warn("gateway intent failed; purchase left pending", "error", err)
		return p, nil, err
	}
	metrics.PurchasesInitiated.WithLabelValues("ok").Inc()
	return p, intent, nil
}

// ResumePurchase opens a fresh checkout for a purchase of userID that is
// still pending, typically after a GatewayUnavailable on initiation.
func (c *Coordinator) ResumePurchase(ctx context.Context, userID, purchaseID uuid.UUID, urls gateway.ReturnURLs) (*models.Purchase, *gateway.Intent, error) {
	p, err := c.ledger.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, nil, err
	}
	if p.UserID != userID {
		return nil, nil, purchases.ErrNotFound
	}
	if p.Status != models.PurchaseStatusPending {
		return p, nil, purchases.ErrNotPending
	}
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	intent, err := c.openIntent(ctx, p, user.Email, urls)
	if err != nil {
		return p, nil, err
	}
	return p, intent, nil
}

// openIntent calls the processor with the purchase id as external reference
// and then tries to store the processor's id on the row. A failed attach is
// logged only: settlement still resolves through the external reference.
func (c *Coordinator) openIntent(ctx context.Context, p *models.Purchase, email string, urls gateway.ReturnURLs) (*gateway.Intent, error) {
	gwCtx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
	defer cancel()
	intent, err := c.gw.CreateIntent(gwCtx, gateway.IntentRequest{
		Items:             []gateway.Item{{Title: p.PackageName, Quantity: 1, UnitPrice: p.AmountPaid}},
		ReturnURLs:        urls,
		ExternalReference: p.ID.String(),
		NotificationURL:   c.cfg.NotificationURL,
		PayerEmail:        email,
	})
	if err != nil {
		return nil, err
	}

	attachCtx, cancelAttach := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelAttach()
	if err := c.ledger.AttachExternalReference(attachCtx, p.ID, intent.GatewayPaymentID); err != nil {
		metrics.AttachFailures.Inc()
		c.log.Warn("attach external reference failed", "purchase_id", p.ID, "gateway_payment_id", intent.GatewayPaymentID, "error", err)
	} else {
		id := intent.GatewayPaymentID
		p.PaymentID = &id
	}
	return intent, nil
}

// Result describes what ApplySettlement did.
type Result struct {
	PurchaseID uuid.UUID
	Ledger     purchases.SettleResult
	Status     string
	// Credited is true when this call moved the purchase's credits onto the
	// user's balance.
	Credited bool
}

// ApplySettlement applies a processor verdict. Deliveries are at-least-once
// and may repeat or race: the pending->terminal transition happens at most
// once, and credits are applied at most once behind the credited fence. When
// crediting fails the purchase stays approved-but-uncredited and the error is
// returned; a redelivery or the recovery sweep retries only that step.
func (c *Coordinator) ApplySettlement(ctx context.Context, externalRef string, outcome models.Outcome, settlementRef string) (*Result, error) {
	id, err := c.resolve(ctx, externalRef, settlementRef)
	if err != nil {
		return nil, err
	}
	log := c.log.With("purchase_id", id, "outcome", outcome, "settlement_ref", settlementRef)

	if !outcome.Terminal() {
		metrics.Settlements.WithLabelValues(string(outcome), "ignored").Inc()
		log.Info("non-terminal verdict ignored")
		return &Result{PurchaseID: id, Status: models.PurchaseStatusPending}, nil
	}

	var (
		res purchases.SettleResult
		p   *models.Purchase
	)
	err = c.runTx(ctx, func(tx pgx.Tx) error {
		var err error
		res, p, err = c.ledger.Settle(ctx, tx, id, outcome, settlementRef)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("settle purchase %s: %w", id, err)
	}
	metrics.Settlements.WithLabelValues(string(outcome), res.String()).Inc()
	if res == purchases.NotFound {
		return nil, purchases.ErrNotFound
	}

	result := &Result{PurchaseID: id, Ledger: res, Status: p.Status}
	switch {
	case res == purchases.Applied:
		log.Info("purchase settled", "status", p.Status)
	case p.Status != string(outcome):
		log.Warn("conflicting verdict for settled purchase", "status", p.Status)
	default:
		log.Info("duplicate settlement ignored", "status", p.Status)
	}

	if p.NeedsCredit() {
		credited, err := c.creditApproved(ctx, p)
		if err != nil {
			log.Error("credit application failed; left for recovery", "error", err)
			return result, err
		}
		result.Credited = credited
	}
	return result, nil
}

// RecoverUncredited credits approved purchases whose credit step never
// committed. It returns how many it credited.
func (c *Coordinator) RecoverUncredited(ctx context.Context, limit int) (int, error) {
	list, err := c.ledger.ListUncredited(ctx, limit)
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, p := range list {
		credited, err := c.creditApproved(ctx, p)
		if err != nil {
			c.log.Error("recovery credit failed", "purchase_id", p.ID, "error", err)
			errs = append(errs, fmt.Errorf("purchase %s: %w", p.ID, err))
			continue
		}
		if credited {
			n++
			metrics.Recovered.Inc()
			c.log.Info("purchase credited by recovery", "purchase_id", p.ID, "user_id", p.UserID, "credits", p.CreditsReceived)
		}
	}
	return n, errors.Join(errs...)
}

// ReconcilePending asks the processor about purchases pending for longer
// than olderThan and applies any terminal verdict. It returns how many
// purchases it settled.
func (c *Coordinator) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	list, err := c.ledger.ListPendingOlderThan(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, p := range list {
		req := gateway.LookupRequest{ExternalReference: p.ID.String()}
		if p.PaymentID != nil {
			req.IntentID = *p.PaymentID
		}
		gwCtx, cancel := context.WithTimeout(ctx, c.cfg.GatewayTimeout)
		pay, err := c.gw.Lookup(gwCtx, req)
		cancel()
		if errors.Is(err, gateway.ErrNoPayment) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("lookup %s: %w", p.ID, err))
			continue
		}
		if !pay.Outcome.Terminal() {
			continue
		}
		res, err := c.ApplySettlement(ctx, p.ID.String(), pay.Outcome, pay.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Ledger == purchases.Applied {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// creditApproved is the credit step of a settlement. MarkCredited, the
// balance credit and the receipt job commit together; if MarkCredited finds
// the purchase already credited nothing else runs.
func (c *Coordinator) creditApproved(ctx context.Context, p *models.Purchase) (bool, error) {
	var (
		credited bool
		balance  int
	)
	err := c.runTx(ctx, func(tx pgx.Tx) error {
		ok, err := c.ledger.MarkCredited(ctx, tx, p.ID)
		if err != nil || !ok {
			return err
		}
		purchaseID := p.ID
		balance, err = c.credits.Credit(ctx, tx, p.UserID, p.CreditsReceived, &purchaseID, models.CreditEntryPurchase, p.PackageName)
		if err != nil {
			return err
		}
		if c.insertReceipt != nil {
			if err := c.insertReceipt(ctx, tx, jobs.PurchaseReceiptArgs{PurchaseID: p.ID, UserID: p.UserID}); err != nil {
				return fmt.Errorf("enqueue receipt: %w", err)
			}
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if credited {
		metrics.CreditsGranted.WithLabelValues(models.CreditEntryPurchase).Add(float64(p.CreditsReceived))
		c.log.Info("purchase credited", "purchase_id", p.ID, "user_id", p.UserID, "credits", p.CreditsReceived, "balance", balance)
	}
	return credited, nil
}

// resolve maps the processor's reference to a purchase id. The reference is
// normally the purchase id itself; processor ids stored on the row are the
// fallback.
func (c *Coordinator) resolve(ctx context.Context, externalRef, settlementRef string) (uuid.UUID, error) {
	if id, err := uuid.Parse(externalRef); err == nil {
		p, err := c.ledger.GetByID(ctx, id)
		if err == nil {
			return p.ID, nil
		}
		if !errors.Is(err, purchases.ErrNotFound) {
			return uuid.Nil, err
		}
	}
	for _, key := range []string{externalRef, settlementRef} {
		if key == "" {
			continue
		}
		p, err := c.ledger.FindByPaymentID(ctx, key)
		if err == nil {
			return p.ID, nil
		}
		if !errors.Is(err, purchases.ErrNotFound) {
			return uuid.Nil, err
		}
	}
	return uuid.Nil, purchases.ErrNotFound
}
