package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/notify"
)

const defaultBatch = 100

// Reconciler is the part of the reconciliation coordinator the sweeps drive.
type Reconciler interface {
	RecoverUncredited(ctx context.Context, limit int) (int, error)
	ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type PurchaseReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// --- credit recovery ---

type CreditRecoveryWorker struct {
	river.WorkerDefaults[CreditRecoveryArgs]
	rec Reconciler
	log *slog.Logger
}

func NewCreditRecoveryWorker(rec Reconciler, log *slog.Logger) *CreditRecoveryWorker {
	if log == nil {
		log = slog.Default()
	}
	return &CreditRecoveryWorker{rec: rec, log: log}
}

func (w *CreditRecoveryWorker) Work(ctx context.Context, job *river.Job[CreditRecoveryArgs]) error {
	limit := job.Args.Limit
	if limit <= 0 {
		limit = defaultBatch
	}
	n, err := w.rec.RecoverUncredited(ctx, limit)
	if n > 0 {
		w.log.Info("credit recovery sweep", "credited", n)
	}
	if err != nil {
		return fmt.Errorf("credit recovery: %w", err)
	}
	return nil
}

// --- pending poll ---

type PendingPollWorker struct {
	river.WorkerDefaults[PendingPollArgs]
	rec Reconciler
	log *slog.Logger
}

func NewPendingPollWorker(rec Reconciler, log *slog.Logger) *PendingPollWorker {
	if log == nil {
		log = slog.Default()
	}
	return &PendingPollWorker{rec: rec, log: log}
}

func (w *PendingPollWorker) Work(ctx context.Context, job *river.Job[PendingPollArgs]) error {
	limit := job.Args.Limit
	if limit <= 0 {
		limit = defaultBatch
	}
	n, err := w.rec.ReconcilePending(ctx, job.Args.OlderThan, limit)
	if n > 0 {
		w.log.Info("pending purchases settled by poll", "settled", n)
	}
	if err != nil {
		return fmt.Errorf("pending poll: %w", err)
	}
	return nil
}

// --- purchase receipt ---

type PurchaseReceiptWorker struct {
	river.WorkerDefaults[PurchaseReceiptArgs]
	purchases PurchaseReader
	users     UserReader
	mailer    notify.Mailer
}

func NewPurchaseReceiptWorker(purchases PurchaseReader, users UserReader, mailer notify.Mailer) *PurchaseReceiptWorker {
	return &PurchaseReceiptWorker{purchases: purchases, users: users, mailer: mailer}
}

func (w *PurchaseReceiptWorker) Work(ctx context.Context, job *river.Job[PurchaseReceiptArgs]) error {
	p, err := w.purchases.GetByID(ctx, job.Args.PurchaseID)
	if err != nil {
		return fmt.Errorf("load purchase: %w", err)
	}
	u, err := w.users.GetByID(ctx, job.Args.UserID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u.Email == "" {
		return nil
	}
	return w.mailer.SendReceipt(ctx, notify.Receipt{
		To:          u.Email,
		Name:        u.Name,
		PurchaseID:  p.ID.String(),
		PackageName: p.PackageName,
		Credits:     p.CreditsReceived,
		AmountPaid:  p.AmountPaid,
	})
}

// Schedule is how often the periodic sweeps run.
type Schedule struct {
	RecoveryInterval    time.Duration
	PendingPollInterval time.Duration
	PendingPollAge      time.Duration
}

// Register adds every worker to workers.
func Register(workers *river.Workers, rec Reconciler, purchases PurchaseReader, users UserReader, mailer notify.Mailer, log *slog.Logger) {
	river.AddWorker(workers, NewCreditRecoveryWorker(rec, log))
	river.AddWorker(workers, NewPendingPollWorker(rec, log))
	river.AddWorker(workers, NewPurchaseReceiptWorker(purchases, users, mailer))
}

// PeriodicJobs returns the sweeps for river.Config.PeriodicJobs. River runs
// them on the elected leader only.
func PeriodicJobs(s Schedule) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(s.RecoveryInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return CreditRecoveryArgs{Limit: defaultBatch}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(s.PendingPollInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return PendingPollArgs{OlderThan: s.PendingPollAge, Limit: defaultBatch}, nil
			},
			nil,
		),
	}
}
