package credits

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/db"
	"github.com/inaiurai/credits/internal/metrics"
	"github.com/inaiurai/credits/internal/models"
)

// Action is a paid operation a user can spend credits on.
type Action string

const (
	ActionAnalyze  Action = "analyze"
	ActionGenerate Action = "generate"
	ActionEdit     Action = "edit"
)

var ErrUnknownAction = apperr.New(apperr.KindInvalid, "unknown action")

// Costs is the credit price of each action.
type Costs struct {
	Analysis   int
	Generation int
}

// For returns the price of action. Edits are charged as generations.
func (c Costs) For(action Action) (int, error) {
	switch action {
	case ActionAnalyze:
		return c.Analysis, nil
	case ActionGenerate, ActionEdit:
		return c.Generation, nil
	default:
		return 0, ErrUnknownAction
	}
}

// Store is the subset of Repository the service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, reason string) (int, error)
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditEntry, error)
}

type Service interface {
	Spend(ctx context.Context, userID uuid.UUID, amount int, reason string) (int, error)
	SpendAction(ctx context.Context, userID uuid.UUID, action Action) (balance, cost int, err error)
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
	History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditEntry, error)
}

type service struct {
	store Store
	costs Costs
	log   *slog.Logger
}

func NewService(store Store, costs Costs, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, costs: costs, log: log}
}

var _ Service = (*service)(nil)

// Spend debits amount in its own transaction and returns the new balance.
func (s *service) Spend(ctx context.Context, userID uuid.UUID, amount int, reason string) (int, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	balance, err := s.store.Debit(ctx, tx, userID, amount, reason)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			metrics.DebitsRejected.WithLabelValues("insufficient_balance").Inc()
		}
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, db.Classify("credits.Spend", err)
	}
	metrics.CreditsSpent.Add(float64(amount))
	s.log.Info("credits spent", "user_id", userID, "amount", amount, "reason", reason, "balance", balance)
	return balance, nil
}

func (s *service) SpendAction(ctx context.Context, userID uuid.UUID, action Action) (int, int, error) {
	cost, err := s.costs.For(action)
	if err != nil {
		return 0, 0, err
	}
	balance, err := s.Spend(ctx, userID, cost, string(action))
	if err != nil {
		return 0, cost, err
	}
	return balance, cost, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.Balance(ctx, userID)
}

func (s *service) History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.CreditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.History(ctx, userID, limit)
}
