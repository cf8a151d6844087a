package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"

	"github.com/inaiurai/credits/internal/auth"
	"github.com/inaiurai/credits/internal/catalog"
	"github.com/inaiurai/credits/internal/config"
	"github.com/inaiurai/credits/internal/credits"
	"github.com/inaiurai/credits/internal/db"
	"github.com/inaiurai/credits/internal/gateway"
	"github.com/inaiurai/credits/internal/gateway/mercadopago"
	"github.com/inaiurai/credits/internal/gateway/stripe"
	"github.com/inaiurai/credits/internal/jobs"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/notify"
	"github.com/inaiurai/credits/internal/purchases"
	"github.com/inaiurai/credits/internal/reconcile"
	"github.com/inaiurai/credits/internal/router"
	"github.com/inaiurai/credits/internal/users"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found; relying on existing environment")
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Check DATABASE_URL and that the server is running", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}
	if err := db.MigrateRiver(ctx, pool); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	// Repositories
	userRepo := users.NewRepository(pool)
	creditRepo := credits.NewRepository(pool)
	purchaseRepo := purchases.NewRepository(pool)
	catalogRepo := catalog.NewRepository(pool)

	creditSvc := credits.NewService(creditRepo, credits.Costs{
		Analysis:   cfg.Costs.Analysis,
		Generation: cfg.Costs.Generation,
	}, logger)

	gw, err := newGateway(cfg.Payments, logger)
	if err != nil {
		slog.Error("Payment gateway init failed", "provider", cfg.Payments.Provider, "error", err)
		os.Exit(1)
	}

	verifier, closeVerifier, err := auth.New(cfg.Auth, logger)
	if err != nil {
		slog.Error("Identity verifier init failed", "mode", cfg.Auth.Mode, "error", err)
		os.Exit(1)
	}
	defer closeVerifier()

	// Receipt jobs are inserted inside the crediting transaction; the insert
	// func is set after the River client exists.
	var insertMu sync.Mutex
	var insertFn reconcile.InsertReceiptTxFunc
	insertReceipt := func(ctx context.Context, tx pgx.Tx, args jobs.PurchaseReceiptArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	coordinator := reconcile.New(reconcile.Deps{
		Packages: catalogRepo,
		Users:    userRepo,
		Ledger:   purchaseRepo,
		Credits:  creditRepo,
		Gateway:  gw,
		RunTx: func(ctx context.Context, fn func(pgx.Tx) error) error {
			return pgx.BeginFunc(ctx, pool, fn)
		},
		InsertReceipt: insertReceipt,
		Log:           logger,
	}, reconcile.Config{
		GatewayTimeout:  cfg.Payments.GatewayTimeout,
		NotificationURL: webhookURL(cfg.APIBaseURL, gw.Name()),
	})

	workers := river.NewWorkers()
	jobs.Register(workers, coordinator, purchaseRepo, userRepo, notify.New(cfg.SMTP, logger), logger)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: jobs.PeriodicJobs(jobs.Schedule{
			RecoveryInterval:    cfg.Jobs.RecoveryInterval,
			PendingPollInterval: cfg.Jobs.PendingPollInterval,
			PendingPollAge:      cfg.Jobs.PendingPollAge,
		}),
		Logger: logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args jobs.PurchaseReceiptArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	api := router.New(buildHandlers(cfg, pool, gw, coordinator, creditSvc, userRepo, purchaseRepo, catalogRepo),
		middleware.Authenticate(verifier, userRepo))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler(api)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           middleware.RequestLog(logger)(corsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start River client (processes jobs). Stopped explicitly on shutdown.
	if err := riverClient.Start(context.Background()); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "provider", gw.Name(), "auth_mode", cfg.Auth.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown error", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River client stop failed", "error", err)
	}
}

func newGateway(cfg config.PaymentsConfig, log *slog.Logger) (gateway.Client, error) {
	switch cfg.Provider {
	case config.ProviderStripe:
		return stripe.New(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeCurrency, log), nil
	default:
		c, err := mercadopago.New(cfg.MPAccessToken, log)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

func webhookURL(apiBase, provider string) string {
	return apiBase + "/api/v1/payments/webhook/" + provider
}
