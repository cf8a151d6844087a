package main

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/credits/internal/catalog"
	"github.com/inaiurai/credits/internal/config"
	"github.com/inaiurai/credits/internal/credits"
	"github.com/inaiurai/credits/internal/gateway"
	"github.com/inaiurai/credits/internal/handlers"
	"github.com/inaiurai/credits/internal/purchases"
	"github.com/inaiurai/credits/internal/reconcile"
	"github.com/inaiurai/credits/internal/router"
	"github.com/inaiurai/credits/internal/users"
)

// buildHandlers wires the repositories and services into the HTTP handlers.
func buildHandlers(
	cfg config.Config,
	pool *pgxpool.Pool,
	gw gateway.Client,
	coordinator *reconcile.Coordinator,
	creditSvc credits.Service,
	userRepo *users.Repository,
	purchaseRepo *purchases.Repository,
	catalogRepo *catalog.Repository,
) router.Handlers {
	return router.Handlers{
		Account: &handlers.AccountHandler{
			Users:   userRepo,
			Credits: creditSvc,
		},
		Purchase: &handlers.PurchaseHandler{
			Packages:    catalogRepo,
			Purchases:   purchaseRepo,
			Coordinator: coordinator,
			DefaultReturnURLs: gateway.ReturnURLs{
				Success: cfg.PublicBaseURL + "/purchases/success",
				Failure: cfg.PublicBaseURL + "/purchases/failure",
				Pending: cfg.PublicBaseURL + "/purchases/pending",
			},
		},
		Webhook: &handlers.WebhookHandler{
			Gateway: gw,
			Settler: coordinator,
		},
		Admin: &handlers.AdminHandler{
			Users:     userRepo,
			Purchases: purchaseRepo,
		},
		Health:          handlers.Health(pool),
		WebhookProvider: gw.Name(),
	}
}
