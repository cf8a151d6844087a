// Package router holds the HTTP route table.
package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inaiurai/credits/internal/handlers"
	"github.com/inaiurai/credits/internal/middleware"
)

const base = "/api/v1"

// Handlers groups everything the route table dispatches to.
type Handlers struct {
	Account  *handlers.AccountHandler
	Purchase *handlers.PurchaseHandler
	Webhook  *handlers.WebhookHandler
	Admin    *handlers.AdminHandler
	Health   http.HandlerFunc
	// WebhookProvider names the path segment the processor posts to.
	WebhookProvider string
}

// New returns the API handler. auth wraps every route that needs a caller;
// webhooks, health and metrics are public.
func New(h Handlers, auth func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET "+base+"/packages", h.Purchase.ListPackages)
	mux.HandleFunc("POST "+base+"/payments/webhook/"+h.WebhookProvider, h.Webhook.Receive)

	authed := func(fn http.HandlerFunc) http.Handler { return auth(fn) }
	mux.Handle("GET "+base+"/profile", authed(h.Account.GetProfile))
	mux.Handle("PUT "+base+"/profile", authed(h.Account.UpdateProfile))
	mux.Handle("GET "+base+"/credits", authed(h.Account.GetBalance))
	mux.Handle("GET "+base+"/credits/history", authed(h.Account.ListHistory))
	mux.Handle("POST "+base+"/credits/spend", authed(h.Account.Spend))

	mux.Handle("GET "+base+"/purchases", authed(h.Purchase.ListPurchases))
	mux.Handle("POST "+base+"/purchases", authed(h.Purchase.CreatePurchase))
	mux.Handle("POST "+base+"/purchases/{id}/resume", authed(h.Purchase.ResumePurchase))

	admin := func(fn http.HandlerFunc) http.Handler { return auth(middleware.RequireAdmin(fn)) }
	mux.Handle("GET "+base+"/admin/users", admin(h.Admin.ListUsers))
	mux.Handle("PUT "+base+"/admin/users/{id}/role", admin(h.Admin.SetRole))
	mux.Handle("GET "+base+"/admin/purchases", admin(h.Admin.ListPurchases))

	return mux
}
