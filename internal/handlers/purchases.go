package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/gateway"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/models"
)

// PurchaseCoordinator opens checkouts for purchases.
type PurchaseCoordinator interface {
	InitiatePurchase(ctx context.Context, userID, packageID uuid.UUID, urls gateway.ReturnURLs) (*models.Purchase, *gateway.Intent, error)
	ResumePurchase(ctx context.Context, userID, purchaseID uuid.UUID, urls gateway.ReturnURLs) (*models.Purchase, *gateway.Intent, error)
}

type PurchaseLister interface {
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Purchase, error)
}

type PackageLister interface {
	ListActive(ctx context.Context) ([]*models.CreditPackage, error)
}

// PurchaseHandler serves the package catalog and the caller's purchases.
type PurchaseHandler struct {
	Packages    PackageLister
	Purchases   PurchaseLister
	Coordinator PurchaseCoordinator
	// DefaultReturnURLs is used for any return URL the client leaves empty.
	DefaultReturnURLs gateway.ReturnURLs
}

// --- GET /api/v1/packages ---

func (h *PurchaseHandler) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.Packages.ListActive(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if pkgs == nil {
		pkgs = []*models.CreditPackage{}
	}
	writeJSON(w, http.StatusOK, pkgs)
}

// --- POST /api/v1/purchases ---

type createPurchaseRequest struct {
	PackageID  string             `json:"package_id" validate:"required,uuid"`
	ReturnURLs gateway.ReturnURLs `json:"return_urls"`
}

type resumePurchaseRequest struct {
	ReturnURLs gateway.ReturnURLs `json:"return_urls"`
}

type checkoutResponse struct {
	Purchase *models.Purchase `json:"purchase"`
	Checkout *gateway.Intent  `json:"checkout"`
}

// CreatePurchase records a pending purchase and returns where to pay. When
// the processor fails the purchase id is still returned so the client can
// resume it.
func (h *PurchaseHandler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var req createPurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pkgID := uuid.MustParse(req.PackageID)

	p, intent, err := h.Coordinator.InitiatePurchase(r.Context(), u.ID, pkgID, h.returnURLs(req.ReturnURLs))
	if err != nil {
		h.writeCheckoutError(w, r, p, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{Purchase: p, Checkout: intent})
}

// --- POST /api/v1/purchases/{id}/resume ---

func (h *PurchaseHandler) ResumePurchase(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindInvalid, "invalid purchase id"))
		return
	}
	var req resumePurchaseRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	p, intent, err := h.Coordinator.ResumePurchase(r.Context(), u.ID, id, h.returnURLs(req.ReturnURLs))
	if err != nil {
		h.writeCheckoutError(w, r, p, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{Purchase: p, Checkout: intent})
}

// --- GET /api/v1/purchases ---

func (h *PurchaseHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	limit, err := queryInt(r, "limit", 50, 200)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.Purchases.ListByUser(r.Context(), u.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Purchase{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *PurchaseHandler) returnURLs(in gateway.ReturnURLs) gateway.ReturnURLs {
	if in.Success == "" {
		in.Success = h.DefaultReturnURLs.Success
	}
	if in.Failure == "" {
		in.Failure = h.DefaultReturnURLs.Failure
	}
	if in.Pending == "" {
		in.Pending = h.DefaultReturnURLs.Pending
	}
	return in
}

func (h *PurchaseHandler) writeCheckoutError(w http.ResponseWriter, r *http.Request, p *models.Purchase, err error) {
	if p == nil {
		writeError(w, r, err)
		return
	}
	kind := apperr.KindOf(err)
	middleware.Logger(r.Context()).Warn("checkout not opened", "purchase_id", p.ID, "kind", kind.String(), "error", err)
	body := map[string]any{
		"error":       apperr.PublicMessage(err),
		"code":        kind.String(),
		"purchase_id": p.ID,
		"status":      p.Status,
	}
	writeJSON(w, kind.HTTPStatus(), body)
}
