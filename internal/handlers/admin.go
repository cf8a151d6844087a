package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/models"
)

type AdminUserStore interface {
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	SetRole(ctx context.Context, id uuid.UUID, role string) (*models.User, error)
}

type AdminPurchaseLister interface {
	ListAll(ctx context.Context, limit, offset int) ([]*models.Purchase, error)
}

// AdminHandler serves the /api/v1/admin endpoints. Routes are wrapped in
// middleware.RequireAdmin.
type AdminHandler struct {
	Users     AdminUserStore
	Purchases AdminPurchaseLister
}

// --- GET /api/v1/admin/users ---

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.Users.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.User{}
	}
	writeJSON(w, http.StatusOK, list)
}

// --- PUT /api/v1/admin/users/{id}/role ---

type setRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user admin moderator"`
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, apperr.New(apperr.KindInvalid, "invalid user id"))
		return
	}
	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.Users.SetRole(r.Context(), id, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- GET /api/v1/admin/purchases ---

func (h *AdminHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.Purchases.ListAll(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Purchase{}
	}
	writeJSON(w, http.StatusOK, list)
}

func page(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit", 50, 500); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset", 0, 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
