package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/credits/internal/credits"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/users"
)

// ProfileStore is the subset of the user repository the profile endpoints need.
type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Upsert(ctx context.Context, p users.Profile) (*models.User, bool, error)
}

// AccountHandler serves the caller's profile and credit balance.
type AccountHandler struct {
	Users   ProfileStore
	Credits credits.Service
}

// --- GET /api/v1/profile ---

func (h *AccountHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	fresh, err := h.Users.GetByID(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fresh)
}

// --- PUT /api/v1/profile ---

type updateProfileRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=120"`
	Alias    *string `json:"alias" validate:"omitempty,max=60"`
	AvatarID *string `json:"avatar_id" validate:"omitempty,max=120"`
}

func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	updated, _, err := h.Users.Upsert(r.Context(), users.Profile{
		UID:      u.UID,
		Name:     req.Name,
		Alias:    req.Alias,
		AvatarID: req.AvatarID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- GET /api/v1/credits ---

type balanceResponse struct {
	Credits int `json:"credits"`
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	bal, err := h.Credits.Balance(r.Context(), u.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Credits: bal})
}

// --- GET /api/v1/credits/history ---

func (h *AccountHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
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
	entries, err := h.Credits.History(r.Context(), u.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.CreditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- POST /api/v1/credits/spend ---

type spendRequest struct {
	Action string `json:"action" validate:"required,oneof=analyze generate edit"`
}

type spendResponse struct {
	Credits int `json:"credits"`
	Cost    int `json:"cost"`
}

// Spend charges the caller for one paid action. 402 means the balance does
// not cover it and nothing was charged.
func (h *AccountHandler) Spend(w http.ResponseWriter, r *http.Request) {
	u := middleware.UserFromCtx(r.Context())
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var req spendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	bal, cost, err := h.Credits.SpendAction(r.Context(), u.ID, credits.Action(req.Action))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, spendResponse{Credits: bal, Cost: cost})
}
