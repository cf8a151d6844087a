package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/auth"
	"github.com/inaiurai/credits/internal/models"
)

type contextKey string

const (
	ctxUserKey     contextKey = "user"
	ctxIdentityKey contextKey = "identity"
)

// UserResolver maps a verified identity to the local user, creating the user
// (and its signup bonus) on first use.
type UserResolver interface {
	EnsureUser(ctx context.Context, uid, email string) (*models.User, error)
}

// Authenticate verifies the Bearer credential and sets the identity and the
// local user into request context.
func Authenticate(verifier auth.Verifier, users UserResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}

			id, err := verifier.Verify(r.Context(), raw)
			if err != nil {
				Logger(r.Context()).Info("credential rejected", "error", err)
				writeError(w, http.StatusUnauthorized, apperr.PublicMessage(auth.ErrInvalidCredential))
				return
			}

			user, err := users.EnsureUser(r.Context(), id.UID, id.Email)
			if err != nil {
				Logger(r.Context()).Error("resolve user", "uid", id.UID, "error", err)
				writeError(w, apperr.KindOf(err).HTTPStatus(), apperr.PublicMessage(err))
				return
			}

			ctx := WithIdentity(r.Context(), id)
			ctx = WithUser(ctx, user)
			ctx = withLogAttrs(ctx, "uid", id.UID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects requests whose user is not an admin. It must run after
// Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := UserFromCtx(r.Context())
		if u == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !u.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromCtx returns the authenticated user or nil.
func UserFromCtx(ctx context.Context) *models.User {
	u, _ := ctx.Value(ctxUserKey).(*models.User)
	return u
}

// WithUser returns a context carrying the given user.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, ctxUserKey, u)
}

// IdentityFromCtx returns the verified identity and whether one is set.
func IdentityFromCtx(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(ctxIdentityKey).(auth.Identity)
	return id, ok
}

func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey, id)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
