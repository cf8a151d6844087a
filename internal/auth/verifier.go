// Package auth verifies the bearer credentials presented by API clients and
// turns them into an Identity. Accounts are created elsewhere; this package
// only answers "who is calling".
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/config"
)

// ErrInvalidCredential is returned for expired, malformed or wrongly signed
// tokens.
var ErrInvalidCredential = apperr.New(apperr.KindInvalidCredential, "invalid or expired credential")

// Identity is the verified subject of a credential.
type Identity struct {
	UID   string
	Email string
	Name  string
}

type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

func (c *claims) identity() (Identity, error) {
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing sub claim", ErrInvalidCredential)
	}
	return Identity{UID: c.Subject, Email: c.Email, Name: c.Name}, nil
}

// New builds the verifier selected by cfg.Mode. The returned close func
// stops any background key refresh.
func New(cfg config.AuthConfig, log *slog.Logger) (Verifier, func(), error) {
	switch cfg.Mode {
	case config.AuthModeFirebase:
		v, err := NewFirebaseVerifier(cfg.FirebaseProjectID, log)
		if err != nil {
			return nil, nil, err
		}
		return v, v.Close, nil
	case config.AuthModeHMAC:
		return NewHMACVerifier(cfg.HMACSecret), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}
