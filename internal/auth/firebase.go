package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

const firebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// FirebaseVerifier checks Firebase ID tokens against Google's published
// signing keys.
type FirebaseVerifier struct {
	jwks    *keyfunc.JWKS
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
}

func NewFirebaseVerifier(projectID string, log *slog.Logger) (*FirebaseVerifier, error) {
	if log == nil {
		log = slog.Default()
	}
	jwks, err := keyfunc.Get(firebaseJWKSURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Error("firebase jwks refresh failed", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}
	v := newFirebaseVerifier(projectID, jwks.Keyfunc)
	v.jwks = jwks
	return v, nil
}

func newFirebaseVerifier(projectID string, kf jwt.Keyfunc) *FirebaseVerifier {
	return &FirebaseVerifier{
		keyfunc: kf,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer("https://securetoken.google.com/"+projectID),
			jwt.WithAudience(projectID),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(30*time.Second),
		),
	}
}

func (v *FirebaseVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	c := &claims{}
	tok, err := v.parser.ParseWithClaims(credential, c, v.keyfunc)
	if err != nil || !tok.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return c.identity()
}

// Close stops the background key refresh.
func (v *FirebaseVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}
