package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HMACVerifier accepts HS256 tokens signed with a shared secret. It is meant
// for local development and tests; Issue mints tokens it will accept.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (v *HMACVerifier) Verify(_ context.Context, credential string) (Identity, error) {
	c := &claims{}
	tok, err := v.parser.ParseWithClaims(credential, c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !tok.Valid {
		return Identity{}, ErrInvalidCredential
	}
	return c.identity()
}

// Issue signs a token for id valid for ttl.
func (v *HMACVerifier) Issue(id Identity, ttl time.Duration) (string, error) {
	if id.UID == "" {
		return "", errors.New("uid is required")
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email: id.Email,
		Name:  id.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}
