// Package auth is the chat core's boundary with the session collaborator.
// The chat client only ever needs a bearer credential; how it is obtained,
// refreshed or revoked is somebody else's job.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired is returned by an expiry-checked source instead of
// letting an already-dead credential reach the wire. A 401 coming back from
// the server remains the session collaborator's problem, not ours.
var ErrTokenExpired = errors.New("token expired")

// TokenSource supplies the bearer credential attached to every backend
// call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same credential forever. Suitable for tests
// and for short-lived CLI sessions.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty token")
	}
	return string(s), nil
}

// ExpiryCheckedSource wraps another source and rejects JWTs whose exp claim
// has passed. The token is parsed unverified: signature validation is the
// server's job, this is only a local freshness check.
type ExpiryCheckedSource struct {
	Source TokenSource
	// Leeway is subtracted from the expiry, so a token about to die is
	// treated as dead.
	Leeway time.Duration
}

func (s *ExpiryCheckedSource) Token(ctx context.Context) (string, error) {
	token, err := s.Source.Token(ctx)
	if err != nil {
		return "", err
	}
	exp, err := TokenExpiry(token)
	if err != nil {
		// Not a JWT or no exp claim: pass it through and let the
		// server judge it.
		return token, nil
	}
	if time.Now().Add(s.Leeway).After(exp) {
		return "", ErrTokenExpired
	}
	return token, nil
}

// TokenExpiry extracts the exp claim of a JWT without verifying the
// signature.
func TokenExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("no exp claim")
	}
	return exp.Time, nil
}
