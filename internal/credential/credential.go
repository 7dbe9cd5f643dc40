// internal/credential/credential.go

// Package credential inspects and sources access tokens for realtime channels.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrEmptyToken is returned by sources that produced no token.
var ErrEmptyToken = errors.New("empty token")

// Source returns a fresh access token.
type Source func(ctx context.Context) (string, error)

// Expiry returns the exp claim of a JWT without verifying its signature.
// The client cannot verify tokens; it only needs to know when to refresh.
func Expiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// RefreshDelay returns how long to wait before refreshing token, leeway
// ahead of its expiry. ok is false for tokens without an expiry.
func RefreshDelay(token string, leeway time.Duration, now time.Time) (time.Duration, bool) {
	exp, ok := Expiry(token)
	if !ok {
		return 0, false
	}
	delay := exp.Sub(now) - leeway
	if delay < 0 {
		delay = 0
	}
	return delay, true
}

// Subject returns the sub claim of a JWT without verifying it
func Subject(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// Static returns a source that always yields token
func Static(token string) Source {
	return func(ctx context.Context) (string, error) {
		if token == "" {
			return "", ErrEmptyToken
		}
		return token, nil
	}
}

// File returns a source that re-reads the token from path on every call.
// Surrounding whitespace is trimmed.
func File(path string) Source {
	return func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("token file %s: %w", path, ErrEmptyToken)
		}
		return token, nil
	}
}
