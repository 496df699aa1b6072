// Package auth resolves a valid bearer token for the mailbox session using
// a cached-token, refresh-token, interactive-consent precedence.
package auth

import (
	"errors"
	"fmt"
)

// AuthError indicates that the credential lifecycle could not produce a
// usable access token: a failed exchange, a consent-flow timeout, or a
// callback-listener bind failure.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// SecretStore is the credential-store boundary: long-lived secrets
// (refresh tokens, client secrets) keyed by logical identity.
type SecretStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// TokenCache is the non-secret persistence boundary for the short-lived
// access token and its absolute expiry (epoch seconds).
type TokenCache interface {
	Load() (accessToken string, expiresAt int64, ok bool, err error)
	Save(accessToken string, expiresAt int64) error
}
