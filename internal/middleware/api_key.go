// Package middleware provides request-scoped plumbing for the marquee HTTP and
// gRPC transports: bearer-token authentication against bcrypt-hashed API
// keys, per-IP throttling of failed attempts, and request logging.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	errMalformedAPIKey = errors.New("api key must have the form <id>.<secret>")
	errAPIKeyMismatch  = errors.New("api key secret does not match")
)

// APIKeyStore looks up the bcrypt hash and display name of an active key.
type APIKeyStore interface {
	ValidateAPIKey(ctx context.Context, id string) (hash string, name string, err error)
}

// APIKeyValidator implements TokenValidator for tokens of the form
// "<id>.<secret>".
type APIKeyValidator struct {
	store APIKeyStore
}

func NewAPIKeyValidator(store APIKeyStore) *APIKeyValidator {
	return &APIKeyValidator{store: store}
}

func (v *APIKeyValidator) ValidateToken(ctx context.Context, token string) (Principal, error) {
	keyID, secret, err := ParseAPIKeyToken(token)
	if err != nil {
		return Principal{}, err
	}

	hash, name, err := v.store.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return Principal{}, fmt.Errorf("look up api key %s: %w", keyID, err)
	}
	if !APIKeyMatchesHash(hash, secret) {
		return Principal{}, errAPIKeyMismatch
	}

	return Principal{KeyID: keyID, Name: name}, nil
}

// ParseAPIKeyToken splits a bearer token into its key ID and secret.
func ParseAPIKeyToken(token string) (keyID, secret string, err error) {
	keyID, secret, ok := strings.Cut(token, ".")
	if !ok || keyID == "" || secret == "" {
		return "", "", errMalformedAPIKey
	}
	return keyID, secret, nil
}

// FormatAPIKeyToken is the inverse of ParseAPIKeyToken.
func FormatAPIKeyToken(keyID, secret string) string {
	return keyID + "." + secret
}

// APIKeyMatchesHash compares an API key secret against a stored bcrypt hash.
func APIKeyMatchesHash(expectedHash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(secret)) == nil
}
