// Package auth resolves API keys into request principals.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrUnauthorized is returned for any key that does not authenticate.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator verifies raw API keys against peppered HMAC-SHA256 hashes.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator with the given key repository
// and HMAC pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// HashKey returns the hex digest stored for a raw key.
func HashKey(pepper []byte, rawKey string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate resolves rawKey into a Principal.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (*Principal, error) {
	if rawKey == "" {
		return nil, ErrUnauthorized
	}
	hexHash := HashKey(a.pepper, rawKey)

	info, err := a.keys.FindByHash(ctx, hexHash)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}

	// The row must carry exactly the digest we computed.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, ErrUnauthorized
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, ErrUnauthorized
	}
	if !info.Role.Valid() {
		return nil, ErrUnauthorized
	}

	return &Principal{KeyID: info.ID, UserID: info.UserID, Role: info.Role}, nil
}
