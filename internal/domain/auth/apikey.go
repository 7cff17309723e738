package auth

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active API key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// Role is the permission level attached to an API key.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      int64
	KeyHash string
	Name    string
	UserID  int64
	Role    Role
}

// Principal is the authenticated caller of a request.
type Principal struct {
	KeyID  int64
	UserID int64
	Role   Role
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	// FindByHash returns ErrKeyNotFound for unknown or inactive keys.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
