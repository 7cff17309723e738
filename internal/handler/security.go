package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/internal/domain/auth"
	"github.com/xenking/vnshop-orders/internal/domain/order"
	"github.com/xenking/vnshop-orders/pkg/httpmiddleware"
)

// HeaderAPIKey carries the caller's raw API key.
const HeaderAPIKey = "X-API-Key"

type principalKey struct{}

func withPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Authenticate.
func PrincipalFrom(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*auth.Principal)
	return p, ok
}

// RateLimitKey buckets callers presenting a key by its digest and everyone
// else by IP. Raw keys never reach the limiter store.
func RateLimitKey(r *http.Request) string {
	if k := r.Header.Get(HeaderAPIKey); k != "" {
		sum := sha256.Sum256([]byte(k))
		return "key:" + hex.EncodeToString(sum[:16])
	}
	return "ip:" + httpmiddleware.ClientIP(r)
}

// Authenticate resolves the X-API-Key header and rejects the request with
// 401 when it does not identify an active key.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		p, err := h.auth.Authenticate(ctx, r.Header.Get(HeaderAPIKey))
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				zctx.From(ctx).Error("Authenticate", zap.Error(err))
			}
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx = withPrincipal(ctx, p)
		ctx = zctx.Base(ctx, zctx.From(ctx).With(
			zap.Int64("user_id", p.UserID),
			zap.String("role", string(p.Role)),
		))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok || !slices.Contains(roles, p.Role) {
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// actorFrom maps the principal onto the order lifecycle actor.
func actorFrom(ctx context.Context) order.Actor {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return order.Actor{}
	}
	a := order.Actor{UserID: p.UserID}
	switch p.Role {
	case auth.RoleCustomer:
		a.Role = order.RoleCustomer
	case auth.RoleStaff:
		a.Role = order.RoleStaff
	case auth.RoleAdmin:
		a.Role = order.RoleAdmin
	}
	return a
}
