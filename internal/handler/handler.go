// Package handler exposes the order service over HTTP.
package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/vnshop-orders/internal/domain/auth"
	"github.com/xenking/vnshop-orders/internal/domain/order"
	"github.com/xenking/vnshop-orders/internal/domain/voucher"
	"github.com/xenking/vnshop-orders/pkg/httpmiddleware"
)

// OrderService is the part of *order.Service the handlers call.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	QuoteVoucher(ctx context.Context, actor order.Actor, code string) (*voucher.Discount, error)
	Get(ctx context.Context, actor order.Actor, orderID int64) (*order.Order, error)
	List(ctx context.Context, actor order.Actor, f order.ListFilter) ([]order.Order, error)
	UpdateStatus(ctx context.Context, req order.UpdateStatusRequest) (*order.Order, error)
	Cancel(ctx context.Context, actor order.Actor, orderID int64, reason string) (*order.Order, error)
	ConfirmReceived(ctx context.Context, actor order.Actor, orderID int64) (*order.Order, error)
	Complete(ctx context.Context, actor order.Actor, orderID int64) (*order.Order, error)
	Archive(ctx context.Context, actor order.Actor, orderID int64) error
	HandlePaymentReturn(ctx context.Context, values url.Values) (*order.PaymentResult, error)
}

// Authenticator resolves an API key into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, rawKey string) (*auth.Principal, error)
}

var (
	_ OrderService  = (*order.Service)(nil)
	_ Authenticator = (*auth.Authenticator)(nil)
)

// Config holds the frontend pages the payment return redirects to.
type Config struct {
	SuccessURL string
	FailureURL string
}

// Handler serves the order API.
type Handler struct {
	orders OrderService
	auth   Authenticator
	cfg    Config
}

// NewHandler constructs a Handler.
func NewHandler(cfg Config, orders OrderService, authn Authenticator) *Handler {
	return &Handler{orders: orders, auth: authn, cfg: cfg}
}

// Router builds the route tree. Extra middlewares run inside the router,
// after route matching, on every route.
func (h *Handler) Router(middlewares ...httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	r.Use(httpmiddleware.RouteLabeler())
	for _, mw := range middlewares {
		r.Use(mw)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/vnpay-return", h.PaymentReturn)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Post("/vouchers/quote", h.QuoteVoucher)

		r.Route("/orders", func(r chi.Router) {
			r.With(requireRole(auth.RoleCustomer)).Post("/", h.PlaceOrder)
			r.Get("/", h.ListOrders)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOrder)
				r.Post("/cancel", h.CancelOrder)
				r.With(requireRole(auth.RoleCustomer)).Post("/received", h.ConfirmReceived)
				r.With(requireRole(auth.RoleCustomer)).Post("/complete", h.CompleteOrder)
				r.With(requireRole(auth.RoleStaff, auth.RoleAdmin)).Put("/status", h.UpdateStatus)
				r.With(requireRole(auth.RoleAdmin)).Delete("/", h.ArchiveOrder)
			})
		})
	})
	return r
}
