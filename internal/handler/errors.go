package handler

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/internal/domain/inventory"
	"github.com/xenking/vnshop-orders/internal/domain/order"
	"github.com/xenking/vnshop-orders/internal/domain/voucher"
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`

	CurrentStatus   string `json:"current_status,omitempty"`
	AttemptedStatus string `json:"attempted_status,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	render.Status(r, code)
	render.JSON(w, r, errorResponse{Code: code, Message: msg})
}

// writeOrderError maps domain errors onto HTTP responses. Anything it does
// not recognise is logged and answered with a bare 500.
func writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Message: err.Error()}

	var (
		verr  *voucher.Error
		terr  *order.TransitionError
		stock *inventory.InsufficientStockError
	)
	switch {
	case errors.As(err, &verr):
		resp.Code = http.StatusBadRequest
		resp.Message = "invalid voucher"
		resp.Reason = string(verr.Reason)
	case errors.As(err, &terr):
		resp.Code = http.StatusBadRequest
		resp.CurrentStatus = string(terr.From)
		resp.AttemptedStatus = string(terr.To)
	case errors.As(err, &stock):
		resp.Code = http.StatusConflict
		resp.Message = "insufficient stock for " + stock.Key.String()
	case errors.Is(err, order.ErrNotFound):
		resp.Code = http.StatusNotFound
		resp.Message = "order not found"
	case errors.Is(err, order.ErrDuplicateSubmission),
		errors.Is(err, order.ErrStatusConflict):
		resp.Code = http.StatusConflict
	case errors.Is(err, order.ErrActorNotAllowed):
		resp.Code = http.StatusForbidden
	case errors.Is(err, order.ErrUnauthenticatedActor):
		resp.Code = http.StatusUnauthorized
	case errors.Is(err, order.ErrPaymentUnavailable):
		resp.Code = http.StatusBadGateway
		resp.Message = "payment gateway unavailable"
	case errors.Is(err, order.ErrInvalidPaymentMethod),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrNoDefaultAddress),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, order.ErrProductUnavailable),
		errors.Is(err, inventory.ErrVariantNotFound),
		errors.Is(err, order.ErrAwaitingPayment),
		errors.Is(err, order.ErrZeroGatewayAmount),
		errors.Is(err, order.ErrReasonRequired),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrNotTerminal):
		resp.Code = http.StatusBadRequest
	default:
		fields := []zap.Field{zap.Error(err)}
		if id := chiOrderID(r); id != "" {
			fields = append(fields, zap.String("order_id", id))
		}
		zctx.From(r.Context()).Error("Request failed", fields...)
		resp = errorResponse{Code: http.StatusInternalServerError, Message: "internal error"}
	}

	render.Status(r, resp.Code)
	render.JSON(w, r, resp)
}
