package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/internal/domain/payment"
	"github.com/xenking/vnshop-orders/pkg/httpmiddleware"
)

// PaymentReturn handles GET /vnpay-return. The customer's browser lands
// here after the hosted payment page; it is redirected to the frontend
// success or failure page once the callback is reconciled.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	values := r.URL.Query()

	res, err := h.orders.HandlePaymentReturn(ctx, values)
	switch {
	case errors.Is(err, payment.ErrInvalidSignature),
		errors.Is(err, payment.ErrMalformedCallback),
		errors.Is(err, payment.ErrAmountMismatch),
		errors.Is(err, payment.ErrTransactionNotFound):
		zctx.From(ctx).Warn("Rejected payment callback",
			zap.Error(err),
			zap.String("txn_ref", values.Get("vnp_TxnRef")),
			zap.String("client_ip", httpmiddleware.ClientIP(r)),
		)
		writeError(w, r, http.StatusBadRequest, "invalid payment callback")
		return
	case err != nil:
		zctx.From(ctx).Error("Payment callback failed",
			zap.Error(err),
			zap.String("txn_ref", values.Get("vnp_TxnRef")),
		)
		http.Redirect(w, r, redirectURL(h.cfg.FailureURL, url.Values{
			"order_id":      {values.Get("vnp_TxnRef")},
			"status":        {"error"},
			"response_code": {values.Get("vnp_ResponseCode")},
		}), http.StatusFound)
		return
	}

	target, status := h.cfg.FailureURL, "failed"
	if res.Success {
		target, status = h.cfg.SuccessURL, "success"
	}
	http.Redirect(w, r, redirectURL(target, url.Values{
		"order_id":      {strconv.FormatInt(res.OrderID, 10)},
		"status":        {status},
		"response_code": {res.ResponseCode},
	}), http.StatusFound)
}

// redirectURL appends q to base, keeping any query base already has.
func redirectURL(base string, q url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	merged := u.Query()
	for k, v := range q {
		merged[k] = v
	}
	u.RawQuery = merged.Encode()
	return u.String()
}
