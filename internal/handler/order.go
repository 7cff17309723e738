package handler

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/vnshop-orders/internal/domain/order"
	"github.com/xenking/vnshop-orders/pkg/httpmiddleware"
)

// HeaderIdempotencyKey lets clients mark retries of one checkout.
const HeaderIdempotencyKey = "Idempotency-Key"

type placeOrderRequest struct {
	PaymentMethod *int   `json:"payment_method"`
	VoucherCode   string `json:"voucher_code"`
	Note          string `json:"note"`
	BankCode      string `json:"bank_code"`
}

type placeOrderResponse struct {
	OrderID         int64           `json:"order_id"`
	OrderCode       string          `json:"order_code"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	VoucherDiscount decimal.Decimal `json:"voucher_discount"`
	PaymentURL      string          `json:"payment_url,omitempty"`
}

type lineResponse struct {
	ProductID  int64           `json:"product_id"`
	CategoryID int64           `json:"category_id"`
	Name       string          `json:"name"`
	Color      string          `json:"color"`
	Size       string          `json:"size"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
}

type orderResponse struct {
	ID              int64           `json:"id"`
	Code            string          `json:"code"`
	UserID          int64           `json:"user_id"`
	AddressID       int64           `json:"address_id"`
	PaymentMethod   int             `json:"payment_method"`
	PaymentStatus   string          `json:"payment_status"`
	Status          string          `json:"status"`
	AllowedNext     []string        `json:"allowed_next"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	VoucherCode     string          `json:"voucher_code,omitempty"`
	VoucherDiscount decimal.Decimal `json:"voucher_discount"`
	Note            string          `json:"note,omitempty"`
	StatusReason    string          `json:"status_reason,omitempty"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Lines           []lineResponse  `json:"lines"`
}

func toOrderResponse(o *order.Order) orderResponse {
	next := order.AllowedNext(o.Status)
	allowed := make([]string, len(next))
	for i, s := range next {
		allowed[i] = string(s)
	}
	lines := make([]lineResponse, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = lineResponse{
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			Name:       l.Name,
			Color:      l.Color,
			Size:       l.Size,
			Quantity:   l.Quantity,
			UnitPrice:  l.UnitPrice,
		}
	}
	return orderResponse{
		ID:              o.ID,
		Code:            o.Code,
		UserID:          o.UserID,
		AddressID:       o.AddressID,
		PaymentMethod:   int(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		Status:          string(o.Status),
		AllowedNext:     allowed,
		Subtotal:        o.Subtotal,
		TotalAmount:     o.Total,
		VoucherCode:     o.VoucherCode,
		VoucherDiscount: o.VoucherDiscount,
		Note:            o.Note,
		StatusReason:    o.StatusReason,
		DeliveredAt:     o.DeliveredAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Lines:           lines,
	}
}

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PaymentMethod == nil {
		writeOrderError(w, r, order.ErrInvalidPaymentMethod)
		return
	}

	res, err := h.orders.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		Actor:          actorFrom(r.Context()),
		PaymentMethod:  order.PaymentMethod(*req.PaymentMethod),
		VoucherCode:    strings.TrimSpace(req.VoucherCode),
		Note:           req.Note,
		ClientIP:       httpmiddleware.ClientIP(r),
		BankCode:       req.BankCode,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, placeOrderResponse{
		OrderID:         res.Order.ID,
		OrderCode:       res.Order.Code,
		TotalAmount:     res.Order.Total,
		VoucherDiscount: res.Order.VoucherDiscount,
		PaymentURL:      res.PaymentURL,
	})
}

// ListOrders handles GET /api/orders?status=&limit=&offset=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := order.ListFilter{Status: order.Status(q.Get("status"))}
	if f.Status != "" && !f.Status.Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}
	var err error
	if f.Limit, err = queryInt(q.Get("limit")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	if f.Offset, err = queryInt(q.Get("offset")); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid offset")
		return
	}
	if uid := q.Get("user_id"); uid != "" {
		if f.UserID, err = strconv.ParseInt(uid, 10, 64); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid user_id")
			return
		}
	}

	orders, err := h.orders.List(r.Context(), actorFrom(r.Context()), f)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	render.JSON(w, r, out)
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.Get(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// UpdateStatus handles PUT /api/orders/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), order.UpdateStatusRequest{
		OrderID: id,
		Actor:   actorFrom(r.Context()),
		To:      order.Status(req.Status),
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

// CancelOrder handles POST /api/orders/{id}/cancel with an optional
// {"reason"} body.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	o, err := h.orders.Cancel(r.Context(), actorFrom(r.Context()), id, req.Reason)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

// ConfirmReceived handles POST /api/orders/{id}/received.
func (h *Handler) ConfirmReceived(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.ConfirmReceived(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

// CompleteOrder handles POST /api/orders/{id}/complete.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.orders.Complete(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	render.JSON(w, r, toOrderResponse(o))
}

// ArchiveOrder handles DELETE /api/orders/{id}.
func (h *Handler) ArchiveOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	if err := h.orders.Archive(r.Context(), actorFrom(r.Context()), id); err != nil {
		writeOrderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

type quoteRequest struct {
	Code string `json:"code"`
}

type quoteResponse struct {
	Code        string          `json:"code"`
	Discount    decimal.Decimal `json:"discount"`
	Description string          `json:"description,omitempty"`
}

// QuoteVoucher handles POST /api/vouchers/quote.
func (h *Handler) QuoteVoucher(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		writeError(w, r, http.StatusBadRequest, "code is required")
		return
	}
	d, err := h.orders.QuoteVoucher(r.Context(), actorFrom(r.Context()), strings.TrimSpace(req.Code))
	if err != nil {
		writeOrderError(w, r, err)
		return
	}
	render.JSON(w, r, quoteResponse{Code: d.Code, Discount: d.Amount, Description: d.Description})
}

func chiOrderID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chiOrderID(r), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
