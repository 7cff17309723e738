//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/vnshop-orders/internal/domain/auth"
	"github.com/xenking/vnshop-orders/internal/domain/catalog"
	"github.com/xenking/vnshop-orders/internal/domain/inventory"
	"github.com/xenking/vnshop-orders/internal/domain/payment"
	"github.com/xenking/vnshop-orders/internal/repository"
)

const (
	itPepper     = "integration-pepper"
	itHashSecret = "integration-secret"
	itSuccessURL = "https://shop.test/checkout/success"
	itFailureURL = "https://shop.test/checkout/failure"
	adminKey     = "it-admin"
)

var (
	baseURL    string
	httpClient *http.Client
	testPool   *pgxpool.Pool
	gateway    *payment.Client

	tee = inventory.VariantKey{ProductID: 2001, Color: "white", Size: "M"}
)

// Response types are local so the tests only see the HTTP surface.

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type placeOrderResponse struct {
	OrderID     int64           `json:"order_id"`
	OrderCode   string          `json:"order_code"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaymentURL  string          `json:"payment_url"`
}

type orderResponse struct {
	ID            int64    `json:"id"`
	Status        string   `json:"status"`
	PaymentStatus string   `json:"payment_status"`
	AllowedNext   []string `json:"allowed_next"`
	Lines         []struct {
		Quantity int `json:"quantity"`
	} `json:"lines"`
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "shop",
				"POSTGRES_PASSWORD": "shop",
				"POSTGRES_DB":       "shop",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = c.Terminate(context.Background()) }()

	endpoint, err := c.PortEndpoint(ctx, "5432/tcp", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres endpoint: %v\n", err)
		return 1
	}
	testPool, err = repository.NewPool(ctx, fmt.Sprintf("postgres://shop:shop@%s/shop?sslmode=disable", endpoint))
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}
	defer testPool.Close()

	if err := repository.RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	if err := seed(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		return 1
	}

	cfg := &Config{
		APIKeyPepper: itPepper,
		VNPay: VNPayConfig{
			TmnCode:    "ITEST001",
			HashSecret: itHashSecret,
			PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
			ReturnURL:  "https://api.shop.test/vnpay-return",
			Expire:     15 * time.Minute,
		},
		Frontend:  FrontendConfig{SuccessURL: itSuccessURL, FailureURL: itFailureURL},
		RateLimit: RateLimitConfig{Max: 10_000, Window: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}},
	}
	gateway, err = payment.NewClient(payment.Config{TmnCode: cfg.VNPay.TmnCode, HashSecret: itHashSecret})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway client: %v\n", err)
		return 1
	}

	lg := zap.NewNop()
	srv, err := newServer(zctx.Base(ctx, lg), lg, cfg, testPool, tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		fmt.Fprintf(os.Stderr, "build server: %v\n", err)
		return 1
	}
	defer srv.close()
	srv.health.SetReady(true)

	ts := httptest.NewServer(srv.handler)
	defer ts.Close()

	baseURL = ts.URL
	httpClient = &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return m.Run()
}

func customerKey(userID int64) string {
	return "it-customer-" + strconv.FormatInt(userID, 10)
}

func seed(ctx context.Context) error {
	cat := repository.NewCatalogRepository(testPool)
	if err := cat.UpsertVariant(ctx, catalog.Variant{
		Key:          tee,
		CategoryID:   10,
		Name:         "Ao thun",
		PriceRegular: decimal.NewFromInt(200_000),
		PriceSale:    decimal.NewFromInt(150_000),
		Stock:        1000,
	}); err != nil {
		return err
	}

	keys := repository.NewAPIKeyRepository(testPool)
	for user := int64(1); user <= 10; user++ {
		if err := cat.AddAddress(ctx, &catalog.Address{
			UserID: user, Recipient: "Khach hang", Phone: "0900000000", Line: "1 Le Loi", IsDefault: true,
		}); err != nil {
			return err
		}
		if err := keys.Create(ctx, &auth.APIKeyInfo{
			KeyHash: auth.HashKey([]byte(itPepper), customerKey(user)),
			Name:    customerKey(user),
			UserID:  user,
			Role:    auth.RoleCustomer,
		}); err != nil {
			return err
		}
	}
	return keys.Create(ctx, &auth.APIKeyInfo{
		KeyHash: auth.HashKey([]byte(itPepper), adminKey),
		Name:    adminKey,
		UserID:  901,
		Role:    auth.RoleAdmin,
	})
}

func fillCart(t *testing.T, userID int64, qty int) {
	t.Helper()
	err := repository.NewCatalogRepository(testPool).AddItem(context.Background(), userID,
		catalog.CartItem{Key: tee, Quantity: qty})
	require.NoError(t, err)
}

func stock(t *testing.T) int {
	t.Helper()
	v, err := repository.NewCatalogRepository(testPool).GetVariant(context.Background(), tee)
	require.NoError(t, err)
	return v.Stock
}

func do(t *testing.T, method, path, key string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := httpClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func getOrder(t *testing.T, id int64, key string) *http.Response {
	t.Helper()
	return do(t, http.MethodGet, "/api/orders/"+strconv.FormatInt(id, 10), key, nil)
}

// gatewayReturn builds the signed query VNPAY would send back for payURL.
func gatewayReturn(t *testing.T, payURL, responseCode string) url.Values {
	t.Helper()
	u, err := url.Parse(payURL)
	require.NoError(t, err)
	q := u.Query()

	ret := url.Values{
		"vnp_TmnCode":           {q.Get("vnp_TmnCode")},
		"vnp_TxnRef":            {q.Get("vnp_TxnRef")},
		"vnp_Amount":            {q.Get("vnp_Amount")},
		"vnp_OrderInfo":         {q.Get("vnp_OrderInfo")},
		"vnp_ResponseCode":      {responseCode},
		"vnp_TransactionStatus": {responseCode},
		"vnp_TransactionNo":     {"14000001"},
		"vnp_BankCode":          {"NCB"},
		"vnp_PayDate":           {"20250901120000"},
	}
	ret.Set("vnp_SecureHash", gateway.Sign(ret))
	return ret
}

func TestHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp := do(t, http.MethodGet, path, "", nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "ok", decode[healthResponse](t, resp).Status)
		})
	}
}

func TestRequiresAPIKey(t *testing.T) {
	resp := do(t, http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = do(t, http.MethodGet, "/api/orders", "wrong-key", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCashCheckout(t *testing.T) {
	const user = 1
	fillCart(t, user, 2)
	before := stock(t)

	resp := do(t, http.MethodPost, "/api/orders", customerKey(user), map[string]any{"payment_method": 0})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[placeOrderResponse](t, resp)
	assert.Empty(t, placed.PaymentURL)
	assert.True(t, decimal.NewFromInt(300_000).Equal(placed.TotalAmount), placed.TotalAmount.String())
	assert.Equal(t, before-2, stock(t))

	resp = getOrder(t, placed.OrderID, customerKey(user))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[orderResponse](t, resp)
	assert.Equal(t, "pending", got.Status)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, 2, got.Lines[0].Quantity)

	// Other customers do not see it.
	resp = getOrder(t, placed.OrderID, customerKey(2))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Empty cart now.
	resp = do(t, http.MethodPost, "/api/orders", customerKey(user), map[string]any{"payment_method": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCashCheckout_CancelReleasesStock(t *testing.T) {
	const user = 3
	fillCart(t, user, 4)
	before := stock(t)

	resp := do(t, http.MethodPost, "/api/orders", customerKey(user), map[string]any{"payment_method": 0})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[placeOrderResponse](t, resp)
	require.Equal(t, before-4, stock(t))

	resp = do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", placed.OrderID), customerKey(user), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", decode[orderResponse](t, resp).Status)
	assert.Equal(t, before, stock(t))
}

func TestGatewayCheckout_Success(t *testing.T) {
	const user = 4
	fillCart(t, user, 1)
	before := stock(t)

	resp := do(t, http.MethodPost, "/api/orders", customerKey(user), map[string]any{"payment_method": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[placeOrderResponse](t, resp)
	require.NotEmpty(t, placed.PaymentURL)
	assert.Equal(t, before, stock(t), "gateway orders take stock only once paid")

	ret := gatewayReturn(t, placed.PaymentURL, payment.ResponseSuccess)
	resp = do(t, http.MethodGet, "/vnpay-return?"+ret.Encode(), "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/checkout/success", loc.Path)
	assert.Equal(t, "success", loc.Query().Get("status"))
	assert.Equal(t, strconv.FormatInt(placed.OrderID, 10), loc.Query().Get("order_id"))
	assert.Equal(t, before-1, stock(t))

	got := decode[orderResponse](t, getOrder(t, placed.OrderID, customerKey(user)))
	assert.Equal(t, "processing", got.Status)
	assert.Equal(t, "paid", got.PaymentStatus)

	// The browser may hit the return URL again; the outcome is replayed.
	resp = do(t, http.MethodGet, "/vnpay-return?"+ret.Encode(), "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "status=success")
	assert.Equal(t, before-1, stock(t))
}

func TestGatewayCheckout_FailureDeletesOrder(t *testing.T) {
	const user = 5
	fillCart(t, user, 1)
	before := stock(t)

	resp := do(t, http.MethodPost, "/api/orders", customerKey(user), map[string]any{"payment_method": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[placeOrderResponse](t, resp)

	ret := gatewayReturn(t, placed.PaymentURL, "24")
	resp = do(t, http.MethodGet, "/vnpay-return?"+ret.Encode(), "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/checkout/failure", loc.Path)
	assert.Equal(t, "failed", loc.Query().Get("status"))
	assert.Equal(t, "24", loc.Query().Get("response_code"))

	assert.Equal(t, http.StatusNotFound, getOrder(t, placed.OrderID, adminKey).StatusCode)
	assert.Equal(t, before, stock(t))

	txn, err := repository.NewPaymentRepository(testPool).Get(context.Background(), payment.TxnRef(placed.OrderID))
	require.NoError(t, err)
	assert.True(t, txn.Resolved())
}

func TestGatewayReturn_RejectsTampering(t *testing.T) {
	const user = 6
	fillCart(t, user, 1)

	resp := do(t, http.MethodPost, "/api/orders", customerKey(user), map[string]any{"payment_method": 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decode[placeOrderResponse](t, resp)

	ret := gatewayReturn(t, placed.PaymentURL, payment.ResponseSuccess)
	ret.Set("vnp_Amount", "100")
	resp = do(t, http.MethodGet, "/vnpay-return?"+ret.Encode(), "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	got := decode[orderResponse](t, getOrder(t, placed.OrderID, customerKey(user)))
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "unpaid", got.PaymentStatus)
}

func TestAdminLifecycle(t *testing.T) {
	const user = 7
	fillCart(t, user, 1)

	resp := do(t, http.MethodPost, "/api/orders", customerKey(user), map[string]any{"payment_method": 0})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := decode[placeOrderResponse](t, resp).OrderID
	path := fmt.Sprintf("/api/orders/%d/status", id)

	// Customers cannot drive fulfilment.
	resp = do(t, http.MethodPut, path, customerKey(user), map[string]any{"status": "processing"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	for _, s := range []string{"processing", "shipping", "delivered"} {
		resp = do(t, http.MethodPut, path, adminKey, map[string]any{"status": s})
		require.Equal(t, http.StatusOK, resp.StatusCode, s)
	}

	resp = do(t, http.MethodPut, path, adminKey, map[string]any{"status": "pending"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/received", id), customerKey(user), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[orderResponse](t, resp)
	assert.Equal(t, "received", got.Status)
	assert.Equal(t, "paid", got.PaymentStatus)
	assert.Equal(t, []string{"completed"}, got.AllowedNext)

	resp = do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), customerKey(user), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", decode[orderResponse](t, resp).Status)
}
