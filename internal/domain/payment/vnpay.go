// Package payment integrates the VNPAY hosted payment page: outbound URL
// signing, inbound return verification and pending transaction bookkeeping.
package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

const (
	paramSecureHash     = "vnp_SecureHash"
	paramSecureHashType = "vnp_SecureHashType"

	dateLayout = "20060102150405"

	// ResponseSuccess is the VNPAY response code for a settled payment.
	ResponseSuccess = "00"
)

var (
	// ErrInvalidSignature is returned when a callback signature does not verify.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrMalformedCallback is returned when required callback fields are missing or unparsable.
	ErrMalformedCallback = errors.New("malformed payment callback")
)

// Config holds the merchant credentials and endpoints issued by VNPAY.
type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Version    string
	Locale     string
	OrderType  string
	Expire     time.Duration
}

// Client signs outbound payment URLs and verifies return parameters.
type Client struct {
	cfg Config
	loc *time.Location
	now func() time.Time
}

// NewClient creates a Client. Timestamps are rendered in Vietnam local time
// as VNPAY expects.
func NewClient(cfg Config) (*Client, error) {
	if cfg.TmnCode == "" || cfg.HashSecret == "" {
		return nil, errors.New("vnpay tmn code and hash secret are required")
	}
	if cfg.PayURL == "" || cfg.ReturnURL == "" {
		return nil, errors.New("vnpay pay url and return url are required")
	}
	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = "other"
	}
	if cfg.Expire <= 0 {
		cfg.Expire = 15 * time.Minute
	}
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		// No tzdata on the host; Vietnam has no DST.
		loc = time.FixedZone("ICT", 7*60*60)
	}
	return &Client{cfg: cfg, loc: loc, now: time.Now}, nil
}

// Sign computes the hex HMAC-SHA512 over the canonical form of values.
// Hash parameters and empty values are excluded.
func (c *Client) Sign(values url.Values) string {
	canonical := make(url.Values, len(values))
	for k, v := range values {
		if k == paramSecureHash || k == paramSecureHashType {
			continue
		}
		if len(v) == 0 || v[0] == "" {
			continue
		}
		canonical.Set(k, v[0])
	}
	mac := hmac.New(sha512.New, []byte(c.cfg.HashSecret))
	// Encode sorts by key.
	mac.Write([]byte(canonical.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentRequest is a single outbound payment.
type PaymentRequest struct {
	TxnRef    string
	Amount    decimal.Decimal
	OrderInfo string
	ClientIP  string
	BankCode  string
}

// BuildPaymentURL returns the signed redirect URL for req.
func (c *Client) BuildPaymentURL(req PaymentRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", errors.Errorf("payment amount must be positive, got %s", req.Amount)
	}
	now := c.now().In(c.loc)

	v := url.Values{}
	v.Set("vnp_Version", c.cfg.Version)
	v.Set("vnp_Command", "pay")
	v.Set("vnp_TmnCode", c.cfg.TmnCode)
	v.Set("vnp_Amount", strconv.FormatInt(toMinor(req.Amount), 10))
	v.Set("vnp_CurrCode", "VND")
	v.Set("vnp_TxnRef", req.TxnRef)
	v.Set("vnp_OrderInfo", req.OrderInfo)
	v.Set("vnp_OrderType", c.cfg.OrderType)
	v.Set("vnp_Locale", c.cfg.Locale)
	v.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	v.Set("vnp_IpAddr", req.ClientIP)
	v.Set("vnp_CreateDate", now.Format(dateLayout))
	v.Set("vnp_ExpireDate", now.Add(c.cfg.Expire).Format(dateLayout))
	if req.BankCode != "" {
		v.Set("vnp_BankCode", req.BankCode)
	}
	v.Set(paramSecureHash, c.Sign(v))

	sep := "?"
	if strings.Contains(c.cfg.PayURL, "?") {
		sep = "&"
	}
	return c.cfg.PayURL + sep + v.Encode(), nil
}

// Return is a verified VNPAY return payload.
type Return struct {
	TxnRef            string
	AmountMinor       int64
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	OrderInfo         string
	SecureHash        string
}

// VerifyReturn checks the signature of a return query and parses it.
func (c *Client) VerifyReturn(values url.Values) (*Return, error) {
	got := values.Get(paramSecureHash)
	if got == "" {
		return nil, ErrInvalidSignature
	}
	want := c.Sign(values)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return nil, ErrInvalidSignature
	}

	r := &Return{
		TxnRef:            values.Get("vnp_TxnRef"),
		ResponseCode:      values.Get("vnp_ResponseCode"),
		TransactionStatus: values.Get("vnp_TransactionStatus"),
		TransactionNo:     values.Get("vnp_TransactionNo"),
		BankCode:          values.Get("vnp_BankCode"),
		OrderInfo:         values.Get("vnp_OrderInfo"),
		SecureHash:        got,
	}
	if r.TxnRef == "" || r.ResponseCode == "" {
		return nil, errors.Wrap(ErrMalformedCallback, "missing txn ref or response code")
	}
	amount, err := strconv.ParseInt(values.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedCallback, "parse amount")
	}
	r.AmountMinor = amount
	return r, nil
}

// toMinor converts whole VND into the x100 integer VNPAY transmits.
func toMinor(amount decimal.Decimal) int64 {
	return amount.Round(0).Mul(decimal.NewFromInt(100)).IntPart()
}

var responseMessages = map[string]string{
	"00": "transaction successful",
	"07": "debit successful, transaction flagged as suspicious",
	"09": "card or account not registered for internet banking",
	"10": "card or account authentication failed more than 3 times",
	"11": "payment timed out",
	"12": "card or account is locked",
	"13": "wrong one-time password",
	"24": "customer cancelled the transaction",
	"51": "insufficient account balance",
	"65": "daily transaction limit exceeded",
	"75": "issuing bank under maintenance",
	"79": "wrong payment password entered too many times",
	"99": "unknown error",
}

// ResponseMessage returns a human-readable description of a VNPAY response code.
func ResponseMessage(code string) string {
	if m, ok := responseMessages[code]; ok {
		return m
	}
	return "unrecognized response code " + code
}
