package payment

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrAmountMismatch is returned when a callback amount disagrees with the
	// stored transaction.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrTransactionNotFound is returned when no pending transaction matches a txn ref.
	ErrTransactionNotFound = errors.New("payment transaction not found")
)

// Transaction is the persisted record of one gateway payment attempt. It
// outlives the order it refers to.
type Transaction struct {
	TxnRef          string
	OrderID         int64
	Amount          int64
	BankCode        string
	ResponseCode    *string
	ResponseMessage string
	SecureHash      string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// Resolved reports whether a callback has already been recorded.
func (t *Transaction) Resolved() bool {
	return t.ResponseCode != nil
}

// Store persists payment transactions.
type Store interface {
	CreatePending(ctx context.Context, t *Transaction) error
	// Get returns ErrTransactionNotFound when txnRef is unknown.
	Get(ctx context.Context, txnRef string) (*Transaction, error)
	// Resolve records the outcome only if the transaction is still unresolved
	// and reports whether this call did so.
	Resolve(ctx context.Context, res Resolution) (bool, error)
}

// Resolution is the outcome written to a pending transaction.
type Resolution struct {
	TxnRef       string
	ResponseCode string
	Message      string
	SecureHash   string
	BankCode     string
	At           time.Time
}

// Checkout describes the order being paid for.
type Checkout struct {
	OrderID   int64
	Amount    decimal.Decimal
	OrderInfo string
	ClientIP  string
	BankCode  string
}

// Callback is a verified return matched to its stored transaction.
type Callback struct {
	Return      *Return
	Transaction *Transaction
}

// OrderID returns the order the callback settles.
func (c *Callback) OrderID() int64 {
	return c.Transaction.OrderID
}

// Succeeded reports whether the gateway settled the payment.
func (c *Callback) Succeeded() bool {
	return c.Return.ResponseCode == ResponseSuccess
}

// Adapter couples the VNPAY client with transaction persistence.
type Adapter struct {
	client *Client
	store  Store
	now    func() time.Time
}

// NewAdapter creates an Adapter.
func NewAdapter(client *Client, store Store) *Adapter {
	return &Adapter{client: client, store: store, now: time.Now}
}

// TxnRef derives the gateway reference of an order.
func TxnRef(orderID int64) string {
	return strconv.FormatInt(orderID, 10)
}

// Begin signs the payment URL and records a pending transaction for it. The
// gateway charges whole dong, so the signed and stored amounts are the same
// rounded value.
func (a *Adapter) Begin(ctx context.Context, co Checkout) (string, error) {
	ref := TxnRef(co.OrderID)
	amount := co.Amount.Round(0)
	payURL, err := a.client.BuildPaymentURL(PaymentRequest{
		TxnRef:    ref,
		Amount:    amount,
		OrderInfo: co.OrderInfo,
		ClientIP:  co.ClientIP,
		BankCode:  co.BankCode,
	})
	if err != nil {
		return "", errors.Wrap(err, "build payment url")
	}
	if err := a.store.CreatePending(ctx, &Transaction{
		TxnRef:    ref,
		OrderID:   co.OrderID,
		Amount:    amount.IntPart(),
		BankCode:  co.BankCode,
		CreatedAt: a.now(),
	}); err != nil {
		return "", errors.Wrap(err, "store pending transaction")
	}
	return payURL, nil
}

// Verify authenticates return values and matches them to a stored transaction.
func (a *Adapter) Verify(ctx context.Context, values url.Values) (*Callback, error) {
	ret, err := a.client.VerifyReturn(values)
	if err != nil {
		return nil, err
	}
	txn, err := a.Lookup(ctx, ret.TxnRef)
	if err != nil {
		return nil, err
	}
	if ret.AmountMinor != txn.Amount*100 {
		return nil, errors.Wrapf(ErrAmountMismatch, "txn %s: got %d, want %d", txn.TxnRef, ret.AmountMinor, txn.Amount*100)
	}
	return &Callback{Return: ret, Transaction: txn}, nil
}

// Lookup returns the stored transaction for txnRef.
func (a *Adapter) Lookup(ctx context.Context, txnRef string) (*Transaction, error) {
	txn, err := a.store.Get(ctx, txnRef)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, errors.Wrap(err, "get transaction")
	}
	return txn, nil
}

// Resolve records cb's outcome. It returns false when another callback has
// already resolved the transaction.
func (a *Adapter) Resolve(ctx context.Context, cb *Callback) (bool, error) {
	won, err := a.store.Resolve(ctx, Resolution{
		TxnRef:       cb.Transaction.TxnRef,
		ResponseCode: cb.Return.ResponseCode,
		Message:      ResponseMessage(cb.Return.ResponseCode),
		SecureHash:   cb.Return.SecureHash,
		BankCode:     cb.Return.BankCode,
		At:           a.now(),
	})
	if err != nil {
		return false, errors.Wrap(err, "resolve transaction")
	}
	return won, nil
}
