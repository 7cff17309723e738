package order

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/vnshop-orders/internal/domain/catalog"
	"github.com/xenking/vnshop-orders/internal/domain/inventory"
	"github.com/xenking/vnshop-orders/internal/domain/notify"
	"github.com/xenking/vnshop-orders/internal/domain/payment"
	"github.com/xenking/vnshop-orders/internal/domain/voucher"
)

// memStore is an in-memory stand-in for every persistence port. WithinTx
// runs transactions one at a time and restores a snapshot when fn fails,
// which gives the same outcome as the conditional updates on Postgres.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	variants  map[inventory.VariantKey]catalog.Variant
	stock     map[inventory.VariantKey]int
	carts     map[int64][]catalog.CartItem
	addresses map[int64]*catalog.Address
	vouchers  map[string]voucher.Voucher
	orders    map[int64]*Order
	txns      map[string]*payment.Transaction
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		variants:  map[inventory.VariantKey]catalog.Variant{},
		stock:     map[inventory.VariantKey]int{},
		carts:     map[int64][]catalog.CartItem{},
		addresses: map[int64]*catalog.Address{},
		vouchers:  map[string]voucher.Voucher{},
		orders:    map[int64]*Order{},
		txns:      map[string]*payment.Transaction{},
		nextID:    1000,
	}
}

type memSnapshot struct {
	stock    map[inventory.VariantKey]int
	carts    map[int64][]catalog.CartItem
	vouchers map[string]voucher.Voucher
	orders   map[int64]*Order
	txns     map[string]*payment.Transaction
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		stock:    make(map[inventory.VariantKey]int, len(m.stock)),
		carts:    make(map[int64][]catalog.CartItem, len(m.carts)),
		vouchers: make(map[string]voucher.Voucher, len(m.vouchers)),
		orders:   make(map[int64]*Order, len(m.orders)),
		txns:     make(map[string]*payment.Transaction, len(m.txns)),
	}
	for k, v := range m.stock {
		s.stock[k] = v
	}
	for k, v := range m.carts {
		s.carts[k] = slices.Clone(v)
	}
	for k, v := range m.vouchers {
		s.vouchers[k] = v
	}
	for k, v := range m.orders {
		s.orders[k] = cloneOrder(v)
	}
	for k, v := range m.txns {
		cp := *v
		s.txns[k] = &cp
	}
	return s
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock = s.stock
	m.carts = s.carts
	m.vouchers = s.vouchers
	m.orders = s.orders
	m.txns = s.txns
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	return &cp
}

// Transactor.

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// Seeding helpers.

func (m *memStore) addVariant(v catalog.Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v.Key] = v
	m.stock[v.Key] = v.Stock
}

func (m *memStore) setCart(userID int64, items ...catalog.CartItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = items
}

func (m *memStore) setAddress(userID, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[userID] = &catalog.Address{ID: id, UserID: userID, IsDefault: true}
}

func (m *memStore) addVoucher(v voucher.Voucher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers[strings.ToUpper(v.Code)] = v
}

func (m *memStore) putOrder(o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(o)
}

func (m *memStore) stockOf(k inventory.VariantKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[k]
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) cartLen(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.carts[userID])
}

func (m *memStore) usedCount(code string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vouchers[strings.ToUpper(code)].UsedCount
}

func (m *memStore) txn(ref string) *payment.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[ref]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// catalog ports.

func (m *memStore) GetVariant(_ context.Context, key inventory.VariantKey) (*catalog.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[key]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	v.Stock = m.stock[key]
	return &v, nil
}

func (m *memStore) Items(_ context.Context, userID int64) ([]catalog.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.carts[userID]), nil
}

func (m *memStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	return nil
}

func (m *memStore) DefaultAddress(_ context.Context, userID int64) (*catalog.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.addresses[userID]
	if !ok {
		return nil, catalog.ErrNoDefaultAddress
	}
	return a, nil
}

// inventory.Ledger.

func (m *memStore) Decrement(_ context.Context, key inventory.VariantKey, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.stock[key]
	if !ok {
		return inventory.ErrVariantNotFound
	}
	if cur < qty {
		return &inventory.InsufficientStockError{Key: key, Requested: qty}
	}
	m.stock[key] = cur - qty
	return nil
}

func (m *memStore) Release(_ context.Context, key inventory.VariantKey, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[key]; !ok {
		return inventory.ErrVariantNotFound
	}
	m.stock[key] += qty
	return nil
}

// voucher.Repository.

type memVouchers struct{ *memStore }

func (m memVouchers) FindByCode(_ context.Context, code string) (*voucher.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[strings.ToUpper(code)]
	if !ok {
		return nil, voucher.ErrNotFound
	}
	return &v, nil
}

func (m memVouchers) ConsumeUsage(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.vouchers {
		if v.ID != id {
			continue
		}
		if v.UsedCount >= v.UsageLimit {
			return voucher.ErrUsageExhausted
		}
		v.UsedCount++
		m.vouchers[k] = v
		return nil
	}
	return voucher.ErrUsageExhausted
}

// payment.Store.

type memTxns struct{ *memStore }

func (m memTxns) CreatePending(_ context.Context, t *payment.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[t.TxnRef]; ok {
		return errors.New("duplicate txn ref")
	}
	cp := *t
	m.txns[t.TxnRef] = &cp
	return nil
}

func (m memTxns) Get(_ context.Context, ref string) (*payment.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[ref]
	if !ok {
		return nil, payment.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (m memTxns) Resolve(_ context.Context, res payment.Resolution) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[res.TxnRef]
	if !ok || t.ResponseCode != nil {
		return false, nil
	}
	code := res.ResponseCode
	at := res.At
	t.ResponseCode = &code
	t.ResponseMessage = res.Message
	t.SecureHash = res.SecureHash
	t.ResolvedAt = &at
	return true, nil
}

// Repository.

type memOrders struct{ *memStore }

func (m memOrders) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	o.ID = m.nextID
	now := time.Now()
	o.CreatedAt, o.UpdatedAt = now, now
	for i := range o.Lines {
		o.Lines[i].OrderID = o.ID
		o.Lines[i].ID = int64(i + 1)
	}
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m memOrders) Get(_ context.Context, id int64) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m memOrders) List(_ context.Context, f ListFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.DeletedAt != nil {
			continue
		}
		if f.UserID != 0 && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	slices.SortFunc(out, func(a, b Order) int { return int(b.ID - a.ID) })
	return out, nil
}

func (m memOrders) UpdateStatus(_ context.Context, o *Order, from Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok || cur.Status != from {
		return ErrStatusConflict
	}
	cur.Status = o.Status
	cur.PaymentStatus = o.PaymentStatus
	cur.StatusReason = o.StatusReason
	cur.DeliveredAt = o.DeliveredAt
	cur.UpdatedAt = o.UpdatedAt
	return nil
}

func (m memOrders) DeleteUnpaid(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.DeletedAt != nil || o.Status != StatusPending || o.PaymentStatus != PaymentUnpaid {
		return false, nil
	}
	delete(m.orders, id)
	return true, nil
}

func (m memOrders) Archive(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.DeletedAt = &at
	return nil
}

func (m memOrders) ListDeliveredBefore(_ context.Context, cutoff time.Time, limit int) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.Status == StatusDelivered && o.DeliveredAt != nil && o.DeliveredAt.Before(cutoff) {
			out = append(out, *cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b Order) int { return int(a.ID - b.ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Notifier and guard.

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (r *recordingNotifier) Dispatch(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type memGuard struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released []string
	err      error
}

func (g *memGuard) Acquire(_ context.Context, _ int64, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.claimed == nil {
		g.claimed = map[string]bool{}
	}
	if g.claimed[key] {
		return false, nil
	}
	g.claimed[key] = true
	return true, nil
}

func (g *memGuard) Release(_ context.Context, _ int64, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, key)
	g.released = append(g.released, key)
	return nil
}

// failingPayments wraps a real adapter and fails Begin.
type failingPayments struct {
	Payments
	err error
}

func (f failingPayments) Begin(context.Context, payment.Checkout) (string, error) {
	return "", f.err
}

func vnd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
