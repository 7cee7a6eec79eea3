// Package memory provides an in-memory Store for tests and examples.
//
// A single mutex serializes every mutation, which makes the
// check-then-write ledger primitives trivially atomic. All reads and
// writes clone, so callers can never alias internal state.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/slidecraft/quota"
	"github.com/slidecraft/quota/account"
	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/order"
	"github.com/slidecraft/quota/store"
	"github.com/slidecraft/quota/txn"
)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu       sync.RWMutex
	closed   bool
	accounts map[string]*account.Account
	txns     map[string]*txn.Transaction
	orders   map[string]*order.Order
	// byAccount keeps insertion order per account so listings can be
	// returned newest first without comparing timestamps.
	txnsByAccount   map[string][]string
	ordersByAccount map[string][]string
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:        make(map[string]*account.Account),
		txns:            make(map[string]*txn.Transaction),
		orders:          make(map[string]*order.Order),
		txnsByAccount:   make(map[string][]string),
		ordersByAccount: make(map[string][]string),
	}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(ctx context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return quota.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent calls fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CreateAccount implements store.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, acct *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return quota.ErrStoreClosed
	}
	key := acct.ID.String()
	if _, ok := s.accounts[key]; ok {
		return quota.ErrAccountExists
	}
	s.accounts[key] = cloneAccount(acct)
	return nil
}

// GetAccount implements store.AccountStore.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, quota.ErrStoreClosed
	}
	acct, ok := s.accounts[accountID.String()]
	if !ok {
		return nil, quota.ErrAccountNotFound
	}
	return cloneAccount(acct), nil
}

// Debit implements store.LedgerStore.
func (s *Store) Debit(ctx context.Context, entry *txn.Transaction) (*txn.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, quota.ErrStoreClosed
	}
	acct, ok := s.accounts[entry.AccountID.String()]
	if !ok {
		return nil, quota.ErrAccountNotFound
	}
	required := -entry.Amount
	if acct.Balance < required {
		return nil, &quota.InsufficientQuotaError{Required: required, Available: acct.Balance}
	}
	return s.apply(acct, entry), nil
}

// Credit implements store.LedgerStore.
func (s *Store) Credit(ctx context.Context, entry *txn.Transaction) (*txn.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, quota.ErrStoreClosed
	}
	acct, ok := s.accounts[entry.AccountID.String()]
	if !ok {
		return nil, quota.ErrAccountNotFound
	}
	return s.apply(acct, entry), nil
}

// RefundConsume implements store.LedgerStore.
func (s *Store) RefundConsume(ctx context.Context, targetID id.TransactionID, refund *txn.Transaction) (*txn.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, quota.ErrStoreClosed
	}
	target, ok := s.txns[targetID.String()]
	if !ok {
		return nil, quota.ErrTransactionNotFound
	}
	// Zero-amount consumes (free actions) are not refundable either.
	if target.Kind != txn.KindConsume || target.Amount >= 0 {
		return nil, quota.ErrInvalidRefundTarget
	}
	if !target.RefundedBy.IsNil() {
		return nil, quota.ErrAlreadyRefunded
	}
	acct, ok := s.accounts[target.AccountID.String()]
	if !ok {
		return nil, quota.ErrAccountNotFound
	}

	refund.AccountID = target.AccountID
	refund.ProjectID = target.ProjectID
	refund.Amount = -target.Amount
	target.RefundedBy = refund.ID
	return s.apply(acct, refund), nil
}

// apply mutates the balance, snapshots it into the entry, and appends
// the entry. Callers hold the write lock.
func (s *Store) apply(acct *account.Account, entry *txn.Transaction) *txn.Transaction {
	acct.Balance += entry.Amount
	acct.Touch()
	entry.BalanceAfter = acct.Balance

	stored := cloneTxn(entry)
	key := entry.ID.String()
	s.txns[key] = stored
	acctKey := acct.ID.String()
	s.txnsByAccount[acctKey] = append(s.txnsByAccount[acctKey], key)
	return cloneTxn(stored)
}

// GetTransaction implements store.LedgerStore.
func (s *Store) GetTransaction(ctx context.Context, transactionID id.TransactionID) (*txn.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, quota.ErrStoreClosed
	}
	entry, ok := s.txns[transactionID.String()]
	if !ok {
		return nil, quota.ErrTransactionNotFound
	}
	return cloneTxn(entry), nil
}

// ListTransactions implements store.LedgerStore.
func (s *Store) ListTransactions(ctx context.Context, accountID id.AccountID, opts txn.ListOpts) ([]*txn.Transaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, quota.ErrStoreClosed
	}
	if _, ok := s.accounts[accountID.String()]; !ok {
		return nil, 0, quota.ErrAccountNotFound
	}

	keys := s.txnsByAccount[accountID.String()]
	total := int64(len(keys))
	start, end := pageBounds(len(keys), opts.Offset(), opts.PerPage)

	// keys are in insertion order; walk them backwards for newest
	// first.
	page := make([]*txn.Transaction, 0, end-start)
	for i := start; i < end; i++ {
		page = append(page, cloneTxn(s.txns[keys[len(keys)-1-i]]))
	}
	return page, total, nil
}

// CreateOrder implements store.OrderStore.
func (s *Store) CreateOrder(ctx context.Context, ord *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return quota.ErrStoreClosed
	}
	if _, ok := s.accounts[ord.AccountID.String()]; !ok {
		return quota.ErrAccountNotFound
	}
	key := ord.ID.String()
	s.orders[key] = cloneOrder(ord)
	acctKey := ord.AccountID.String()
	s.ordersByAccount[acctKey] = append(s.ordersByAccount[acctKey], key)
	return nil
}

// GetOrder implements store.OrderStore.
func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, quota.ErrStoreClosed
	}
	ord, ok := s.orders[orderID.String()]
	if !ok {
		return nil, quota.ErrOrderNotFound
	}
	return cloneOrder(ord), nil
}

// ListOrders implements store.OrderStore.
func (s *Store) ListOrders(ctx context.Context, accountID id.AccountID, opts order.ListOpts) ([]*order.Order, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, quota.ErrStoreClosed
	}
	if _, ok := s.accounts[accountID.String()]; !ok {
		return nil, 0, quota.ErrAccountNotFound
	}

	keys := s.ordersByAccount[accountID.String()]
	total := int64(len(keys))
	start, end := pageBounds(len(keys), opts.Offset(), opts.PerPage)

	page := make([]*order.Order, 0, end-start)
	for i := start; i < end; i++ {
		page = append(page, cloneOrder(s.orders[keys[len(keys)-1-i]]))
	}
	return page, total, nil
}

// SettleOrder implements store.OrderStore.
func (s *Store) SettleOrder(ctx context.Context, orderID id.OrderID, method, paymentRef string, paidAt time.Time, grant *txn.Transaction) (*order.Order, *txn.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, quota.ErrStoreClosed
	}
	ord, ok := s.orders[orderID.String()]
	if !ok {
		return nil, nil, quota.ErrOrderNotFound
	}
	if ord.Status != order.StatusPending {
		return nil, nil, quota.ErrInvalidOrderState
	}
	acct, ok := s.accounts[ord.AccountID.String()]
	if !ok {
		return nil, nil, quota.ErrAccountNotFound
	}

	ord.Status = order.StatusPaid
	ord.PaymentMethod = method
	ord.PaymentRef = paymentRef
	at := paidAt
	ord.PaidAt = &at
	ord.Touch()

	grant.AccountID = ord.AccountID
	grant.OrderID = ord.ID
	grant.Amount = ord.QuotaAmount
	applied := s.apply(acct, grant)
	return cloneOrder(ord), applied, nil
}

// CancelOrder implements store.OrderStore.
func (s *Store) CancelOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, quota.ErrStoreClosed
	}
	ord, ok := s.orders[orderID.String()]
	if !ok {
		return nil, quota.ErrOrderNotFound
	}
	switch ord.Status {
	case order.StatusPending:
	case order.StatusPaid:
		return nil, quota.ErrPaidOrderImmutable
	case order.StatusCancelled:
		return nil, quota.ErrOrderCancelled
	default:
		return nil, quota.ErrInvalidOrderState
	}

	ord.Status = order.StatusCancelled
	ord.Touch()
	return cloneOrder(ord), nil
}

// pageBounds clamps an offset/limit window to [0, n].
func pageBounds(n, offset, limit int) (int, int) {
	if limit <= 0 || offset >= n {
		return 0, 0
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}

func cloneAccount(a *account.Account) *account.Account {
	c := *a
	return &c
}

func cloneTxn(t *txn.Transaction) *txn.Transaction {
	c := *t
	return &c
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	if o.PaidAt != nil {
		at := *o.PaidAt
		c.PaidAt = &at
	}
	return &c
}

// Dump returns every transaction for an account in insertion order.
// Intended for tests asserting ledger invariants.
func (s *Store) Dump(accountID id.AccountID) []*txn.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.txnsByAccount[accountID.String()]
	out := make([]*txn.Transaction, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneTxn(s.txns[k]))
	}
	return out
}
