// Package store defines the persistence interface for the quota engine.
//
// Implementations must make every balance mutation atomic: the balance
// check, the account update, and the ledger append happen in one unit
// that other writers cannot interleave with. The memory driver uses a
// per-account lock, the SQL drivers a transaction with a row lock on
// the account.
package store

import (
	"context"
	"time"

	"github.com/slidecraft/quota/account"
	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/order"
	"github.com/slidecraft/quota/txn"
)

// Store is the complete persistence interface. Drivers return the
// sentinel errors from the root quota package so callers can branch
// with errors.Is regardless of the backend.
type Store interface {
	AccountStore
	LedgerStore
	OrderStore

	// Migrate creates or upgrades the backing schema. No-op for the
	// memory driver.
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend resources. The store is unusable
	// afterwards.
	Close() error
}

// AccountStore manages credit accounts.
type AccountStore interface {
	// CreateAccount persists a new account. Returns ErrAccountExists
	// when the ID is already taken.
	CreateAccount(ctx context.Context, acct *account.Account) error

	// GetAccount returns the account, or ErrAccountNotFound.
	GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error)
}

// LedgerStore appends to and reads the transaction ledger.
type LedgerStore interface {
	// Debit atomically applies a negative-amount entry. The entry
	// arrives with ID, AccountID, Amount (< 0), Kind, and annotations
	// set; the store fills BalanceAfter. When the balance cannot cover
	// the debit the store changes nothing and returns an
	// *quota.InsufficientQuotaError carrying the available balance.
	Debit(ctx context.Context, entry *txn.Transaction) (*txn.Transaction, error)

	// Credit atomically applies a positive-amount entry, filling
	// BalanceAfter.
	Credit(ctx context.Context, entry *txn.Transaction) (*txn.Transaction, error)

	// RefundConsume atomically reverses a consume entry. The refund
	// arrives with ID, Kind, Description, Metadata.RefundOf, and
	// CreatedAt set; the store copies AccountID, ProjectID, and the
	// negated Amount from the target inside the same unit that marks
	// the target's RefundedBy and credits the balance back. Returns
	// ErrTransactionNotFound, ErrInvalidRefundTarget for a non-consume
	// or non-negative target, or ErrAlreadyRefunded.
	RefundConsume(ctx context.Context, targetID id.TransactionID, refund *txn.Transaction) (*txn.Transaction, error)

	// GetTransaction returns the entry, or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, transactionID id.TransactionID) (*txn.Transaction, error)

	// ListTransactions returns one page of the account's entries,
	// newest first, plus the total entry count for the account.
	ListTransactions(ctx context.Context, accountID id.AccountID, opts txn.ListOpts) ([]*txn.Transaction, int64, error)
}

// OrderStore manages purchase orders and their settlement.
type OrderStore interface {
	// CreateOrder persists a new pending order.
	CreateOrder(ctx context.Context, ord *order.Order) error

	// GetOrder returns the order, or ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error)

	// ListOrders returns one page of the account's orders, newest
	// first, plus the total order count for the account.
	ListOrders(ctx context.Context, accountID id.AccountID, opts order.ListOpts) ([]*order.Order, int64, error)

	// SettleOrder atomically transitions a pending order to paid,
	// records the payment details, credits the order's quota to the
	// account, and appends the grant entry. The grant arrives with ID,
	// Kind, Description, and annotations set; the store copies
	// AccountID, OrderID, and Amount from the order. Returns
	// ErrInvalidOrderState when the order is not pending, leaving
	// everything untouched.
	SettleOrder(ctx context.Context, orderID id.OrderID, method, paymentRef string, paidAt time.Time, grant *txn.Transaction) (*order.Order, *txn.Transaction, error)

	// CancelOrder transitions a pending order to cancelled. Returns
	// ErrPaidOrderImmutable for a paid order, ErrOrderCancelled for an
	// already-cancelled one, and ErrInvalidOrderState otherwise.
	CancelOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error)
}
