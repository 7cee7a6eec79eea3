// Package plugin defines the hook interfaces the engine notifies after
// state changes, plus the registry that dispatches to them.
//
// Hooks observe; they cannot veto. The engine emits events after the
// store has committed, so a hook error can only be logged, never rolled
// into the operation's result.
package plugin

import (
	"context"

	"github.com/slidecraft/quota/account"
	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/order"
	"github.com/slidecraft/quota/txn"
)

// Plugin is the base interface all plugins implement. Behavior comes
// from the optional hook interfaces below; the registry detects them at
// registration time.
type Plugin interface {
	// Name returns a unique, stable identifier for the plugin.
	Name() string
}

// InitHook runs when the engine starts.
type InitHook interface {
	Plugin
	OnInit(ctx context.Context) error
}

// ShutdownHook runs when the engine shuts down.
type ShutdownHook interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// AccountHook observes account lifecycle events.
type AccountHook interface {
	Plugin
	OnAccountOpened(ctx context.Context, ev AccountOpenedEvent) error
}

// LedgerHook observes balance-changing ledger events and rejected
// consumes.
type LedgerHook interface {
	Plugin
	OnConsumed(ctx context.Context, ev ConsumedEvent) error
	OnQuotaExceeded(ctx context.Context, ev QuotaExceededEvent) error
	OnRefunded(ctx context.Context, ev RefundedEvent) error
	OnGranted(ctx context.Context, ev GrantedEvent) error
}

// OrderHook observes order lifecycle events.
type OrderHook interface {
	Plugin
	OnOrderCreated(ctx context.Context, ev OrderEvent) error
	OnOrderSettled(ctx context.Context, ev OrderSettledEvent) error
	OnOrderCancelled(ctx context.Context, ev OrderEvent) error
}

// AccountOpenedEvent is emitted after an account is created.
type AccountOpenedEvent struct {
	Account     account.Account
	SignupBonus int64 // Credits granted at opening, zero if none
}

// ConsumedEvent is emitted after a successful consume.
type ConsumedEvent struct {
	Entry  txn.Transaction
	Action string
	Count  int64
}

// QuotaExceededEvent is emitted when a consume is rejected for
// insufficient balance. No ledger entry exists for it.
type QuotaExceededEvent struct {
	AccountID id.AccountID
	Action    string
	Count     int64
	Required  int64
	Available int64
}

// RefundedEvent is emitted after a consume is reversed.
type RefundedEvent struct {
	Entry    txn.Transaction
	RefundOf id.TransactionID
}

// GrantedEvent is emitted after credits are granted outside order
// settlement (gifts, signup bonuses).
type GrantedEvent struct {
	Entry txn.Transaction
}

// OrderEvent is emitted on order creation and cancellation.
type OrderEvent struct {
	Order order.Order
}

// OrderSettledEvent is emitted after an order settles, together with
// the purchase entry it produced.
type OrderSettledEvent struct {
	Order order.Order
	Grant txn.Transaction
}
