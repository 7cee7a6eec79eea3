package quota

import (
	"github.com/slidecraft/quota/account"
	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/order"
	"github.com/slidecraft/quota/txn"
	"github.com/slidecraft/quota/types"
)

// Re-exported domain types so that most callers only import the root
// package.
type (
	// Account holds a credit balance.
	Account = account.Account

	// Transaction is one immutable ledger entry.
	Transaction = txn.Transaction

	// TransactionKind is the business reason for a balance change.
	TransactionKind = txn.Kind

	// Order is a credit purchase.
	Order = order.Order

	// OrderStatus is the lifecycle state of an order.
	OrderStatus = order.Status

	// Package is a purchasable credit bundle.
	Package = order.Package

	// Money is a monetary value in the smallest currency unit.
	Money = types.Money

	// AccountID identifies an account.
	AccountID = id.AccountID

	// TransactionID identifies a ledger entry.
	TransactionID = id.TransactionID

	// OrderID identifies an order.
	OrderID = id.OrderID

	// ProjectID identifies the project a consume was spent on.
	ProjectID = id.ProjectID
)

// Transaction kinds.
const (
	KindPurchase = txn.KindPurchase
	KindConsume  = txn.KindConsume
	KindRefund   = txn.KindRefund
	KindGift     = txn.KindGift
	KindExpire   = txn.KindExpire
)

// Order statuses.
const (
	OrderPending   = order.StatusPending
	OrderPaid      = order.StatusPaid
	OrderRefunded  = order.StatusRefunded
	OrderCancelled = order.StatusCancelled
)
