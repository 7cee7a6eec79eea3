// Package txn defines the append-only ledger transaction.
package txn

import (
	"time"

	"github.com/slidecraft/quota/id"
)

// Kind is the business reason for a balance change.
type Kind string

const (
	KindPurchase Kind = "purchase" // Grant settled from a paid order
	KindConsume  Kind = "consume"  // Debit for a priced action
	KindRefund   Kind = "refund"   // Reversal of a prior consume
	KindGift     Kind = "gift"     // Grant without an order (signup bonus, promo)
	KindExpire   Kind = "expire"   // Reserved for a future expiry process
)

// Transaction is a single immutable entry in the credit ledger.
// Amount is signed: negative for consume, positive for every grant kind.
// BalanceAfter snapshots the account balance immediately after the entry
// was applied and always equals the running sum of amounts for the account.
type Transaction struct {
	ID           id.TransactionID `json:"id"`
	AccountID    id.AccountID     `json:"account_id"`
	Amount       int64            `json:"amount"`
	BalanceAfter int64            `json:"balance_after"`
	Kind         Kind             `json:"kind"`
	OrderID      id.OrderID       `json:"order_id,omitempty"`   // Set only for purchase
	ProjectID    id.ProjectID     `json:"project_id,omitempty"` // Set for consume and its refund
	Description  string           `json:"description,omitempty"`
	Metadata     Metadata         `json:"metadata,omitempty"`
	// RefundedBy marks a consume that has already been reversed. It is the
	// only field ever written after creation, and only inside the same
	// atomic unit that appends the refund entry.
	RefundedBy id.TransactionID `json:"refunded_by,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Metadata is the closed annotation schema for transactions. Which fields
// are set depends on the kind; all are non-authoritative.
type Metadata struct {
	Action      string           `json:"action,omitempty"`       // consume: the priced action
	Count       int64            `json:"count,omitempty"`        // consume: units charged for
	RefundOf    id.TransactionID `json:"refund_of,omitempty"`    // refund: the reversed consume
	OrderNumber string           `json:"order_number,omitempty"` // purchase: human-readable order number
}

// IsZero reports whether no metadata field is set.
func (m Metadata) IsZero() bool {
	return m.Action == "" && m.Count == 0 && m.RefundOf.IsNil() && m.OrderNumber == ""
}

// ListOpts controls transaction history pagination.
type ListOpts struct {
	Page    int // 1-based; values below 1 are treated as 1
	PerPage int // must be positive
}

// Offset returns the number of entries to skip for the requested page.
func (o ListOpts) Offset() int {
	page := o.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * o.PerPage
}
