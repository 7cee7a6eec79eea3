// Package order defines credit purchase orders and the built-in
// package catalog they are priced from.
package order

import (
	"fmt"
	"time"

	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/types"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"   // Created, awaiting payment
	StatusPaid      Status = "paid"      // Settled; credits granted
	StatusRefunded  Status = "refunded"  // Payment reversed after settlement
	StatusCancelled Status = "cancelled" // Abandoned before payment
)

// Order records a credit purchase. Amount is the money charged and
// QuotaAmount the credits granted when the order settles. A paid order
// is immutable except for the transition to refunded.
type Order struct {
	types.Entity
	ID            id.OrderID   `json:"id"`
	AccountID     id.AccountID `json:"account_id"`
	Number        string       `json:"number"`
	PackageKey    string       `json:"package_key"`
	Amount        types.Money  `json:"amount"`
	QuotaAmount   int64        `json:"quota_amount"`
	Status        Status       `json:"status"`
	PaymentMethod string       `json:"payment_method,omitempty"`
	PaymentRef    string       `json:"payment_ref,omitempty"`
	PaidAt        *time.Time   `json:"paid_at,omitempty"`
}

// Package is a purchasable credit bundle.
type Package struct {
	Key         string      `json:"key"`
	Name        string      `json:"name"`
	QuotaAmount int64       `json:"quota_amount"`
	Price       types.Money `json:"price"`
}

// Packages is the built-in catalog, keyed by package key.
func Packages() map[string]Package {
	return map[string]Package{
		"10_pack": {
			Key:         "10_pack",
			Name:        "10 credits",
			QuotaAmount: 10,
			Price:       types.CNY(1800),
		},
		"50_pack": {
			Key:         "50_pack",
			Name:        "50 credits",
			QuotaAmount: 50,
			Price:       types.CNY(8000),
		},
		"100_pack": {
			Key:         "100_pack",
			Name:        "100 credits",
			QuotaAmount: 100,
			Price:       types.CNY(15000),
		},
		"500_pack": {
			Key:         "500_pack",
			Name:        "500 credits",
			QuotaAmount: 500,
			Price:       types.CNY(70000),
		},
	}
}

// NewNumber builds a human-readable order number from the creation time:
// "ORD" followed by a millisecond-precision timestamp. Uniqueness is not
// guaranteed here; the order ID is the authoritative identifier.
func NewNumber(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("ORD%s%03d", at.Format("20060102150405"), at.Nanosecond()/1e6)
}

// ListOpts controls order listing pagination.
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
