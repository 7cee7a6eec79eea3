// Package account defines the credit-holding ledger account.
package account

import (
	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/types"
)

// Account holds a user's spendable credit balance. The balance is never
// negative and is mutated only through the store's atomic ledger
// primitives, alongside the transaction append.
type Account struct {
	types.Entity
	ID      id.AccountID `json:"id"`
	Balance int64        `json:"balance"`
}
