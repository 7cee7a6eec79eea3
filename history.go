package quota

import (
	"context"

	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/txn"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// TransactionPage is one page of an account's ledger, newest first.
type TransactionPage struct {
	Items      []*txn.Transaction `json:"items"`
	Page       int                `json:"page"`
	PerPage    int                `json:"per_page"`
	Total      int64              `json:"total"`
	TotalPages int                `json:"total_pages"`
}

// Transactions returns one page of the account's ledger entries,
// newest first. Page numbers start at 1; a page past the end returns
// an empty item list with the true total.
func (e *Engine) Transactions(ctx context.Context, accountID id.AccountID, page, perPage int) (*TransactionPage, error) {
	page, perPage = normalizePage(page, perPage)

	items, total, err := e.store.ListTransactions(ctx, accountID, txn.ListOpts{
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		return nil, err
	}
	return &TransactionPage{
		Items:      items,
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages(total, perPage),
	}, nil
}

// normalizePage clamps paging parameters to sane bounds.
func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage
}

// totalPages is a ceiling division; zero entries means zero pages.
func totalPages(total int64, perPage int) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
