package quota_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidecraft/quota"
)

func TestTransactionsPagination(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	// 25 grants of increasing amounts; grant i has amount i+1.
	for i := range 25 {
		_, err := engine.Grant(ctx, acct.ID, int64(i+1), fmt.Sprintf("grant %d", i+1))
		require.NoError(t, err)
	}

	page, err := engine.Transactions(ctx, acct.ID, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.Items, 10)

	// Newest first: page 2 holds the 11th through 20th newest, which
	// are grants 15 down to 6.
	assert.Equal(t, int64(15), page.Items[0].Amount)
	assert.Equal(t, int64(6), page.Items[9].Amount)
}

func TestTransactionsPastTheEnd(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)
	_, err = engine.Grant(ctx, acct.ID, 1, "only entry")
	require.NoError(t, err)

	page, err := engine.Transactions(ctx, acct.ID, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 1, page.TotalPages)
}

func TestTransactionsDefaults(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	// Out-of-range paging parameters are clamped, not rejected.
	page, err := engine.Transactions(ctx, acct.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PerPage)

	page, err = engine.Transactions(ctx, acct.ID, 1, 100000)
	require.NoError(t, err)
	assert.Equal(t, 100, page.PerPage)
}

func TestTransactionsUnknownAccount(t *testing.T) {
	engine := newEngine(t)

	_, err := engine.Transactions(context.Background(), quota.AccountID{}, 1, 10)
	assert.ErrorIs(t, err, quota.ErrAccountNotFound)
}
