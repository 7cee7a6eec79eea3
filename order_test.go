package quota_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidecraft/quota"
	"github.com/slidecraft/quota/order"
	"github.com/slidecraft/quota/txn"
)

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	ord, err := engine.CreateOrder(ctx, acct.ID, "10_pack")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, ord.Status)
	assert.Equal(t, int64(10), ord.QuotaAmount)
	assert.True(t, ord.Amount.Equal(quota.Money{Amount: 1800, Currency: "cny"}))
	assert.Regexp(t, `^ORD\d{17}$`, ord.Number)
	assert.Nil(t, ord.PaidAt)

	// Creating an order grants nothing.
	balance, err := engine.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestCreateOrderUnknownPackage(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	_, err = engine.CreateOrder(ctx, acct.ID, "1000000_pack")
	assert.ErrorIs(t, err, quota.ErrUnknownPackage)
}

func TestSettleOrder(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)
	ord, err := engine.CreateOrder(ctx, acct.ID, "10_pack")
	require.NoError(t, err)

	settled, grant, err := engine.SettleOrder(ctx, ord.ID, "alipay", "PAY1")
	require.NoError(t, err)

	assert.Equal(t, order.StatusPaid, settled.Status)
	assert.Equal(t, "alipay", settled.PaymentMethod)
	assert.Equal(t, "PAY1", settled.PaymentRef)
	require.NotNil(t, settled.PaidAt)

	assert.Equal(t, txn.KindPurchase, grant.Kind)
	assert.Equal(t, int64(10), grant.Amount)
	assert.Equal(t, int64(10), grant.BalanceAfter)
	assert.Equal(t, ord.ID, grant.OrderID)
	assert.Equal(t, ord.Number, grant.Metadata.OrderNumber)

	balance, err := engine.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}

func TestSettleOrderTwice(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)
	ord, err := engine.CreateOrder(ctx, acct.ID, "50_pack")
	require.NoError(t, err)

	_, _, err = engine.SettleOrder(ctx, ord.ID, "alipay", "PAY1")
	require.NoError(t, err)

	// A duplicate payment callback must not double-grant.
	_, _, err = engine.SettleOrder(ctx, ord.ID, "alipay", "PAY1")
	assert.ErrorIs(t, err, quota.ErrInvalidOrderState)

	balance, err := engine.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	page, err := engine.Transactions(ctx, acct.ID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestCancelOrder(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)
	ord, err := engine.CreateOrder(ctx, acct.ID, "10_pack")
	require.NoError(t, err)

	cancelled, err := engine.CancelOrder(ctx, ord.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, cancelled.Status)

	_, err = engine.CancelOrder(ctx, ord.ID)
	assert.ErrorIs(t, err, quota.ErrOrderCancelled)

	// A cancelled order can never settle.
	_, _, err = engine.SettleOrder(ctx, ord.ID, "alipay", "PAY2")
	assert.ErrorIs(t, err, quota.ErrInvalidOrderState)
}

func TestCancelPaidOrder(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)
	ord, err := engine.CreateOrder(ctx, acct.ID, "10_pack")
	require.NoError(t, err)
	_, _, err = engine.SettleOrder(ctx, ord.ID, "wechat", "PAY3")
	require.NoError(t, err)

	_, err = engine.CancelOrder(ctx, ord.ID)
	assert.ErrorIs(t, err, quota.ErrPaidOrderImmutable)
}

func TestOrdersPagination(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	for range 5 {
		_, err := engine.CreateOrder(ctx, acct.ID, "10_pack")
		require.NoError(t, err)
	}

	page, err := engine.Orders(ctx, acct.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 3, page.TotalPages)
}

func TestPackagesCatalog(t *testing.T) {
	engine := newEngine(t)

	pkgs := engine.Packages()
	require.Contains(t, pkgs, "100_pack")
	assert.Equal(t, int64(100), pkgs["100_pack"].QuotaAmount)
	assert.True(t, pkgs["100_pack"].Price.Equal(quota.Money{Amount: 15000, Currency: "cny"}))
}
