package quota_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidecraft/quota"
	"github.com/slidecraft/quota/costs"
	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/store/memory"
	"github.com/slidecraft/quota/txn"
)

func newEngine(t *testing.T, opts ...quota.Option) *quota.Engine {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := quota.New(memory.New(), append([]quota.Option{quota.WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { engine.Close(context.Background()) })
	return engine
}

func TestOpenAccount(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)
	assert.False(t, acct.ID.IsNil())
	assert.Equal(t, int64(0), acct.Balance)
}

func TestOpenAccountSignupBonus(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(3))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), acct.Balance)

	page, err := engine.Transactions(ctx, acct.ID, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, txn.KindGift, page.Items[0].Kind)
	assert.Equal(t, int64(3), page.Items[0].Amount)
	assert.Equal(t, int64(3), page.Items[0].BalanceAfter)
}

func TestBalanceUnknownAccount(t *testing.T) {
	engine := newEngine(t)

	_, err := engine.Balance(context.Background(), quota.AccountID{})
	assert.ErrorIs(t, err, quota.ErrAccountNotFound)
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(10))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	entry, err := engine.Consume(ctx, acct.ID, "generate_image", 3,
		quota.WithDescription("hero images"))
	require.NoError(t, err)
	assert.Equal(t, int64(-3), entry.Amount)
	assert.Equal(t, int64(7), entry.BalanceAfter)
	assert.Equal(t, txn.KindConsume, entry.Kind)
	assert.Equal(t, "generate_image", entry.Metadata.Action)
	assert.Equal(t, int64(3), entry.Metadata.Count)
	assert.Equal(t, "hero images", entry.Description)

	balance, err := engine.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance)
}

func TestConsumeInsufficient(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(2))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	_, err = engine.Consume(ctx, acct.ID, "generate_image", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, quota.ErrInsufficientQuota)

	var insufficient *quota.InsufficientQuotaError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(5), insufficient.Required)
	assert.Equal(t, int64(2), insufficient.Available)

	// A rejected consume leaves no trace: balance and ledger unchanged.
	balance, err := engine.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)

	page, err := engine.Transactions(ctx, acct.ID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, page.Items, 1) // just the signup bonus
}

func TestConsumeTruncation(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(10))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	// generate_description costs 0.1: five of them truncate to zero.
	entry, err := engine.Consume(ctx, acct.ID, "generate_description", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.Amount)
	assert.Equal(t, int64(10), entry.BalanceAfter)

	// Ten reach a whole credit.
	entry, err = engine.Consume(ctx, acct.ID, "generate_description", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), entry.Amount)
	assert.Equal(t, int64(9), entry.BalanceAfter)
}

func TestConsumeInvalidCount(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(10))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	for _, count := range []int64{0, -1} {
		_, err := engine.Consume(ctx, acct.ID, "generate_image", count)
		assert.ErrorIs(t, err, quota.ErrInvalidConsumeCount)
	}
}

func TestConsumeCustomCosts(t *testing.T) {
	ctx := context.Background()

	table, err := costs.New(map[string]decimal.Decimal{
		"render_video": decimal.RequireFromString("2.5"),
	})
	require.NoError(t, err)

	engine := newEngine(t, quota.WithSignupBonus(10), quota.WithCosts(table))
	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	entry, err := engine.Consume(ctx, acct.ID, "render_video", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(-7), entry.Amount) // 2.5 * 3 = 7.5 truncated
}

func TestConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(10))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	// Two racing consumes of 6 against a balance of 10: exactly one
	// must win, and the loser must leave no trace.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Consume(ctx, acct.ID, "generate_image", 6)
		}(i)
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, quota.ErrInsufficientQuota)
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	balance, err := engine.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance)
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(2))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	res, err := engine.Check(ctx, acct.ID, "generate_image", 2)
	require.NoError(t, err)
	assert.True(t, res.Sufficient)
	assert.Equal(t, int64(2), res.Required)
	assert.Equal(t, int64(2), res.Available)

	res, err = engine.Check(ctx, acct.ID, "generate_image", 3)
	require.NoError(t, err)
	assert.False(t, res.Sufficient)
	assert.Equal(t, int64(3), res.Required)

	// Check never mutates.
	balance, err := engine.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(10))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	consumed, err := engine.Consume(ctx, acct.ID, "generate_image", 4)
	require.NoError(t, err)

	refund, err := engine.Refund(ctx, consumed.ID, "generation failed")
	require.NoError(t, err)
	assert.Equal(t, int64(4), refund.Amount)
	assert.Equal(t, int64(10), refund.BalanceAfter)
	assert.Equal(t, txn.KindRefund, refund.Kind)
	assert.Equal(t, consumed.ID, refund.Metadata.RefundOf)

	// The consume is now marked and cannot be refunded twice.
	_, err = engine.Refund(ctx, consumed.ID, "again")
	assert.ErrorIs(t, err, quota.ErrAlreadyRefunded)

	reloaded, err := engine.Transaction(ctx, consumed.ID)
	require.NoError(t, err)
	assert.Equal(t, refund.ID, reloaded.RefundedBy)
}

func TestRefundCopiesProject(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(10))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	projectID := id.NewProjectID()
	consumed, err := engine.Consume(ctx, acct.ID, "generate_image", 1,
		quota.WithProject(projectID))
	require.NoError(t, err)

	refund, err := engine.Refund(ctx, consumed.ID, "retry")
	require.NoError(t, err)
	assert.Equal(t, projectID, refund.ProjectID)
	assert.Equal(t, acct.ID, refund.AccountID)
}

func TestRefundRejectsNonConsume(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	grant, err := engine.Grant(ctx, acct.ID, 5, "promo")
	require.NoError(t, err)

	_, err = engine.Refund(ctx, grant.ID, "not refundable")
	assert.ErrorIs(t, err, quota.ErrInvalidRefundTarget)

	_, err = engine.Refund(ctx, quota.TransactionID{}, "missing")
	assert.ErrorIs(t, err, quota.ErrTransactionNotFound)
}

func TestRefundRejectsZeroChargeConsume(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(10))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	// Free actions append a zero-amount entry; there is nothing to
	// give back.
	consumed, err := engine.Consume(ctx, acct.ID, "generate_outline", 3)
	require.NoError(t, err)
	require.Equal(t, int64(0), consumed.Amount)

	_, err = engine.Refund(ctx, consumed.ID, "nothing charged")
	assert.ErrorIs(t, err, quota.ErrInvalidRefundTarget)
}

func TestGrant(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	entry, err := engine.Grant(ctx, acct.ID, 50, "launch promo")
	require.NoError(t, err)
	assert.Equal(t, int64(50), entry.Amount)
	assert.Equal(t, int64(50), entry.BalanceAfter)
	assert.Equal(t, txn.KindGift, entry.Kind)
	assert.Equal(t, "launch promo", entry.Description)

	for _, amount := range []int64{0, -5} {
		_, err := engine.Grant(ctx, acct.ID, amount, "bad")
		assert.ErrorIs(t, err, quota.ErrInvalidGrantAmount)
	}
}

func TestBalanceEqualsLedgerSum(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, quota.WithSignupBonus(3))

	acct, err := engine.OpenAccount(ctx)
	require.NoError(t, err)

	_, err = engine.Grant(ctx, acct.ID, 20, "promo")
	require.NoError(t, err)
	consumed, err := engine.Consume(ctx, acct.ID, "generate_image", 5)
	require.NoError(t, err)
	_, err = engine.Refund(ctx, consumed.ID, "redo")
	require.NoError(t, err)
	_, err = engine.Consume(ctx, acct.ID, "edit_image", 3)
	require.NoError(t, err)

	page, err := engine.Transactions(ctx, acct.ID, 1, 100)
	require.NoError(t, err)

	var sum int64
	for _, entry := range page.Items {
		sum += entry.Amount
	}
	balance, err := engine.Balance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, balance, sum)

	// Every entry's snapshot is consistent with the running sum.
	// Items are newest first, so walk backwards.
	var running int64
	for i := len(page.Items) - 1; i >= 0; i-- {
		running += page.Items[i].Amount
		assert.Equal(t, running, page.Items[i].BalanceAfter)
	}
}

func TestNewRejectsNilStore(t *testing.T) {
	_, err := quota.New(nil)
	require.Error(t, err)
}

