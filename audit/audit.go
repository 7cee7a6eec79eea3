// Package audit provides a plugin that writes a structured audit trail
// of every balance change and order transition to an slog.Logger.
//
// The trail is a flat stream of "audit" records with an event field, so
// it can be shipped to a log pipeline and filtered without parsing
// message text.
package audit

import (
	"context"
	"log/slog"

	"github.com/slidecraft/quota/plugin"
)

// Recorder is an audit plugin. Create one with New.
type Recorder struct {
	logger *slog.Logger
}

var (
	_ plugin.AccountHook = (*Recorder)(nil)
	_ plugin.LedgerHook  = (*Recorder)(nil)
	_ plugin.OrderHook   = (*Recorder)(nil)
)

// New creates a Recorder writing to the given logger. A nil logger
// falls back to slog.Default.
func New(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// Name implements plugin.Plugin.
func (r *Recorder) Name() string { return "audit" }

// OnAccountOpened implements plugin.AccountHook.
func (r *Recorder) OnAccountOpened(ctx context.Context, ev plugin.AccountOpenedEvent) error {
	r.record(ctx, "account_opened",
		"account", ev.Account.ID,
		"signup_bonus", ev.SignupBonus)
	return nil
}

// OnConsumed implements plugin.LedgerHook.
func (r *Recorder) OnConsumed(ctx context.Context, ev plugin.ConsumedEvent) error {
	r.record(ctx, "consumed",
		"account", ev.Entry.AccountID,
		"transaction", ev.Entry.ID,
		"action", ev.Action,
		"count", ev.Count,
		"amount", ev.Entry.Amount,
		"balance_after", ev.Entry.BalanceAfter)
	return nil
}

// OnQuotaExceeded implements plugin.LedgerHook.
func (r *Recorder) OnQuotaExceeded(ctx context.Context, ev plugin.QuotaExceededEvent) error {
	r.record(ctx, "quota_exceeded",
		"account", ev.AccountID,
		"action", ev.Action,
		"count", ev.Count,
		"required", ev.Required,
		"available", ev.Available)
	return nil
}

// OnRefunded implements plugin.LedgerHook.
func (r *Recorder) OnRefunded(ctx context.Context, ev plugin.RefundedEvent) error {
	r.record(ctx, "refunded",
		"account", ev.Entry.AccountID,
		"transaction", ev.Entry.ID,
		"refund_of", ev.RefundOf,
		"amount", ev.Entry.Amount,
		"balance_after", ev.Entry.BalanceAfter)
	return nil
}

// OnGranted implements plugin.LedgerHook.
func (r *Recorder) OnGranted(ctx context.Context, ev plugin.GrantedEvent) error {
	r.record(ctx, "granted",
		"account", ev.Entry.AccountID,
		"transaction", ev.Entry.ID,
		"amount", ev.Entry.Amount,
		"balance_after", ev.Entry.BalanceAfter)
	return nil
}

// OnOrderCreated implements plugin.OrderHook.
func (r *Recorder) OnOrderCreated(ctx context.Context, ev plugin.OrderEvent) error {
	r.record(ctx, "order_created",
		"account", ev.Order.AccountID,
		"order", ev.Order.ID,
		"number", ev.Order.Number,
		"package", ev.Order.PackageKey,
		"amount", ev.Order.Amount)
	return nil
}

// OnOrderSettled implements plugin.OrderHook.
func (r *Recorder) OnOrderSettled(ctx context.Context, ev plugin.OrderSettledEvent) error {
	r.record(ctx, "order_settled",
		"account", ev.Order.AccountID,
		"order", ev.Order.ID,
		"number", ev.Order.Number,
		"method", ev.Order.PaymentMethod,
		"credits", ev.Grant.Amount,
		"balance_after", ev.Grant.BalanceAfter)
	return nil
}

// OnOrderCancelled implements plugin.OrderHook.
func (r *Recorder) OnOrderCancelled(ctx context.Context, ev plugin.OrderEvent) error {
	r.record(ctx, "order_cancelled",
		"account", ev.Order.AccountID,
		"order", ev.Order.ID,
		"number", ev.Order.Number)
	return nil
}

func (r *Recorder) record(ctx context.Context, event string, attrs ...any) {
	args := append([]any{"event", event}, attrs...)
	r.logger.InfoContext(ctx, "audit", args...)
}
