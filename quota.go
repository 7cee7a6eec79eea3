package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slidecraft/quota/account"
	"github.com/slidecraft/quota/costs"
	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/plugin"
	"github.com/slidecraft/quota/store"
	"github.com/slidecraft/quota/txn"
	"github.com/slidecraft/quota/types"
)

// Engine is the entry point for all quota operations. It computes
// charges from the cost table, delegates every balance mutation to the
// store's atomic primitives, and notifies plugins after commits.
//
// An Engine is safe for concurrent use.
type Engine struct {
	store       store.Store
	costs       costs.Table
	logger      *slog.Logger
	plugins     *plugin.Registry
	signupBonus int64
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return errors.New("quota: nil logger")
		}
		e.logger = logger
		return nil
	}
}

// WithCosts replaces the built-in cost table.
func WithCosts(table costs.Table) Option {
	return func(e *Engine) error {
		e.costs = table
		return nil
	}
}

// WithSignupBonus grants the given credits when an account is opened.
func WithSignupBonus(credits int64) Option {
	return func(e *Engine) error {
		if credits < 0 {
			return fmt.Errorf("quota: negative signup bonus %d", credits)
		}
		e.signupBonus = credits
		return nil
	}
}

// WithPlugin registers a plugin with the engine.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) error {
		return e.plugins.Register(p)
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		e.now = now
		return nil
	}
}

// New creates an Engine backed by the given store. New does no I/O;
// call Start to run migrations and plugin initialization.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("quota: nil store")
	}

	e := &Engine{
		store:  st,
		costs:  costs.Defaults(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	e.plugins = plugin.NewRegistry(e.logger)

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Start migrates the store and runs plugin init hooks.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("quota: migrate: %w", err)
	}
	if err := e.plugins.Init(ctx); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "quota engine started", "plugins", e.plugins.Names())
	return nil
}

// Close shuts down plugins and releases the store.
func (e *Engine) Close(ctx context.Context) error {
	e.plugins.Shutdown(ctx)
	return e.store.Close()
}

// OpenAccount creates a new account, granting the signup bonus when
// one is configured.
func (e *Engine) OpenAccount(ctx context.Context) (*account.Account, error) {
	acct := &account.Account{
		Entity: types.NewEntity(),
		ID:     id.NewAccountID(),
	}
	if err := e.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	if e.signupBonus > 0 {
		entry := &txn.Transaction{
			ID:          id.NewTransactionID(),
			AccountID:   acct.ID,
			Amount:      e.signupBonus,
			Kind:        txn.KindGift,
			Description: "signup bonus",
			CreatedAt:   e.now(),
		}
		applied, err := e.store.Credit(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("quota: signup bonus: %w", err)
		}
		acct.Balance = applied.BalanceAfter
	}

	e.logger.InfoContext(ctx, "account opened",
		"account", acct.ID, "signup_bonus", e.signupBonus)
	e.plugins.AccountOpened(ctx, plugin.AccountOpenedEvent{
		Account:     *acct,
		SignupBonus: e.signupBonus,
	})
	return acct, nil
}

// Account returns the account, or ErrAccountNotFound.
func (e *Engine) Account(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	return e.store.GetAccount(ctx, accountID)
}

// Balance returns the account's current credit balance.
func (e *Engine) Balance(ctx context.Context, accountID id.AccountID) (int64, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// CheckResult reports whether a prospective consume would succeed.
// It is advisory: another writer can change the balance between Check
// and Consume, so Consume re-checks atomically.
type CheckResult struct {
	Sufficient bool  `json:"sufficient"`
	Required   int64 `json:"required"`
	Available  int64 `json:"available"`
}

// Check computes the charge for count units of action and compares it
// against the current balance without consuming anything.
func (e *Engine) Check(ctx context.Context, accountID id.AccountID, action string, count int64) (CheckResult, error) {
	if count <= 0 {
		return CheckResult{}, ErrInvalidConsumeCount
	}
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return CheckResult{}, err
	}
	required := e.costs.Charge(action, count)
	return CheckResult{
		Sufficient: acct.Balance >= required,
		Required:   required,
		Available:  acct.Balance,
	}, nil
}

// ConsumeOption annotates a consume or grant.
type ConsumeOption func(*consumeOpts)

type consumeOpts struct {
	projectID   id.ProjectID
	description string
}

// WithProject tags the ledger entry with the project it was spent on.
func WithProject(projectID id.ProjectID) ConsumeOption {
	return func(o *consumeOpts) { o.projectID = projectID }
}

// WithDescription sets a free-form description on the ledger entry.
func WithDescription(description string) ConsumeOption {
	return func(o *consumeOpts) { o.description = description }
}

// Consume charges the account for count units of action and appends the
// consume entry. The charge is the cost-table product truncated toward
// zero, so a batch of cheap actions can legitimately cost nothing; the
// zero-amount entry is still recorded. On insufficient balance nothing
// changes and the returned error unwraps to ErrInsufficientQuota.
func (e *Engine) Consume(ctx context.Context, accountID id.AccountID, action string, count int64, opts ...ConsumeOption) (*txn.Transaction, error) {
	if count <= 0 {
		return nil, ErrInvalidConsumeCount
	}
	var o consumeOpts
	for _, opt := range opts {
		opt(&o)
	}

	charge := e.costs.Charge(action, count)
	entry := &txn.Transaction{
		ID:          id.NewTransactionID(),
		AccountID:   accountID,
		Amount:      -charge,
		Kind:        txn.KindConsume,
		ProjectID:   o.projectID,
		Description: o.description,
		Metadata: txn.Metadata{
			Action: action,
			Count:  count,
		},
		CreatedAt: e.now(),
	}

	applied, err := e.store.Debit(ctx, entry)
	if err != nil {
		var insufficient *InsufficientQuotaError
		if errors.As(err, &insufficient) {
			e.logger.WarnContext(ctx, "consume rejected",
				"account", accountID, "action", action, "count", count,
				"required", insufficient.Required, "available", insufficient.Available)
			e.plugins.QuotaExceeded(ctx, plugin.QuotaExceededEvent{
				AccountID: accountID,
				Action:    action,
				Count:     count,
				Required:  insufficient.Required,
				Available: insufficient.Available,
			})
		}
		return nil, err
	}

	e.logger.InfoContext(ctx, "credits consumed",
		"account", accountID, "action", action, "count", count,
		"charge", charge, "balance", applied.BalanceAfter)
	e.plugins.Consumed(ctx, plugin.ConsumedEvent{
		Entry:  *applied,
		Action: action,
		Count:  count,
	})
	return applied, nil
}

// Refund reverses a consume entry, crediting its full charge back. A
// consume can be refunded at most once; only consume entries are
// refundable.
func (e *Engine) Refund(ctx context.Context, transactionID id.TransactionID, reason string) (*txn.Transaction, error) {
	refund := &txn.Transaction{
		ID:          id.NewTransactionID(),
		Kind:        txn.KindRefund,
		Description: reason,
		Metadata: txn.Metadata{
			RefundOf: transactionID,
		},
		CreatedAt: e.now(),
	}

	applied, err := e.store.RefundConsume(ctx, transactionID, refund)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "consume refunded",
		"account", applied.AccountID, "refund_of", transactionID,
		"amount", applied.Amount, "balance", applied.BalanceAfter)
	e.plugins.Refunded(ctx, plugin.RefundedEvent{
		Entry:    *applied,
		RefundOf: transactionID,
	})
	return applied, nil
}

// Grant credits the account outside of order settlement, for promos
// and goodwill gestures. The amount must be positive.
func (e *Engine) Grant(ctx context.Context, accountID id.AccountID, amount int64, reason string, opts ...ConsumeOption) (*txn.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidGrantAmount
	}
	var o consumeOpts
	for _, opt := range opts {
		opt(&o)
	}
	description := o.description
	if description == "" {
		description = reason
	}

	entry := &txn.Transaction{
		ID:          id.NewTransactionID(),
		AccountID:   accountID,
		Amount:      amount,
		Kind:        txn.KindGift,
		ProjectID:   o.projectID,
		Description: description,
		CreatedAt:   e.now(),
	}

	applied, err := e.store.Credit(ctx, entry)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "credits granted",
		"account", accountID, "amount", amount, "reason", reason,
		"balance", applied.BalanceAfter)
	e.plugins.Granted(ctx, plugin.GrantedEvent{Entry: *applied})
	return applied, nil
}

// Transaction returns a single ledger entry.
func (e *Engine) Transaction(ctx context.Context, transactionID id.TransactionID) (*txn.Transaction, error) {
	return e.store.GetTransaction(ctx, transactionID)
}
