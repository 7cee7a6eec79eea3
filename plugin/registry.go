package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// hookTimeout bounds each plugin call so a stuck hook cannot stall the
// engine's caller.
const hookTimeout = 5 * time.Second

// Registry holds registered plugins, indexed by the hook interfaces
// they implement. The type assertions happen once at registration, not
// per event.
type Registry struct {
	mu sync.RWMutex

	plugins map[string]Plugin

	initHooks     []InitHook
	shutdownHooks []ShutdownHook
	accountHooks  []AccountHook
	ledgerHooks   []LedgerHook
	orderHooks    []OrderHook

	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger falls back to
// slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		plugins: make(map[string]Plugin),
		logger:  logger,
	}
}

// Register adds a plugin and indexes its hook interfaces. Registering
// two plugins with the same name is a programming error.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin: %q already registered", name)
	}
	r.plugins[name] = p

	if h, ok := p.(InitHook); ok {
		r.initHooks = append(r.initHooks, h)
	}
	if h, ok := p.(ShutdownHook); ok {
		r.shutdownHooks = append(r.shutdownHooks, h)
	}
	if h, ok := p.(AccountHook); ok {
		r.accountHooks = append(r.accountHooks, h)
	}
	if h, ok := p.(LedgerHook); ok {
		r.ledgerHooks = append(r.ledgerHooks, h)
	}
	if h, ok := p.(OrderHook); ok {
		r.orderHooks = append(r.orderHooks, h)
	}
	return nil
}

// Names returns the registered plugin names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	return names
}

// Init runs every InitHook. The first error aborts startup.
func (r *Registry) Init(ctx context.Context) error {
	r.mu.RLock()
	hooks := r.initHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := callWithTimeout(ctx, func(ctx context.Context) error { return h.OnInit(ctx) }); err != nil {
			return fmt.Errorf("plugin: %q init: %w", h.Name(), err)
		}
	}
	return nil
}

// Shutdown runs every ShutdownHook. Errors are logged, not returned,
// so one plugin cannot block the rest from shutting down.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	hooks := r.shutdownHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := callWithTimeout(ctx, func(ctx context.Context) error { return h.OnShutdown(ctx) }); err != nil {
			r.logger.Error("plugin shutdown failed", "plugin", h.Name(), "error", err)
		}
	}
}

// AccountOpened dispatches to every AccountHook.
func (r *Registry) AccountOpened(ctx context.Context, ev AccountOpenedEvent) {
	r.mu.RLock()
	hooks := r.accountHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		r.emit(ctx, h.Name(), "account_opened", func(ctx context.Context) error {
			return h.OnAccountOpened(ctx, ev)
		})
	}
}

// Consumed dispatches to every LedgerHook.
func (r *Registry) Consumed(ctx context.Context, ev ConsumedEvent) {
	r.mu.RLock()
	hooks := r.ledgerHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		r.emit(ctx, h.Name(), "consumed", func(ctx context.Context) error {
			return h.OnConsumed(ctx, ev)
		})
	}
}

// QuotaExceeded dispatches to every LedgerHook.
func (r *Registry) QuotaExceeded(ctx context.Context, ev QuotaExceededEvent) {
	r.mu.RLock()
	hooks := r.ledgerHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		r.emit(ctx, h.Name(), "quota_exceeded", func(ctx context.Context) error {
			return h.OnQuotaExceeded(ctx, ev)
		})
	}
}

// Refunded dispatches to every LedgerHook.
func (r *Registry) Refunded(ctx context.Context, ev RefundedEvent) {
	r.mu.RLock()
	hooks := r.ledgerHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		r.emit(ctx, h.Name(), "refunded", func(ctx context.Context) error {
			return h.OnRefunded(ctx, ev)
		})
	}
}

// Granted dispatches to every LedgerHook.
func (r *Registry) Granted(ctx context.Context, ev GrantedEvent) {
	r.mu.RLock()
	hooks := r.ledgerHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		r.emit(ctx, h.Name(), "granted", func(ctx context.Context) error {
			return h.OnGranted(ctx, ev)
		})
	}
}

// OrderCreated dispatches to every OrderHook.
func (r *Registry) OrderCreated(ctx context.Context, ev OrderEvent) {
	r.mu.RLock()
	hooks := r.orderHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		r.emit(ctx, h.Name(), "order_created", func(ctx context.Context) error {
			return h.OnOrderCreated(ctx, ev)
		})
	}
}

// OrderSettled dispatches to every OrderHook.
func (r *Registry) OrderSettled(ctx context.Context, ev OrderSettledEvent) {
	r.mu.RLock()
	hooks := r.orderHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		r.emit(ctx, h.Name(), "order_settled", func(ctx context.Context) error {
			return h.OnOrderSettled(ctx, ev)
		})
	}
}

// OrderCancelled dispatches to every OrderHook.
func (r *Registry) OrderCancelled(ctx context.Context, ev OrderEvent) {
	r.mu.RLock()
	hooks := r.orderHooks
	r.mu.RUnlock()

	for _, h := range hooks {
		r.emit(ctx, h.Name(), "order_cancelled", func(ctx context.Context) error {
			return h.OnOrderCancelled(ctx, ev)
		})
	}
}

// emit calls one hook with the timeout and logs any failure. Event
// dispatch never fails the operation that produced the event.
func (r *Registry) emit(ctx context.Context, name, event string, fn func(context.Context) error) {
	if err := callWithTimeout(ctx, fn); err != nil {
		r.logger.Error("plugin hook failed", "plugin", name, "event", event, "error", err)
	}
}

// callWithTimeout runs fn with a bounded context, abandoning the call
// if it overruns.
func callWithTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
