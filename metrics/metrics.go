// Package metrics provides a plugin that exports quota activity as
// Prometheus metrics.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slidecraft/quota/plugin"
)

// Collector is a metrics plugin. Create one with New and expose the
// registry it was given through your HTTP handler of choice.
type Collector struct {
	accountsOpened   prometheus.Counter
	creditsConsumed  *prometheus.CounterVec
	consumesRejected *prometheus.CounterVec
	creditsRefunded  prometheus.Counter
	creditsGranted   prometheus.Counter
	ordersCreated    *prometheus.CounterVec
	ordersSettled    *prometheus.CounterVec
	ordersCancelled  prometheus.Counter
}

var (
	_ plugin.AccountHook = (*Collector)(nil)
	_ plugin.LedgerHook  = (*Collector)(nil)
	_ plugin.OrderHook   = (*Collector)(nil)
)

// New creates a Collector and registers its metrics with reg. A nil
// registerer falls back to prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		accountsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quota_accounts_opened_total",
			Help: "Accounts opened.",
		}),
		creditsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quota_credits_consumed_total",
			Help: "Credits debited by consumes, by action.",
		}, []string{"action"}),
		consumesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quota_consumes_rejected_total",
			Help: "Consumes rejected for insufficient balance, by action.",
		}, []string{"action"}),
		creditsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quota_credits_refunded_total",
			Help: "Credits returned by refunds.",
		}),
		creditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quota_credits_granted_total",
			Help: "Credits granted outside order settlement.",
		}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quota_orders_created_total",
			Help: "Orders created, by package.",
		}, []string{"package"}),
		ordersSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quota_orders_settled_total",
			Help: "Orders settled, by package.",
		}, []string{"package"}),
		ordersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quota_orders_cancelled_total",
			Help: "Orders cancelled before payment.",
		}),
	}

	reg.MustRegister(
		c.accountsOpened,
		c.creditsConsumed,
		c.consumesRejected,
		c.creditsRefunded,
		c.creditsGranted,
		c.ordersCreated,
		c.ordersSettled,
		c.ordersCancelled,
	)
	return c
}

// Name implements plugin.Plugin.
func (c *Collector) Name() string { return "metrics" }

// OnAccountOpened implements plugin.AccountHook.
func (c *Collector) OnAccountOpened(ctx context.Context, ev plugin.AccountOpenedEvent) error {
	c.accountsOpened.Inc()
	return nil
}

// OnConsumed implements plugin.LedgerHook.
func (c *Collector) OnConsumed(ctx context.Context, ev plugin.ConsumedEvent) error {
	c.creditsConsumed.WithLabelValues(ev.Action).Add(float64(-ev.Entry.Amount))
	return nil
}

// OnQuotaExceeded implements plugin.LedgerHook.
func (c *Collector) OnQuotaExceeded(ctx context.Context, ev plugin.QuotaExceededEvent) error {
	c.consumesRejected.WithLabelValues(ev.Action).Inc()
	return nil
}

// OnRefunded implements plugin.LedgerHook.
func (c *Collector) OnRefunded(ctx context.Context, ev plugin.RefundedEvent) error {
	c.creditsRefunded.Add(float64(ev.Entry.Amount))
	return nil
}

// OnGranted implements plugin.LedgerHook.
func (c *Collector) OnGranted(ctx context.Context, ev plugin.GrantedEvent) error {
	c.creditsGranted.Add(float64(ev.Entry.Amount))
	return nil
}

// OnOrderCreated implements plugin.OrderHook.
func (c *Collector) OnOrderCreated(ctx context.Context, ev plugin.OrderEvent) error {
	c.ordersCreated.WithLabelValues(ev.Order.PackageKey).Inc()
	return nil
}

// OnOrderSettled implements plugin.OrderHook.
func (c *Collector) OnOrderSettled(ctx context.Context, ev plugin.OrderSettledEvent) error {
	c.ordersSettled.WithLabelValues(ev.Order.PackageKey).Inc()
	return nil
}

// OnOrderCancelled implements plugin.OrderHook.
func (c *Collector) OnOrderCancelled(ctx context.Context, ev plugin.OrderEvent) error {
	c.ordersCancelled.Inc()
	return nil
}
