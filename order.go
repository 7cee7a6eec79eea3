package quota

import (
	"context"
	"fmt"

	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/order"
	"github.com/slidecraft/quota/plugin"
	"github.com/slidecraft/quota/txn"
	"github.com/slidecraft/quota/types"
)

// Packages returns the purchasable credit bundles.
func (e *Engine) Packages() map[string]order.Package {
	return order.Packages()
}

// CreateOrder opens a pending order for the given credit package. The
// order grants nothing until it settles.
func (e *Engine) CreateOrder(ctx context.Context, accountID id.AccountID, packageKey string) (*order.Order, error) {
	pkg, ok := order.Packages()[packageKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackage, packageKey)
	}
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	ord := &order.Order{
		Entity:      types.NewEntity(),
		ID:          id.NewOrderID(),
		AccountID:   accountID,
		Number:      order.NewNumber(e.now()),
		PackageKey:  pkg.Key,
		Amount:      pkg.Price,
		QuotaAmount: pkg.QuotaAmount,
		Status:      order.StatusPending,
	}
	if err := e.store.CreateOrder(ctx, ord); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "order created",
		"account", accountID, "order", ord.ID, "number", ord.Number,
		"package", pkg.Key, "amount", ord.Amount, "credits", ord.QuotaAmount)
	e.plugins.OrderCreated(ctx, plugin.OrderEvent{Order: *ord})
	return ord, nil
}

// Order returns a single order.
func (e *Engine) Order(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	return e.store.GetOrder(ctx, orderID)
}

// SettleOrder marks a pending order paid and grants its credits, all in
// one atomic unit. The payment method and reference come from the
// payment provider's confirmation. Settling a non-pending order fails
// with ErrInvalidOrderState and changes nothing, so duplicate payment
// callbacks cannot double-grant.
func (e *Engine) SettleOrder(ctx context.Context, orderID id.OrderID, method, paymentRef string) (*order.Order, *txn.Transaction, error) {
	ord, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	grant := &txn.Transaction{
		ID:          id.NewTransactionID(),
		Kind:        txn.KindPurchase,
		Description: fmt.Sprintf("purchase of %s", ord.PackageKey),
		Metadata: txn.Metadata{
			OrderNumber: ord.Number,
		},
		CreatedAt: e.now(),
	}

	settled, applied, err := e.store.SettleOrder(ctx, orderID, method, paymentRef, e.now(), grant)
	if err != nil {
		return nil, nil, err
	}

	e.logger.InfoContext(ctx, "order settled",
		"account", settled.AccountID, "order", settled.ID, "number", settled.Number,
		"method", method, "credits", applied.Amount, "balance", applied.BalanceAfter)
	e.plugins.OrderSettled(ctx, plugin.OrderSettledEvent{
		Order: *settled,
		Grant: *applied,
	})
	return settled, applied, nil
}

// CancelOrder abandons a pending order. Paid orders are immutable.
func (e *Engine) CancelOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	cancelled, err := e.store.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "order cancelled",
		"account", cancelled.AccountID, "order", cancelled.ID, "number", cancelled.Number)
	e.plugins.OrderCancelled(ctx, plugin.OrderEvent{Order: *cancelled})
	return cancelled, nil
}

// OrderPage is one page of an account's orders, newest first.
type OrderPage struct {
	Items      []*order.Order `json:"items"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	Total      int64          `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// Orders returns one page of the account's orders, newest first.
func (e *Engine) Orders(ctx context.Context, accountID id.AccountID, page, perPage int) (*OrderPage, error) {
	page, perPage = normalizePage(page, perPage)

	items, total, err := e.store.ListOrders(ctx, accountID, order.ListOpts{
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		return nil, err
	}
	return &OrderPage{
		Items:      items,
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages(total, perPage),
	}, nil
}
