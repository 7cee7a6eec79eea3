// Package quota implements a credit ledger for metered products:
// accounts hold a balance of credits, priced actions consume them, and
// paid orders top them up.
//
// Every balance change is an immutable ledger transaction, and the
// account balance always equals the sum of its transaction amounts.
// Stores guarantee that the balance check, the balance update, and the
// ledger append commit as one atomic unit, so concurrent consumers can
// never overdraw an account.
//
// # Getting started
//
//	st := memory.New()
//	engine, err := quota.New(st,
//		quota.WithSignupBonus(3),
//		quota.WithPlugin(audit.New(logger)),
//	)
//	if err != nil {
//		return err
//	}
//	if err := engine.Start(ctx); err != nil {
//		return err
//	}
//	defer engine.Close(ctx)
//
//	acct, _ := engine.OpenAccount(ctx)
//	entry, err := engine.Consume(ctx, acct.ID, "generate_image", 1)
//
// Swap memory.New for postgres.New or sqlite.New in production; the
// Engine is identical across backends.
//
// # Charging
//
// Action costs are decimals, so cheap actions can be priced below one
// credit. A consume charges the whole batch at once and truncates the
// product toward zero: ten actions at cost 0.1 charge one credit, five
// charge nothing.
//
// # Orders
//
// Credits are bought through orders. CreateOrder opens a pending order
// priced from the package catalog; SettleOrder, driven by the payment
// provider's confirmation, atomically marks it paid and grants the
// credits. Settlement of a non-pending order fails without side
// effects, which makes duplicate payment callbacks safe.
package quota
