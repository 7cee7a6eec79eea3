// Package postgres provides a Store backed by PostgreSQL via pgx.
//
// Atomicity comes from row locks: every ledger primitive opens a
// transaction, takes SELECT ... FOR UPDATE on the account (and, for
// refunds and settlement, on the target row), and commits the balance
// update together with the ledger insert.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slidecraft/quota"
	"github.com/slidecraft/quota/account"
	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/order"
	"github.com/slidecraft/quota/store"
	"github.com/slidecraft/quota/txn"
	"github.com/slidecraft/quota/types"
)

const uniqueViolation = "23505"

// Store is a PostgreSQL implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects to the database and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership of
// the pool's lifecycle only until Close is called.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// CreateAccount implements store.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, acct *account.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_accounts (id, balance, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)`,
		acct.ID, acct.Balance, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return quota.ErrAccountExists
		}
		return fmt.Errorf("postgres: create account: %w", err)
	}
	return nil
}

// GetAccount implements store.AccountStore.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, balance, created_at, updated_at FROM quota_accounts WHERE id = $1`,
		accountID)
	return scanAccount(row)
}

// Debit implements store.LedgerStore.
func (s *Store) Debit(ctx context.Context, entry *txn.Transaction) (*txn.Transaction, error) {
	var applied *txn.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		balance, err := lockAccount(ctx, tx, entry.AccountID)
		if err != nil {
			return err
		}
		required := -entry.Amount
		if balance < required {
			return &quota.InsufficientQuotaError{Required: required, Available: balance}
		}
		applied, err = applyEntry(ctx, tx, entry, balance)
		return err
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// Credit implements store.LedgerStore.
func (s *Store) Credit(ctx context.Context, entry *txn.Transaction) (*txn.Transaction, error) {
	var applied *txn.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		balance, err := lockAccount(ctx, tx, entry.AccountID)
		if err != nil {
			return err
		}
		applied, err = applyEntry(ctx, tx, entry, balance)
		return err
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// RefundConsume implements store.LedgerStore.
func (s *Store) RefundConsume(ctx context.Context, targetID id.TransactionID, refund *txn.Transaction) (*txn.Transaction, error) {
	var applied *txn.Transaction
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT account_id, amount, kind, project_id, refunded_by
			 FROM quota_transactions WHERE id = $1 FOR UPDATE`,
			targetID)

		var (
			accountID  id.AccountID
			amount     int64
			kind       string
			projectID  id.ProjectID
			refundedBy id.TransactionID
		)
		if err := row.Scan(&accountID, &amount, &kind, &projectID, &refundedBy); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return quota.ErrTransactionNotFound
			}
			return fmt.Errorf("postgres: load refund target: %w", err)
		}
		if txn.Kind(kind) != txn.KindConsume || amount >= 0 {
			return quota.ErrInvalidRefundTarget
		}
		if !refundedBy.IsNil() {
			return quota.ErrAlreadyRefunded
		}

		balance, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE quota_transactions SET refunded_by = $1 WHERE id = $2`,
			refund.ID, targetID); err != nil {
			return fmt.Errorf("postgres: mark refunded: %w", err)
		}

		refund.AccountID = accountID
		refund.ProjectID = projectID
		refund.Amount = -amount
		applied, err = applyEntry(ctx, tx, refund, balance)
		return err
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// GetTransaction implements store.LedgerStore.
func (s *Store) GetTransaction(ctx context.Context, transactionID id.TransactionID) (*txn.Transaction, error) {
	row := s.pool.QueryRow(ctx, selectTxn+` WHERE id = $1`, transactionID)
	entry, err := scanTxn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, quota.ErrTransactionNotFound
	}
	return entry, err
}

// ListTransactions implements store.LedgerStore.
func (s *Store) ListTransactions(ctx context.Context, accountID id.AccountID, opts txn.ListOpts) ([]*txn.Transaction, int64, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM quota_transactions WHERE account_id = $1`,
		accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count transactions: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		selectTxn+` WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		accountID, opts.PerPage, opts.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var page []*txn.Transaction
	for rows.Next() {
		entry, err := scanTxn(rows)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, entry)
	}
	return page, total, rows.Err()
}

// CreateOrder implements store.OrderStore.
func (s *Store) CreateOrder(ctx context.Context, ord *order.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_orders
		 (id, account_id, number, package_key, amount, currency, quota_amount,
		  status, payment_method, payment_ref, paid_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ord.ID, ord.AccountID, ord.Number, ord.PackageKey,
		ord.Amount.Amount, ord.Amount.Currency, ord.QuotaAmount,
		ord.Status, ord.PaymentMethod, ord.PaymentRef, ord.PaidAt,
		ord.CreatedAt, ord.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return quota.ErrAccountNotFound
		}
		return fmt.Errorf("postgres: create order: %w", err)
	}
	return nil
}

// GetOrder implements store.OrderStore.
func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	row := s.pool.QueryRow(ctx, selectOrder+` WHERE id = $1`, orderID)
	ord, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, quota.ErrOrderNotFound
	}
	return ord, err
}

// ListOrders implements store.OrderStore.
func (s *Store) ListOrders(ctx context.Context, accountID id.AccountID, opts order.ListOpts) ([]*order.Order, int64, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM quota_orders WHERE account_id = $1`,
		accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: count orders: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		selectOrder+` WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		accountID, opts.PerPage, opts.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var page []*order.Order
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, ord)
	}
	return page, total, rows.Err()
}

// SettleOrder implements store.OrderStore.
func (s *Store) SettleOrder(ctx context.Context, orderID id.OrderID, method, paymentRef string, paidAt time.Time, grant *txn.Transaction) (*order.Order, *txn.Transaction, error) {
	var (
		settled *order.Order
		applied *txn.Transaction
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, orderID)
		ord, err := scanOrder(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return quota.ErrOrderNotFound
			}
			return err
		}
		if ord.Status != order.StatusPending {
			return quota.ErrInvalidOrderState
		}

		balance, err := lockAccount(ctx, tx, ord.AccountID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE quota_orders
			 SET status = $1, payment_method = $2, payment_ref = $3, paid_at = $4, updated_at = $5
			 WHERE id = $6`,
			order.StatusPaid, method, paymentRef, paidAt, now, orderID); err != nil {
			return fmt.Errorf("postgres: settle order: %w", err)
		}

		ord.Status = order.StatusPaid
		ord.PaymentMethod = method
		ord.PaymentRef = paymentRef
		at := paidAt
		ord.PaidAt = &at
		ord.UpdatedAt = now
		settled = ord

		grant.AccountID = ord.AccountID
		grant.OrderID = ord.ID
		grant.Amount = ord.QuotaAmount
		applied, err = applyEntry(ctx, tx, grant, balance)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return settled, applied, nil
}

// CancelOrder implements store.OrderStore.
func (s *Store) CancelOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	var cancelled *order.Order
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, selectOrder+` WHERE id = $1 FOR UPDATE`, orderID)
		ord, err := scanOrder(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return quota.ErrOrderNotFound
			}
			return err
		}
		switch ord.Status {
		case order.StatusPending:
		case order.StatusPaid:
			return quota.ErrPaidOrderImmutable
		case order.StatusCancelled:
			return quota.ErrOrderCancelled
		default:
			return quota.ErrInvalidOrderState
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE quota_orders SET status = $1, updated_at = $2 WHERE id = $3`,
			order.StatusCancelled, now, orderID); err != nil {
			return fmt.Errorf("postgres: cancel order: %w", err)
		}

		ord.Status = order.StatusCancelled
		ord.UpdatedAt = now
		cancelled = ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// withTx runs fn in a transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lockAccount takes a row lock on the account and returns its balance.
func lockAccount(ctx context.Context, tx pgx.Tx, accountID id.AccountID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx,
		`SELECT balance FROM quota_accounts WHERE id = $1 FOR UPDATE`,
		accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, quota.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: lock account: %w", err)
	}
	return balance, nil
}

// applyEntry writes the new balance and inserts the ledger entry.
// Callers hold the account row lock.
func applyEntry(ctx context.Context, tx pgx.Tx, entry *txn.Transaction, balance int64) (*txn.Transaction, error) {
	entry.BalanceAfter = balance + entry.Amount

	if _, err := tx.Exec(ctx,
		`UPDATE quota_accounts SET balance = $1, updated_at = $2 WHERE id = $3`,
		entry.BalanceAfter, time.Now().UTC(), entry.AccountID); err != nil {
		return nil, fmt.Errorf("postgres: update balance: %w", err)
	}

	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode metadata: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO quota_transactions
		 (id, account_id, amount, balance_after, kind, order_id, project_id,
		  description, metadata, refunded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.AccountID, entry.Amount, entry.BalanceAfter, entry.Kind,
		entry.OrderID, entry.ProjectID, entry.Description, meta,
		entry.RefundedBy, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("postgres: insert transaction: %w", err)
	}
	return entry, nil
}

const selectTxn = `SELECT id, account_id, amount, balance_after, kind, order_id,
	project_id, description, metadata, refunded_by, created_at
	FROM quota_transactions`

const selectOrder = `SELECT id, account_id, number, package_key, amount, currency,
	quota_amount, status, payment_method, payment_ref, paid_at, created_at, updated_at
	FROM quota_orders`

func scanAccount(row pgx.Row) (*account.Account, error) {
	var acct account.Account
	err := row.Scan(&acct.ID, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, quota.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan account: %w", err)
	}
	return &acct, nil
}

func scanTxn(row pgx.Row) (*txn.Transaction, error) {
	var (
		entry txn.Transaction
		kind  string
		meta  []byte
	)
	err := row.Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.BalanceAfter,
		&kind, &entry.OrderID, &entry.ProjectID, &entry.Description, &meta,
		&entry.RefundedBy, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	entry.Kind = txn.Kind(kind)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: decode metadata: %w", err)
		}
	}
	return &entry, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var (
		ord      order.Order
		status   string
		amount   int64
		currency string
	)
	err := row.Scan(&ord.ID, &ord.AccountID, &ord.Number, &ord.PackageKey,
		&amount, &currency, &ord.QuotaAmount, &status,
		&ord.PaymentMethod, &ord.PaymentRef, &ord.PaidAt,
		&ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ord.Status = order.Status(status)
	ord.Amount = types.Money{Amount: amount, Currency: currency}
	return &ord, nil
}
