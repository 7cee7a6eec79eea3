// Package sqlite provides a Store backed by SQLite via the pure-Go
// modernc.org/sqlite driver. Suited to single-process deployments and
// local development.
//
// SQLite allows one writer at a time, so opening the connection with
// _txlock=immediate makes every ledger transaction take the write lock
// up front. The balance check, balance update, and ledger insert then
// commit as one unit.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slidecraft/quota"
	"github.com/slidecraft/quota/account"
	"github.com/slidecraft/quota/id"
	"github.com/slidecraft/quota/order"
	"github.com/slidecraft/quota/store"
	"github.com/slidecraft/quota/txn"
	"github.com/slidecraft/quota/types"
)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (and creates if needed) the database at path.
func New(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// A single connection sidesteps SQLITE_BUSY between our own
	// writers; the busy timeout covers external ones.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Store{db: db}, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS quota_accounts (
		id         TEXT PRIMARY KEY,
		balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS quota_transactions (
		id            TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL REFERENCES quota_accounts(id),
		amount        INTEGER NOT NULL,
		balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
		kind          TEXT NOT NULL,
		order_id      TEXT,
		project_id    TEXT,
		description   TEXT NOT NULL DEFAULT '',
		metadata      TEXT NOT NULL DEFAULT '{}',
		refunded_by   TEXT,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS quota_transactions_account_idx
		ON quota_transactions (account_id, created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS quota_orders (
		id             TEXT PRIMARY KEY,
		account_id     TEXT NOT NULL REFERENCES quota_accounts(id),
		number         TEXT NOT NULL,
		package_key    TEXT NOT NULL,
		amount         INTEGER NOT NULL,
		currency       TEXT NOT NULL,
		quota_amount   INTEGER NOT NULL,
		status         TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		payment_ref    TEXT NOT NULL DEFAULT '',
		paid_at        TIMESTAMP,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS quota_orders_account_idx
		ON quota_orders (account_id, created_at DESC, id DESC)`,
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migration %d: %w", i, err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateAccount implements store.AccountStore.
func (s *Store) CreateAccount(ctx context.Context, acct *account.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_accounts (id, balance, created_at, updated_at)
		 VALUES (?, ?, ?, ?)`,
		acct.ID, acct.Balance, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return quota.ErrAccountExists
		}
		return fmt.Errorf("sqlite: create account: %w", err)
	}
	return nil
}

// GetAccount implements store.AccountStore.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	var acct account.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, balance, created_at, updated_at FROM quota_accounts WHERE id = ?`,
		accountID).Scan(&acct.ID, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quota.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get account: %w", err)
	}
	return &acct, nil
}

// Debit implements store.LedgerStore.
func (s *Store) Debit(ctx context.Context, entry *txn.Transaction) (*txn.Transaction, error) {
	var applied *txn.Transaction
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		balance, err := accountBalance(ctx, tx, entry.AccountID)
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
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		balance, err := accountBalance(ctx, tx, entry.AccountID)
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
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			accountID  id.AccountID
			amount     int64
			kind       string
			projectID  id.ProjectID
			refundedBy id.TransactionID
		)
		err := tx.QueryRowContext(ctx,
			`SELECT account_id, amount, kind, project_id, refunded_by
			 FROM quota_transactions WHERE id = ?`,
			targetID).Scan(&accountID, &amount, &kind, &projectID, &refundedBy)
		if errors.Is(err, sql.ErrNoRows) {
			return quota.ErrTransactionNotFound
		}
		if err != nil {
			return fmt.Errorf("sqlite: load refund target: %w", err)
		}
		if txn.Kind(kind) != txn.KindConsume || amount >= 0 {
			return quota.ErrInvalidRefundTarget
		}
		if !refundedBy.IsNil() {
			return quota.ErrAlreadyRefunded
		}

		balance, err := accountBalance(ctx, tx, accountID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE quota_transactions SET refunded_by = ? WHERE id = ?`,
			refund.ID, targetID); err != nil {
			return fmt.Errorf("sqlite: mark refunded: %w", err)
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
	row := s.db.QueryRowContext(ctx, selectTxn+` WHERE id = ?`, transactionID)
	entry, err := scanTxn(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM quota_transactions WHERE account_id = ?`,
		accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: count transactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		selectTxn+` WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		accountID, opts.PerPage, opts.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: list transactions: %w", err)
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quota_orders
		 (id, account_id, number, package_key, amount, currency, quota_amount,
		  status, payment_method, payment_ref, paid_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ord.ID, ord.AccountID, ord.Number, ord.PackageKey,
		ord.Amount.Amount, ord.Amount.Currency, ord.QuotaAmount,
		string(ord.Status), ord.PaymentMethod, ord.PaymentRef, ord.PaidAt,
		ord.CreatedAt, ord.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: create order: %w", err)
	}
	return nil
}

// GetOrder implements store.OrderStore.
func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx, selectOrder+` WHERE id = ?`, orderID)
	ord, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM quota_orders WHERE account_id = ?`,
		accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: count orders: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		selectOrder+` WHERE account_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		accountID, opts.PerPage, opts.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: list orders: %w", err)
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
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, selectOrder+` WHERE id = ?`, orderID)
		ord, err := scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			return quota.ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if ord.Status != order.StatusPending {
			return quota.ErrInvalidOrderState
		}

		balance, err := accountBalance(ctx, tx, ord.AccountID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE quota_orders
			 SET status = ?, payment_method = ?, payment_ref = ?, paid_at = ?, updated_at = ?
			 WHERE id = ?`,
			string(order.StatusPaid), method, paymentRef, paidAt, now, orderID); err != nil {
			return fmt.Errorf("sqlite: settle order: %w", err)
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
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, selectOrder+` WHERE id = ?`, orderID)
		ord, err := scanOrder(row)
		if errors.Is(err, sql.ErrNoRows) {
			return quota.ErrOrderNotFound
		}
		if err != nil {
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
		if _, err := tx.ExecContext(ctx,
			`UPDATE quota_orders SET status = ?, updated_at = ? WHERE id = ?`,
			string(order.StatusCancelled), now, orderID); err != nil {
			return fmt.Errorf("sqlite: cancel order: %w", err)
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

// withTx runs fn in an immediate transaction, committing on nil error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func accountBalance(ctx context.Context, tx *sql.Tx, accountID id.AccountID) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx,
		`SELECT balance FROM quota_accounts WHERE id = ?`,
		accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, quota.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: load account: %w", err)
	}
	return balance, nil
}

// applyEntry writes the new balance and inserts the ledger entry.
// Callers run inside an immediate transaction.
func applyEntry(ctx context.Context, tx *sql.Tx, entry *txn.Transaction, balance int64) (*txn.Transaction, error) {
	entry.BalanceAfter = balance + entry.Amount

	if _, err := tx.ExecContext(ctx,
		`UPDATE quota_accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		entry.BalanceAfter, time.Now().UTC(), entry.AccountID); err != nil {
		return nil, fmt.Errorf("sqlite: update balance: %w", err)
	}

	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quota_transactions
		 (id, account_id, amount, balance_after, kind, order_id, project_id,
		  description, metadata, refunded_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.AccountID, entry.Amount, entry.BalanceAfter, string(entry.Kind),
		entry.OrderID, entry.ProjectID, entry.Description, string(meta),
		entry.RefundedBy, entry.CreatedAt); err != nil {
		return nil, fmt.Errorf("sqlite: insert transaction: %w", err)
	}
	return entry, nil
}

const selectTxn = `SELECT id, account_id, amount, balance_after, kind, order_id,
	project_id, description, metadata, refunded_by, created_at
	FROM quota_transactions`

const selectOrder = `SELECT id, account_id, number, package_key, amount, currency,
	quota_amount, status, payment_method, payment_ref, paid_at, created_at, updated_at
	FROM quota_orders`

type scanner interface {
	Scan(dest ...any) error
}

func scanTxn(row scanner) (*txn.Transaction, error) {
	var (
		entry txn.Transaction
		kind  string
		meta  string
	)
	err := row.Scan(&entry.ID, &entry.AccountID, &entry.Amount, &entry.BalanceAfter,
		&kind, &entry.OrderID, &entry.ProjectID, &entry.Description, &meta,
		&entry.RefundedBy, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	entry.Kind = txn.Kind(kind)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("sqlite: decode metadata: %w", err)
		}
	}
	return &entry, nil
}

func scanOrder(row scanner) (*order.Order, error) {
	var (
		ord      order.Order
		status   string
		amount   int64
		currency string
		paidAt   sql.NullTime
	)
	err := row.Scan(&ord.ID, &ord.AccountID, &ord.Number, &ord.PackageKey,
		&amount, &currency, &ord.QuotaAmount, &status,
		&ord.PaymentMethod, &ord.PaymentRef, &paidAt,
		&ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ord.Status = order.Status(status)
	ord.Amount = types.Money{Amount: amount, Currency: currency}
	if paidAt.Valid {
		at := paidAt.Time
		ord.PaidAt = &at
	}
	return &ord, nil
}

// isUniqueViolation matches SQLite's constraint error text; the driver
// does not export a typed error for it.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
