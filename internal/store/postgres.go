package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vtrade/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// WithAccount locks the account row (SELECT ... FOR UPDATE), so concurrent
// ledger mutations for one account serialize at the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id            UUID PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			balance       NUMERIC NOT NULL CHECK (balance >= 0),
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			account_id UUID NOT NULL REFERENCES accounts(id),
			ticker     TEXT NOT NULL,
			amount     NUMERIC NOT NULL CHECK (amount > 0),
			avg_price  NUMERIC NOT NULL,
			PRIMARY KEY (account_id, ticker)
		);
		CREATE TABLE IF NOT EXISTS trades (
			id          UUID PRIMARY KEY,
			account_id  UUID NOT NULL REFERENCES accounts(id),
			ticker      TEXT NOT NULL,
			side        TEXT NOT NULL,
			amount      NUMERIC NOT NULL,
			price       NUMERIC NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS orders (
			id          UUID PRIMARY KEY,
			account_id  UUID NOT NULL REFERENCES accounts(id),
			ticker      TEXT NOT NULL,
			side        TEXT NOT NULL,
			quantity    NUMERIC NOT NULL,
			limit_price NUMERIC NOT NULL,
			status      TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, executed_at);
		CREATE INDEX IF NOT EXISTS idx_orders_pending ON orders(status) WHERE status = 'pending';
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, password_hash, balance, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
		a.ID, a.Username, a.PasswordHash, a.Balance.String(), a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("username %s: %w", a.Username, model.ErrAlreadyExists)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.getAccount(ctx, s.pool, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.getAccount(ctx, s.pool, `WHERE username = $1`, username)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) getAccount(ctx context.Context, q querier, where string, arg any) (*model.Account, error) {
	var a model.Account
	var balance string

	err := q.QueryRow(ctx,
		`SELECT id, username, password_hash, balance::TEXT, created_at
		 FROM accounts `+where, arg).
		Scan(&a.ID, &a.Username, &a.PasswordHash, &balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account: %w", model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

// WithAccount runs fn inside a transaction that holds the account's row lock
// for its whole duration. Commit applies every staged mutation or none.
func (s *PostgresStore) WithAccount(ctx context.Context, accountID string, fn func(txn *AccountTxn) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", model.ErrStoreFailure, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	acct, err := s.getAccountForUpdate(ctx, tx, accountID)
	if err != nil {
		return err
	}
	positions, err := s.loadPositions(ctx, tx, accountID)
	if err != nil {
		return fmt.Errorf("%w: load positions: %v", model.ErrStoreFailure, err)
	}
	orders, err := s.loadOrders(ctx, tx, accountID)
	if err != nil {
		return fmt.Errorf("%w: load orders: %v", model.ErrStoreFailure, err)
	}

	txn := NewAccountTxn(acct, positions, orders)
	if err := fn(txn); err != nil {
		return err
	}

	if err := s.applyTxn(ctx, tx, accountID, txn); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", model.ErrStoreFailure, err)
	}
	committed = true
	return nil
}

func (s *PostgresStore) getAccountForUpdate(ctx context.Context, tx pgx.Tx, id string) (*model.Account, error) {
	var a model.Account
	var balance string

	err := tx.QueryRow(ctx,
		`SELECT id, username, password_hash, balance::TEXT, created_at
		 FROM accounts WHERE id = $1
		 FOR UPDATE`, id).
		Scan(&a.ID, &a.Username, &a.PasswordHash, &balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock account: %v", model.ErrStoreFailure, err)
	}

	a.Balance, _ = decimal.NewFromString(balance)
	return &a, nil
}

func (s *PostgresStore) loadPositions(ctx context.Context, q querier, accountID string) ([]model.Position, error) {
	rows, err := q.Query(ctx,
		`SELECT account_id, ticker, amount::TEXT, avg_price::TEXT
		 FROM positions WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var amount, avgPrice string
		if err := rows.Scan(&p.AccountID, &p.Ticker, &amount, &avgPrice); err != nil {
			return nil, err
		}
		p.Amount, _ = decimal.NewFromString(amount)
		p.AvgPrice, _ = decimal.NewFromString(avgPrice)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) loadOrders(ctx context.Context, q querier, accountID string) ([]model.ReservationOrder, error) {
	rows, err := q.Query(ctx,
		`SELECT id, account_id, ticker, side, quantity::TEXT, limit_price::TEXT, status, created_at
		 FROM orders WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func (s *PostgresStore) applyTxn(ctx context.Context, tx pgx.Tx, accountID string, txn *AccountTxn) error {
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE id = $1`,
		accountID, txn.Account.Balance.String()); err != nil {
		return fmt.Errorf("%w: update balance: %v", model.ErrStoreFailure, err)
	}

	for _, p := range txn.positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (account_id, ticker, amount, avg_price)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
			 ON CONFLICT (account_id, ticker)
			 DO UPDATE SET amount = EXCLUDED.amount, avg_price = EXCLUDED.avg_price`,
			p.AccountID, p.Ticker, p.Amount.String(), p.AvgPrice.String()); err != nil {
			return fmt.Errorf("%w: upsert position: %v", model.ErrStoreFailure, err)
		}
	}
	for ticker := range txn.removedPositions {
		if _, err := tx.Exec(ctx,
			`DELETE FROM positions WHERE account_id = $1 AND ticker = $2`,
			accountID, ticker); err != nil {
			return fmt.Errorf("%w: delete position: %v", model.ErrStoreFailure, err)
		}
	}

	for _, t := range txn.trades {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trades (id, account_id, ticker, side, amount, price, executed_at)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
			t.ID, t.AccountID, t.Ticker, t.Side,
			t.Amount.String(), t.Price.String(), t.ExecutedAt); err != nil {
			return fmt.Errorf("%w: insert trade: %v", model.ErrStoreFailure, err)
		}
	}

	// The status guard makes the pending → terminal transition monotonic even
	// if the order row changed outside this account's row lock.
	for id, status := range txn.statusChanges {
		tag, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2 WHERE id = $1 AND status = 'pending'`,
			id, status)
		if err != nil {
			return fmt.Errorf("%w: update order: %v", model.ErrStoreFailure, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("order %s already settled: %w", id, model.ErrInvalidOrderState)
		}
	}

	return nil
}

func (s *PostgresStore) GetPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.loadPositions(ctx, s.pool, accountID)
}

func (s *PostgresStore) GetTrades(ctx context.Context, accountID string) ([]model.TradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, ticker, side, amount::TEXT, price::TEXT, executed_at
		 FROM trades WHERE account_id = $1 ORDER BY executed_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.TradeRecord
	for rows.Next() {
		var t model.TradeRecord
		var amount, price string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Ticker, &t.Side, &amount, &price, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amount)
		t.Price, _ = decimal.NewFromString(price)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.ReservationOrder) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, account_id, ticker, side, quantity, limit_price, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		o.ID, o.AccountID, o.Ticker, o.Side,
		o.Quantity.String(), o.LimitPrice.String(), o.Status, o.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetOrdersByAccount(ctx context.Context, accountID string) ([]model.ReservationOrder, error) {
	return s.loadOrders(ctx, s.pool, accountID)
}

func (s *PostgresStore) ListPendingOrders(ctx context.Context) ([]model.ReservationOrder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, ticker, side, quantity::TEXT, limit_price::TEXT, status, created_at
		 FROM orders WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]model.ReservationOrder, error) {
	var orders []model.ReservationOrder
	for rows.Next() {
		var o model.ReservationOrder
		var quantity, limitPrice string
		if err := rows.Scan(&o.ID, &o.AccountID, &o.Ticker, &o.Side,
			&quantity, &limitPrice, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Quantity, _ = decimal.NewFromString(quantity)
		o.LimitPrice, _ = decimal.NewFromString(limitPrice)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
