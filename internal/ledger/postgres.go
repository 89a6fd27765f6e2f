package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	number  INTEGER PRIMARY KEY CHECK (number BETWEEN 10000 AND 99999),
	balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
);`

// PgxPool is the subset of *pgxpool.Pool the store uses.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps accounts in a PostgreSQL table.
type PostgresStore struct {
	Pool  PgxPool
	close func()
}

// NewPostgresStore wraps a pool. Call Migrate before first use.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	return &PostgresStore{Pool: pool}
}

// OpenPostgres connects to databaseURL, checks the connection and migrates.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres store needs a database URL")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{Pool: pool, close: pool.Close}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the accounts table if it does not exist.
func (ps *PostgresStore) Migrate(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := ps.Pool.Exec(queryCtx, postgresSchema); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Get(ctx context.Context, number int) (Account, bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	acc := Account{Number: number}
	err := ps.Pool.QueryRow(queryCtx,
		`SELECT balance FROM accounts WHERE number = $1`, number).Scan(&acc.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, false, nil
		}
		return Account{}, false, fmt.Errorf("failed to get account %d: %w", number, err)
	}
	return acc, true, nil
}

func (ps *PostgresStore) Put(ctx context.Context, acc Account) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := ps.Pool.Exec(queryCtx, `
		INSERT INTO accounts (number, balance) VALUES ($1, $2)
		ON CONFLICT (number) DO UPDATE SET balance = EXCLUDED.balance
	`, acc.Number, acc.Balance)
	if err != nil {
		return fmt.Errorf("failed to store account %d: %w", acc.Number, err)
	}
	return nil
}

func (ps *PostgresStore) Delete(ctx context.Context, number int) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := ps.Pool.Exec(queryCtx, `DELETE FROM accounts WHERE number = $1`, number); err != nil {
		return fmt.Errorf("failed to delete account %d: %w", number, err)
	}
	return nil
}

func (ps *PostgresStore) List(ctx context.Context) ([]Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := ps.Pool.Query(queryCtx, `SELECT number, balance FROM accounts ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var acc Account
		if err := rows.Scan(&acc.Number, &acc.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return out, nil
}

// Close releases the pool if the store opened it.
func (ps *PostgresStore) Close() error {
	if ps.close != nil {
		ps.close()
	}
	return nil
}
