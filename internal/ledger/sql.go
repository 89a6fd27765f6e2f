package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	number  INTEGER PRIMARY KEY CHECK (number BETWEEN 10000 AND 99999),
	balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0)
);`

// SQLStore keeps accounts in a database/sql table. It is used with the
// sqlite3 driver.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQLite opens (or creates) a sqlite database at path and migrates it.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store needs a database path")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// Every connection to ":memory:" is a different database, and the
	// ledger is serialized anyway.
	db.SetMaxOpenConns(1)

	store := NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the accounts table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, number int) (Account, bool, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	acc := Account{Number: number}
	err := s.db.QueryRowContext(queryCtx,
		`SELECT balance FROM accounts WHERE number = ?`, number).Scan(&acc.Balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, false, nil
		}
		return Account{}, false, fmt.Errorf("failed to query account %d: %w", number, err)
	}
	return acc, true, nil
}

func (s *SQLStore) Put(ctx context.Context, acc Account) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(queryCtx, `
		INSERT INTO accounts (number, balance) VALUES (?, ?)
		ON CONFLICT(number) DO UPDATE SET balance = excluded.balance
	`, acc.Number, acc.Balance)
	if err != nil {
		return fmt.Errorf("failed to store account %d: %w", acc.Number, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, number int) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, `DELETE FROM accounts WHERE number = ?`, number); err != nil {
		return fmt.Errorf("failed to delete account %d: %w", number, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, `SELECT number, balance FROM accounts ORDER BY number`)
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

func (s *SQLStore) Close() error {
	return s.db.Close()
}
