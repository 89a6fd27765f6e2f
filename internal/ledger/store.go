package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Store backend names accepted by Open.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// queryTimeout bounds a single backend round trip.
const queryTimeout = 5 * time.Second

// Account is one numbered account and its balance.
type Account struct {
	Number  int
	Balance int64
}

// Store is the persistence capability the Ledger is built on. A Store does
// not enforce any banking rule; the Ledger does. Implementations must be
// safe for use by one caller at a time; the Ledger never calls concurrently.
type Store interface {
	// Get returns the account, or found=false if it does not exist.
	Get(ctx context.Context, number int) (acc Account, found bool, err error)
	// Put inserts or overwrites an account.
	Put(ctx context.Context, acc Account) error
	// Delete removes an account. Deleting a missing account is not an error.
	Delete(ctx context.Context, number int) error
	// List returns every account in ascending number order.
	List(ctx context.Context) ([]Account, error)
	Close() error
}

// Open creates the store named by kind. dsn is the sqlite file, the postgres
// URL or the badger directory; it is ignored for the memory store.
func Open(ctx context.Context, kind, dsn string, logger *logrus.Entry) (Store, error) {
	switch kind {
	case StoreMemory, "":
		return NewMemoryStore(), nil
	case StoreSQLite:
		return OpenSQLite(ctx, dsn)
	case StorePostgres:
		return OpenPostgres(ctx, dsn)
	case StoreBadger:
		return OpenBadger(dsn, logger)
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}
