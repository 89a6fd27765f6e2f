package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var accountPrefix = []byte("account/")

// BadgerStore keeps accounts in a badger key-value database. Keys are the
// prefix followed by the big-endian number, so prefix iteration yields
// accounts in ascending order.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a badger database in dir. An empty dir gives an
// in-memory database.
func OpenBadger(dir string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if logger != nil {
		opts = opts.WithLogger(logger.WithField("component", "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func accountKey(number int) []byte {
	key := make([]byte, len(accountPrefix)+4)
	copy(key, accountPrefix)
	binary.BigEndian.PutUint32(key[len(accountPrefix):], uint32(number))
	return key
}

func decodeBalance(val []byte) (int64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt balance value of %d bytes", len(val))
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}

func encodeBalance(balance int64) []byte {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(balance))
	return val
}

func (s *BadgerStore) Get(_ context.Context, number int) (Account, bool, error) {
	acc := Account{Number: number}
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(number))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			balance, err := decodeBalance(val)
			if err != nil {
				return err
			}
			acc.Balance = balance
			found = true
			return nil
		})
	})
	if err != nil {
		return Account{}, false, fmt.Errorf("failed to get account %d: %w", number, err)
	}
	if !found {
		return Account{}, false, nil
	}
	return acc, true, nil
}

func (s *BadgerStore) Put(_ context.Context, acc Account) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(acc.Number), encodeBalance(acc.Balance))
	})
	if err != nil {
		return fmt.Errorf("failed to store account %d: %w", acc.Number, err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, number int) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(accountKey(number))
	})
	if err != nil {
		return fmt.Errorf("failed to delete account %d: %w", number, err)
	}
	return nil
}

func (s *BadgerStore) List(_ context.Context) ([]Account, error) {
	var out []Account

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = accountPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(accountPrefix)+4 {
				return fmt.Errorf("corrupt account key %q", key)
			}
			acc := Account{Number: int(binary.BigEndian.Uint32(key[len(accountPrefix):]))}
			err := item.Value(func(val []byte) error {
				balance, err := decodeBalance(val)
				acc.Balance = balance
				return err
			})
			if err != nil {
				return err
			}
			out = append(out, acc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
