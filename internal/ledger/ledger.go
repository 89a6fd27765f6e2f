// Package ledger owns this node's accounts. The Ledger serializes every
// operation behind one lock on top of a pluggable Store.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/example/bank-node/internal/bankerr"
	"github.com/example/bank-node/pkg/audit"
)

// Account number space.
const (
	MinNumber = 10000
	MaxNumber = 99999
	// Capacity is how many accounts one node can hold.
	Capacity = MaxNumber - MinNumber + 1
)

// Ledger provides the banking operations of a single node. Each method is
// atomic with respect to every other method.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	audit  *audit.ChainLogger
	logger *logrus.Entry
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAudit records every committed mutation in chain.
func WithAudit(chain *audit.ChainLogger) Option {
	return func(l *Ledger) { l.audit = chain }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return l
}

// CreateAccount opens an account with zero balance under the smallest free
// number, so numbers of removed accounts are handed out again.
func (l *Ledger) CreateAccount(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	accounts, err := l.store.List(ctx)
	if err != nil {
		return 0, l.internal(err, "list accounts")
	}

	number, ok := smallestFree(accounts)
	if !ok {
		return 0, bankerr.New(bankerr.CapacityExhausted, fmt.Sprintf("%d accounts", len(accounts)))
	}

	if err := l.store.Put(ctx, Account{Number: number}); err != nil {
		return 0, l.internal(err, "create account")
	}
	l.record("create", number, 0, 0)
	return number, nil
}

// smallestFree scans the ascending account list for the first gap.
func smallestFree(accounts []Account) (int, bool) {
	next := MinNumber
	for _, acc := range accounts {
		if acc.Number < next {
			continue
		}
		if acc.Number > next {
			break
		}
		next++
	}
	if next > MaxNumber {
		return 0, false
	}
	return next, true
}

// Deposit adds amount to the account.
func (l *Ledger) Deposit(ctx context.Context, number int, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.get(ctx, number)
	if err != nil {
		return err
	}
	if amount > math.MaxInt64-acc.Balance {
		return l.internal(fmt.Errorf("balance %d + %d overflows", acc.Balance, amount), "deposit")
	}

	acc.Balance += amount
	if err := l.store.Put(ctx, acc); err != nil {
		return l.internal(err, "deposit")
	}
	l.record("deposit", number, amount, acc.Balance)
	return nil
}

// Withdraw takes amount from the account. The balance is left untouched when
// it does not cover amount.
func (l *Ledger) Withdraw(ctx context.Context, number int, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.get(ctx, number)
	if err != nil {
		return err
	}
	if acc.Balance < amount {
		return bankerr.New(bankerr.InsufficientFunds, fmt.Sprintf("account %d", number))
	}

	acc.Balance -= amount
	if err := l.store.Put(ctx, acc); err != nil {
		return l.internal(err, "withdraw")
	}
	l.record("withdraw", number, amount, acc.Balance)
	return nil
}

// GetBalance returns the account balance.
func (l *Ledger) GetBalance(ctx context.Context, number int) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.get(ctx, number)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Remove deletes an empty account.
func (l *Ledger) Remove(ctx context.Context, number int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, err := l.get(ctx, number)
	if err != nil {
		return err
	}
	if acc.Balance != 0 {
		return bankerr.New(bankerr.NonZeroBalance, fmt.Sprintf("account %d", number))
	}

	if err := l.store.Delete(ctx, number); err != nil {
		return l.internal(err, "remove")
	}
	l.record("remove", number, 0, 0)
	return nil
}

// TotalAmount returns the sum of all balances.
func (l *Ledger) TotalAmount(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	accounts, err := l.store.List(ctx)
	if err != nil {
		return 0, l.internal(err, "list accounts")
	}

	var total int64
	for _, acc := range accounts {
		if acc.Balance > math.MaxInt64-total {
			return 0, l.internal(fmt.Errorf("total of %d accounts overflows", len(accounts)), "total amount")
		}
		total += acc.Balance
	}
	return total, nil
}

// AccountCount returns the number of accounts.
func (l *Ledger) AccountCount(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	accounts, err := l.store.List(ctx)
	if err != nil {
		return 0, l.internal(err, "list accounts")
	}
	return len(accounts), nil
}

// get loads an account; the caller holds the lock.
func (l *Ledger) get(ctx context.Context, number int) (Account, error) {
	acc, found, err := l.store.Get(ctx, number)
	if err != nil {
		return Account{}, l.internal(err, "get account")
	}
	if !found {
		return Account{}, bankerr.New(bankerr.AccountNotFound, fmt.Sprintf("account %d", number))
	}
	return acc, nil
}

func (l *Ledger) internal(err error, op string) error {
	l.logger.WithError(err).WithField("op", op).Error("ledger store failure")
	return bankerr.Wrap(bankerr.Internal, err, op)
}

// record appends to the audit chain while the lock is still held, so the
// chain order is the order mutations were applied.
func (l *Ledger) record(op string, number int, amount, balance int64) {
	if l.audit == nil {
		return
	}
	l.audit.Record(audit.Event{Op: op, Account: number, Amount: amount, Balance: balance})
}
