package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps accounts in a map. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[int]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[int]int64)}
}

func (m *MemoryStore) Get(_ context.Context, number int) (Account, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balance, ok := m.accounts[number]
	if !ok {
		return Account{}, false, nil
	}
	return Account{Number: number, Balance: balance}, true, nil
}

func (m *MemoryStore) Put(_ context.Context, acc Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.Number] = acc.Balance
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, number int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, number)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Account, error) {
	m.mu.RLock()
	out := make([]Account, 0, len(m.accounts))
	for number, balance := range m.accounts {
		out = append(out, Account{Number: number, Balance: balance})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
