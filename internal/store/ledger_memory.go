package store

import (
	"context"
	"sync"

	"github.com/leviate/backend/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryLedgerStore is a concurrency-safe in-process ledger. Writers take a
// mutex per user, so different users never contend with each other.
type MemoryLedgerStore struct {
	mu      sync.RWMutex
	entries []models.LedgerEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{locks: make(map[string]*sync.Mutex)}
}

func (s *MemoryLedgerStore) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *MemoryLedgerStore) WithUserLocks(ctx context.Context, userIDs []string, fn func(ctx context.Context, tx LedgerTx) error) error {
	for _, userID := range lockOrder(userIDs) {
		l := s.userLock(userID)
		l.Lock()
		defer l.Unlock()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryLedgerTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.entries = append(s.entries, tx.staged...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryLedgerStore) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return foldCompleted(s.entries, userID), nil
}

func (s *MemoryLedgerStore) CompletedEntries(_ context.Context, userID string) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.LedgerEntry{}
	for _, e := range s.entries {
		if e.UserID == userID && e.Status == models.EntryStatusCompleted {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryLedgerStore) AllCompletedEntries(_ context.Context) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.LedgerEntry{}
	for _, e := range s.entries {
		if e.Status == models.EntryStatusCompleted {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryLedgerStore) RecentEntries(_ context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.LedgerEntry{}
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *MemoryLedgerStore) FindByReference(_ context.Context, userID, referenceID string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findReference(s.entries, userID, referenceID)
}

// Put appends entries verbatim, bypassing the balance bookkeeping. It exists
// to seed fixtures, including deliberately corrupt ones.
func (s *MemoryLedgerStore) Put(entries ...models.LedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
}

// Len returns the number of stored entries of any status.
func (s *MemoryLedgerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

type memoryLedgerTx struct {
	store  *MemoryLedgerStore
	staged []models.LedgerEntry
}

func (t *memoryLedgerTx) Balance(_ context.Context, userID string) (decimal.Decimal, error) {
	t.store.mu.RLock()
	committed := foldCompleted(t.store.entries, userID)
	t.store.mu.RUnlock()
	return committed.Add(foldCompleted(t.staged, userID)), nil
}

func (t *memoryLedgerTx) FindByReference(_ context.Context, userID, referenceID string) (*models.LedgerEntry, error) {
	if e, err := findReference(t.staged, userID, referenceID); err == nil {
		return e, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return findReference(t.store.entries, userID, referenceID)
}

func (t *memoryLedgerTx) Append(_ context.Context, entry *models.LedgerEntry) error {
	t.staged = append(t.staged, *entry)
	return nil
}

func foldCompleted(entries []models.LedgerEntry, userID string) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range entries {
		if e.UserID == userID && e.Status == models.EntryStatusCompleted {
			balance = balance.Add(e.Signed())
		}
	}
	return balance
}

func findReference(entries []models.LedgerEntry, userID, referenceID string) (*models.LedgerEntry, error) {
	for i := range entries {
		e := entries[i]
		if e.UserID == userID && e.ReferenceID != nil && *e.ReferenceID == referenceID {
			return &e, nil
		}
	}
	return nil, ErrNotFound
}
