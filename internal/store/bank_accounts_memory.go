package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/leviate/backend/internal/models"
)

type MemoryBankAccountStore struct {
	mu       sync.Mutex
	accounts map[string]models.BankAccount
}

func NewMemoryBankAccountStore() *MemoryBankAccountStore {
	return &MemoryBankAccountStore{accounts: make(map[string]models.BankAccount)}
}

func (s *MemoryBankAccountStore) Create(_ context.Context, a *models.BankAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasDefault := false
	for _, existing := range s.accounts {
		if existing.UserID != a.UserID {
			if a.HasRecipient() && existing.HasRecipient() && *existing.GatewayRecipientToken == *a.GatewayRecipientToken {
				return ErrDuplicate
			}
			continue
		}
		if existing.AccountNumber == a.AccountNumber && existing.BankCode == a.BankCode {
			return ErrDuplicate
		}
		if existing.IsDefault {
			hasDefault = true
		}
	}

	a.IsDefault = !hasDefault
	s.accounts[a.ID] = *a
	return nil
}

func (s *MemoryBankAccountStore) Exists(_ context.Context, userID, accountNumber, bankCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UserID == userID && a.AccountNumber == accountNumber && a.BankCode == bankCode {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryBankAccountStore) Get(_ context.Context, userID, accountID string) (*models.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.UserID != userID {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryBankAccountStore) List(_ context.Context, userID string) ([]models.BankAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.BankAccount{}
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryBankAccountStore) SetDefault(_ context.Context, userID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.accounts[accountID]
	if !ok || target.UserID != userID {
		return ErrNotFound
	}

	now := time.Now()
	for id, a := range s.accounts {
		if a.UserID == userID && a.IsDefault {
			a.IsDefault = false
			a.UpdatedAt = now
			s.accounts[id] = a
		}
	}
	target = s.accounts[accountID]
	target.IsDefault = true
	target.UpdatedAt = now
	s.accounts[accountID] = target
	return nil
}

func (s *MemoryBankAccountStore) Delete(_ context.Context, userID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok || a.UserID != userID {
		return ErrNotFound
	}
	delete(s.accounts, accountID)
	return nil
}

func (s *MemoryBankAccountStore) SetRecipientToken(_ context.Context, accountID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	for id, other := range s.accounts {
		if id != accountID && other.HasRecipient() && *other.GatewayRecipientToken == token {
			return ErrDuplicate
		}
	}
	a.GatewayRecipientToken = &token
	a.UpdatedAt = time.Now()
	s.accounts[accountID] = a
	return nil
}

func (s *MemoryBankAccountStore) HasVerified(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.UserID == userID && a.IsVerified {
			return true, nil
		}
	}
	return false, nil
}
