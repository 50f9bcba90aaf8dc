package store

import (
	"context"
	"sync"
	"time"

	"github.com/leviate/backend/internal/models"
)

type MemoryOtpStore struct {
	mu   sync.Mutex
	otps []models.WithdrawalOtp
}

func NewMemoryOtpStore() *MemoryOtpStore {
	return &MemoryOtpStore{}
}

func (s *MemoryOtpStore) Issue(_ context.Context, otp *models.WithdrawalOtp) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invalidated int64
	for i := range s.otps {
		if s.otps[i].UserID == otp.UserID && !s.otps[i].Used {
			s.otps[i].Used = true
			invalidated++
		}
	}
	s.otps = append(s.otps, *otp)
	return invalidated, nil
}

func (s *MemoryOtpStore) FindUsable(_ context.Context, userID, codeHash string, now time.Time) (*models.WithdrawalOtp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newest *models.WithdrawalOtp
	for i := range s.otps {
		o := s.otps[i]
		if o.UserID != userID || o.CodeHash != codeHash || !o.Usable(now) {
			continue
		}
		if newest == nil || o.CreatedAt.After(newest.CreatedAt) {
			newest = &o
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

func (s *MemoryOtpStore) Consume(_ context.Context, otpID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.otps {
		if s.otps[i].ID == otpID {
			if s.otps[i].Used {
				return ErrNotFound
			}
			s.otps[i].Used = true
			return nil
		}
	}
	return ErrNotFound
}

// Unused counts the user's OTPs that have not been consumed or invalidated.
func (s *MemoryOtpStore) Unused(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.otps {
		if o.UserID == userID && !o.Used {
			n++
		}
	}
	return n
}

func (s *MemoryOtpStore) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.otps[:0]
	var purged int64
	for _, o := range s.otps {
		if o.ExpiresAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, o)
	}
	s.otps = kept
	return purged, nil
}
