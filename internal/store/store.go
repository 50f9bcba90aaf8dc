// Package store holds the persistence layer for the wallet: the append-only
// ledger, bank accounts, withdrawal OTPs and the read-only user profile.
// Every store has a Postgres implementation over database/sql and an
// in-memory implementation with the same locking guarantees.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/leviate/backend/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("store: record not found")
	ErrDuplicate = errors.New("store: duplicate record")
)

// LedgerTx is the view of the ledger available while user locks are held.
// Appends become visible only if the surrounding WithUserLocks call succeeds.
type LedgerTx interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	FindByReference(ctx context.Context, userID, referenceID string) (*models.LedgerEntry, error)
	Append(ctx context.Context, entry *models.LedgerEntry) error
}

type LedgerStore interface {
	// WithUserLocks runs fn holding exclusive locks on every listed user.
	// Returning an error from fn discards every append made through tx. Store
	// calls made with the ctx passed to fn run on the locked section's own
	// connection and commit on their own.
	WithUserLocks(ctx context.Context, userIDs []string, fn func(ctx context.Context, tx LedgerTx) error) error
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	CompletedEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error)
	// AllCompletedEntries returns every completed entry in creation order.
	AllCompletedEntries(ctx context.Context) ([]models.LedgerEntry, error)
	RecentEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
	FindByReference(ctx context.Context, userID, referenceID string) (*models.LedgerEntry, error)
}

type BankAccountStore interface {
	// Create inserts the account and marks it default iff the user has no default yet.
	Create(ctx context.Context, account *models.BankAccount) error
	Exists(ctx context.Context, userID, accountNumber, bankCode string) (bool, error)
	Get(ctx context.Context, userID, accountID string) (*models.BankAccount, error)
	List(ctx context.Context, userID string) ([]models.BankAccount, error)
	SetDefault(ctx context.Context, userID, accountID string) error
	Delete(ctx context.Context, userID, accountID string) error
	SetRecipientToken(ctx context.Context, accountID, token string) error
	HasVerified(ctx context.Context, userID string) (bool, error)
}

type OtpStore interface {
	// Issue invalidates every unused OTP of the user and stores otp, atomically.
	Issue(ctx context.Context, otp *models.WithdrawalOtp) (invalidated int64, err error)
	FindUsable(ctx context.Context, userID, codeHash string, now time.Time) (*models.WithdrawalOtp, error)
	// Consume flips used from false to true. ErrNotFound means it was already consumed.
	Consume(ctx context.Context, otpID string) error
	// PurgeExpired deletes OTPs that expired before cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

type UserStore interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// lockOrder returns the distinct ids sorted so that every caller acquires
// locks in the same order.
func lockOrder(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
