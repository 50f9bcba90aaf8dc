package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/leviate/backend/internal/audit"
	"github.com/leviate/backend/internal/config"
	"github.com/leviate/backend/internal/models"
	"github.com/leviate/backend/internal/store"
	"github.com/shopspring/decimal"
)

// WalletService is the only writer of the ledger. Every append happens while
// the affected users' ledger locks are held, after the balance it depends on
// has been read under the same locks.
type WalletService struct {
	ledger   store.LedgerStore
	balances *BalanceCalculator
	auditor  *IntegrityAuditor
	audit    *audit.Logger
	config   *config.WalletConfig
	now      func() time.Time
}

func NewWalletService(ledger store.LedgerStore, cfg *config.WalletConfig, auditLog *audit.Logger) *WalletService {
	return &WalletService{
		ledger:   ledger,
		balances: NewBalanceCalculator(ledger),
		auditor:  NewIntegrityAuditor(ledger, auditLog),
		audit:    auditLog,
		config:   cfg,
		now:      time.Now,
	}
}

type entryOptions struct {
	metadata    models.Metadata
	referenceID string
}

type EntryOption func(*entryOptions)

func WithMetadata(metadata map[string]any) EntryOption {
	return func(o *entryOptions) { o.metadata = metadata }
}

// WithReference tags the entry with an external reference. A second post with
// the same reference for the same user returns the first entry instead of
// appending again.
func WithReference(referenceID string) EntryOption {
	return func(o *entryOptions) { o.referenceID = referenceID }
}

func (s *WalletService) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.balances.Balance(ctx, userID)
}

func (s *WalletService) Credit(ctx context.Context, userID string, amount decimal.Decimal, category models.Category, description string, opts ...EntryOption) (string, error) {
	return s.post(ctx, userID, models.DirectionCredit, amount, category, description, opts)
}

func (s *WalletService) Debit(ctx context.Context, userID string, amount decimal.Decimal, category models.Category, description string, opts ...EntryOption) (string, error) {
	return s.post(ctx, userID, models.DirectionDebit, amount, category, description, opts)
}

func (s *WalletService) post(ctx context.Context, userID string, direction models.Direction, amount decimal.Decimal, category models.Category, description string, opts []EntryOption) (string, error) {
	if err := validateAmount(amount); err != nil {
		return "", err
	}
	if !category.Valid() {
		return "", invalid("category", "unknown category %q", category)
	}

	var o entryOptions
	for _, opt := range opts {
		opt(&o)
	}

	var entry *models.LedgerEntry
	err := s.ledger.WithUserLocks(ctx, []string{userID}, func(ctx context.Context, tx store.LedgerTx) error {
		if o.referenceID != "" {
			existing, err := tx.FindByReference(ctx, userID, o.referenceID)
			if err == nil {
				entry = existing
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		balance, err := tx.Balance(ctx, userID)
		if err != nil {
			return err
		}

		balanceAfter := balance.Add(amount)
		if direction == models.DirectionDebit {
			if balance.LessThan(amount) {
				return ErrInsufficientBalance
			}
			balanceAfter = balance.Sub(amount)
		}

		entry = s.newEntry(userID, direction, amount, balanceAfter, category, description, models.EntryStatusCompleted)
		entry.Metadata = o.metadata
		if o.referenceID != "" {
			entry.ReferenceID = &o.referenceID
		}
		return tx.Append(ctx, entry)
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientBalance) {
			log.Printf("[WALLET] %s failed for user %s: %v", direction, userID, err)
		}
		return "", err
	}

	s.audit.LogEntry(userID, entry.ID, string(entry.Direction), string(entry.Category), entry.Amount, string(entry.Status))
	return entry.ID, nil
}

type TransferRequest struct {
	FromUserID     string
	ToUserID       string
	Amount         decimal.Decimal
	Description    string
	DebitCategory  models.Category
	CreditCategory models.Category
}

type TransferResult struct {
	DebitEntryID  string `json:"debitEntryId"`
	CreditEntryID string `json:"creditEntryId"`
}

// Transfer moves funds between two wallets as a linked DEBIT/CREDIT pair
// written in a single store transaction.
func (s *WalletService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.FromUserID == "" || req.ToUserID == "" {
		return nil, invalid("userId", "sender and recipient are required")
	}
	if req.FromUserID == req.ToUserID {
		return nil, invalid("toUserId", "cannot transfer to the same wallet")
	}
	if req.DebitCategory == "" {
		req.DebitCategory = models.CategoryWithdrawal
	}
	if req.CreditCategory == "" {
		req.CreditCategory = models.CategoryDeposit
	}
	if !req.DebitCategory.Valid() || !req.CreditCategory.Valid() {
		return nil, invalid("category", "unknown transfer category")
	}

	var debit, credit *models.LedgerEntry
	err := s.ledger.WithUserLocks(ctx, []string{req.FromUserID, req.ToUserID}, func(ctx context.Context, tx store.LedgerTx) error {
		fromBalance, err := tx.Balance(ctx, req.FromUserID)
		if err != nil {
			return err
		}
		if fromBalance.LessThan(req.Amount) {
			return ErrInsufficientBalance
		}

		toBalance, err := tx.Balance(ctx, req.ToUserID)
		if err != nil {
			return err
		}

		debit = s.newEntry(req.FromUserID, models.DirectionDebit, req.Amount, fromBalance.Sub(req.Amount),
			req.DebitCategory, req.Description, models.EntryStatusCompleted)
		credit = s.newEntry(req.ToUserID, models.DirectionCredit, req.Amount, toBalance.Add(req.Amount),
			req.CreditCategory, "Received: "+req.Description, models.EntryStatusCompleted)
		debit.CounterpartID = &credit.ID
		credit.CounterpartID = &debit.ID

		if err := tx.Append(ctx, debit); err != nil {
			return err
		}
		return tx.Append(ctx, credit)
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientBalance) {
			s.audit.LogError(req.FromUserID, "LEDGER_TRANSFER", err)
		}
		return nil, err
	}

	s.audit.LogTransfer(req.FromUserID, req.ToUserID, debit.ID, credit.ID, req.Amount)
	return &TransferResult{DebitEntryID: debit.ID, CreditEntryID: credit.ID}, nil
}

// Settlement describes the outcome of the external step of a settled debit.
type Settlement struct {
	Description string
	ReferenceID string
	Status      models.EntryStatus
	Metadata    map[string]any
}

// DebitWith checks the balance under the user's ledger lock, runs settle while
// the lock is still held and appends a DEBIT only if settle succeeds. No
// other debit for the user can interleave between the check and the append.
func (s *WalletService) DebitWith(ctx context.Context, userID string, amount decimal.Decimal, category models.Category, settle func(ctx context.Context) (*Settlement, error)) (*models.LedgerEntry, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var entry *models.LedgerEntry
	err := s.ledger.WithUserLocks(ctx, []string{userID}, func(ctx context.Context, tx store.LedgerTx) error {
		balance, err := tx.Balance(ctx, userID)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return ErrInsufficientBalance
		}

		outcome, err := settle(ctx)
		if err != nil {
			return err
		}

		status := outcome.Status
		if status == "" {
			status = models.EntryStatusCompleted
		}
		entry = s.newEntry(userID, models.DirectionDebit, amount, balance.Sub(amount), category, outcome.Description, status)
		entry.Metadata = outcome.Metadata
		if outcome.ReferenceID != "" {
			ref := outcome.ReferenceID
			entry.ReferenceID = &ref
		}
		return tx.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogEntry(userID, entry.ID, string(entry.Direction), string(entry.Category), entry.Amount, string(entry.Status))
	return entry, nil
}

func (s *WalletService) Statistics(ctx context.Context, userID string) (*models.Statistics, error) {
	entries, err := s.ledger.CompletedEntries(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &models.Statistics{
		CurrentBalance: FoldBalance(entries),
		TotalEarned:    decimal.Zero,
		TotalSpent:     decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalPayouts:   decimal.Zero,
		TotalReferrals: decimal.Zero,
	}
	for _, e := range entries {
		if e.Status != models.EntryStatusCompleted {
			continue
		}
		switch e.Direction {
		case models.DirectionCredit:
			stats.TotalEarned = stats.TotalEarned.Add(e.Amount)
			switch e.Category {
			case models.CategoryTaskPayout:
				stats.TotalPayouts = stats.TotalPayouts.Add(e.Amount)
			case models.CategoryReferralBonus:
				stats.TotalReferrals = stats.TotalReferrals.Add(e.Amount)
			}
		case models.DirectionDebit:
			stats.TotalSpent = stats.TotalSpent.Add(e.Amount)
			if e.Category == models.CategoryWithdrawal {
				stats.TotalWithdrawn = stats.TotalWithdrawn.Add(e.Amount)
			}
		}
	}
	return stats, nil
}

// History returns the user's most recent entries of any status, newest first.
func (s *WalletService) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = s.config.HistoryDefaultLimit
	}
	if limit > s.config.HistoryMaxLimit {
		limit = s.config.HistoryMaxLimit
	}
	return s.ledger.RecentEntries(ctx, userID, limit)
}

func (s *WalletService) VerifyLedgerIntegrity(ctx context.Context) (*IntegrityReport, error) {
	return s.auditor.Verify(ctx)
}

func (s *WalletService) newEntry(userID string, direction models.Direction, amount, balanceAfter decimal.Decimal, category models.Category, description string, status models.EntryStatus) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Direction:    direction,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Category:     category,
		Description:  description,
		Status:       status,
		CreatedAt:    s.now(),
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Round(2)) {
		return invalid("amount", "amount supports at most two decimal places")
	}
	return nil
}

func (s *WalletService) EntryByReference(ctx context.Context, userID, referenceID string) (*models.LedgerEntry, error) {
	entry, err := s.ledger.FindByReference(ctx, userID, referenceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("transaction %w", ErrNotFound)
		}
		return nil, err
	}
	return entry, nil
}
