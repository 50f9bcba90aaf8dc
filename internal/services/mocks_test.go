package services

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/leviate/backend/internal/config"
	"github.com/leviate/backend/internal/models"
	"github.com/leviate/backend/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) ListBanks(ctx context.Context) ([]models.Bank, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Bank), args.Error(1)
}

func (m *MockGateway) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*models.ResolvedAccount, error) {
	args := m.Called(ctx, accountNumber, bankCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ResolvedAccount), args.Error(1)
}

func (m *MockGateway) CreateRecipient(ctx context.Context, accountName, accountNumber, bankCode string) (string, error) {
	args := m.Called(ctx, accountName, accountNumber, bankCode)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) InitiateTransfer(ctx context.Context, recipientToken string, amount decimal.Decimal, reason, reference string) (*models.TransferResult, error) {
	args := m.Called(ctx, recipientToken, amount, reason, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransferResult), args.Error(1)
}

func (m *MockGateway) VerifyTransfer(ctx context.Context, transferCode string) (*models.TransferResult, error) {
	args := m.Called(ctx, transferCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransferResult), args.Error(1)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendWithdrawalOTP(ctx context.Context, email, code, userName string, amount decimal.Decimal) error {
	args := m.Called(ctx, email, code, userName, amount)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, userID, notificationType, title, message string, data map[string]any) error {
	args := m.Called(ctx, userID, notificationType, title, message, data)
	return args.Error(0)
}

// failingLedger fails the nth Append inside a locked section.
type failingLedger struct {
	*store.MemoryLedgerStore
	failOn  int32
	appends int32
}

var errAppendFailed = errors.New("append failed")

func (f *failingLedger) WithUserLocks(ctx context.Context, userIDs []string, fn func(ctx context.Context, tx store.LedgerTx) error) error {
	return f.MemoryLedgerStore.WithUserLocks(ctx, userIDs, func(ctx context.Context, tx store.LedgerTx) error {
		return fn(ctx, &failingTx{LedgerTx: tx, parent: f})
	})
}

type failingTx struct {
	store.LedgerTx
	parent *failingLedger
}

func (t *failingTx) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if atomic.AddInt32(&t.parent.appends, 1) == t.parent.failOn {
		return errAppendFailed
	}
	return t.LedgerTx.Append(ctx, entry)
}

func testConfig() *config.WalletConfig {
	cfg := config.DefaultWalletConfig()
	cfg.OTPHashKey = "test-otp-key"
	return cfg
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seedCredit puts a completed credit for userID straight into the store.
func seedCredit(t interface{ Helper() }, ledger *store.MemoryLedgerStore, userID string, amount decimal.Decimal) {
	t.Helper()
	ledger.Put(models.LedgerEntry{
		ID:           "seed-" + userID + "-" + amount.String(),
		UserID:       userID,
		Direction:    models.DirectionCredit,
		Amount:       amount,
		BalanceAfter: amount,
		Category:     models.CategoryDeposit,
		Status:       models.EntryStatusCompleted,
	})
}
