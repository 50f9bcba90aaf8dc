package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leviate/backend/internal/audit"
	"github.com/leviate/backend/internal/models"
	"github.com/leviate/backend/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type withdrawalFixture struct {
	svc      *WithdrawalService
	ledger   *store.MemoryLedgerStore
	accounts *store.MemoryBankAccountStore
	otps     *store.MemoryOtpStore
	users    *store.MemoryUserStore
	gateway  *MockGateway
	mailer   *MockMailer
	notifier *MockNotifier
}

func newWithdrawalFixture(t *testing.T) *withdrawalFixture {
	t.Helper()
	cfg := testConfig()
	auditLog := audit.NewLoggerWithSink(func(string) {})

	f := &withdrawalFixture{
		ledger:   store.NewMemoryLedgerStore(),
		accounts: store.NewMemoryBankAccountStore(),
		otps:     store.NewMemoryOtpStore(),
		users: store.NewMemoryUserStore(models.User{
			ID: "user-1", Email: "ada@example.com", FirstName: "Ada",
			EmailVerified: true, NinVerified: true, Status: models.UserStatusActive,
		}),
		gateway:  new(MockGateway),
		mailer:   new(MockMailer),
		notifier: new(MockNotifier),
	}
	f.gateway.On("ListBanks", mock.Anything).Return([]models.Bank{{Code: "058", Name: "Guaranty Trust Bank"}}, nil).Maybe()

	token := "RCP_1"
	require.NoError(t, f.accounts.Create(context.Background(), &models.BankAccount{
		ID: "acc-1", UserID: "user-1", AccountNumber: "0123456789", AccountName: "ADA OBI",
		BankCode: "058", BankName: "Guaranty Trust Bank", IsVerified: true, GatewayRecipientToken: &token,
	}))

	wallet := NewWalletService(f.ledger, cfg, auditLog)
	catalog := NewBankCatalog(f.gateway, nil, cfg.BankCacheTTL)
	f.svc = NewWithdrawalService(WithdrawalDeps{
		Wallet:   wallet,
		Banks:    NewBankAccountService(f.accounts, f.gateway, catalog, cfg, auditLog),
		Accounts: f.accounts,
		Otps:     f.otps,
		Users:    f.users,
		Gateway:  f.gateway,
		Mailer:   f.mailer,
		Notifier: f.notifier,
		Limiter:  NewOtpRateLimiter(nil, cfg.MaxOTPRequests, cfg.OTPRateLimitWindow),
		Audit:    auditLog,
		Config:   cfg,
	})
	return f
}

func (f *withdrawalFixture) expectMail() {
	f.mailer.On("SendWithdrawalOTP", mock.Anything, "ada@example.com", mock.Anything, "Ada", mock.Anything).Return(nil)
}

func (f *withdrawalFixture) expectTransfer(status models.TransferStatus, code string) {
	f.gateway.On("InitiateTransfer", mock.Anything, "RCP_1", mock.Anything, mock.Anything, mock.Anything).
		Return(&models.TransferResult{Status: status, TransferCode: code}, nil)
}

func (f *withdrawalFixture) withdraw(code, amount string) (*WithdrawalResult, error) {
	return f.svc.VerifyOtpAndWithdraw(context.Background(), WithdrawRequest{
		UserID: "user-1", Code: code, BankAccountID: "acc-1", Amount: dec(amount),
	})
}

func TestWithdrawalService_ReissueInvalidatesPreviousCode(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))
	f.expectMail()
	f.expectTransfer(models.TransferStatusSuccess, "TRF_1")
	f.notifier.On("Notify", mock.Anything, "user-1", NotificationWithdrawalProcessed, "Withdrawal Processed", mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	first, err := f.svc.RequestOtp(ctx, "user-1", dec("100"))
	require.NoError(t, err)
	second, err := f.svc.RequestOtp(ctx, "user-1", dec("100"))
	require.NoError(t, err)
	assert.True(t, second.EmailDelivered)
	assert.Equal(t, 1, f.otps.Unused("user-1"))

	_, err = f.withdraw(first.Code, "100")
	if first.Code != second.Code {
		assert.ErrorIs(t, err, ErrInvalidOrExpiredOtp)
	}

	result, err := f.withdraw(second.Code, "100")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusCompleted, result.Status)
	assert.Equal(t, "TRF_1", result.TransferCode)
	assert.True(t, result.BalanceAfter.Equal(dec("400")))
	assert.Contains(t, result.Reference, "WITHDRAWAL_")
	assert.Equal(t, 0, f.otps.Unused("user-1"))

	balance, _ := f.svc.wallet.Balance(ctx, "user-1")
	assert.True(t, balance.Equal(dec("400")))

	// single use
	_, err = f.withdraw(second.Code, "100")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOtp)
	f.gateway.AssertNumberOfCalls(t, "InitiateTransfer", 1)
	f.notifier.AssertExpectations(t)
}

func TestWithdrawalService_RequestOtpPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("below minimum", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		seedCredit(t, f.ledger, "user-1", dec("500"))
		_, err := f.svc.RequestOtp(ctx, "user-1", dec("50"))
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		seedCredit(t, f.ledger, "user-1", dec("99"))
		_, err := f.svc.RequestOtp(ctx, "user-1", dec("100"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)
	})

	t.Run("nin not verified", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		seedCredit(t, f.ledger, "user-1", dec("500"))
		f.users.Put(models.User{ID: "user-1", Email: "ada@example.com", FirstName: "Ada"})
		_, err := f.svc.RequestOtp(ctx, "user-1", dec("100"))
		assert.ErrorIs(t, err, ErrNinNotVerified)
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		seedCredit(t, f.ledger, "ghost", dec("500"))
		_, err := f.svc.RequestOtp(ctx, "ghost", dec("100"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no verified bank account", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		seedCredit(t, f.ledger, "user-1", dec("500"))
		require.NoError(t, f.accounts.Delete(ctx, "user-1", "acc-1"))
		_, err := f.svc.RequestOtp(ctx, "user-1", dec("100"))
		assert.ErrorIs(t, err, ErrNoVerifiedBankAccount)
		assert.Equal(t, 0, f.otps.Unused("user-1"))
	})

	t.Run("email failure keeps the otp", func(t *testing.T) {
		f := newWithdrawalFixture(t)
		seedCredit(t, f.ledger, "user-1", dec("500"))
		f.mailer.On("SendWithdrawalOTP", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))

		issued, err := f.svc.RequestOtp(ctx, "user-1", dec("100"))
		require.NoError(t, err)
		assert.False(t, issued.EmailDelivered)
		assert.Equal(t, 1, f.otps.Unused("user-1"))
	})
}

func TestWithdrawalService_TransferFailure(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))
	f.expectMail()
	f.gateway.On("InitiateTransfer", mock.Anything, "RCP_1", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("gateway timeout"))
	ctx := context.Background()

	issued, err := f.svc.RequestOtp(ctx, "user-1", dec("200"))
	require.NoError(t, err)

	_, err = f.withdraw(issued.Code, "200")
	assert.ErrorIs(t, err, ErrTransferInitiationFailed)
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))

	// no ledger entry, balance unchanged, otp spent
	assert.Equal(t, 1, f.ledger.Len())
	balance, _ := f.svc.wallet.Balance(ctx, "user-1")
	assert.True(t, balance.Equal(dec("500")))
	assert.Equal(t, 0, f.otps.Unused("user-1"))

	_, err = f.withdraw(issued.Code, "200")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOtp)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWithdrawalService_FailedGatewayStatus(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))
	f.expectMail()
	f.expectTransfer(models.TransferStatusFailed, "TRF_9")

	issued, err := f.svc.RequestOtp(context.Background(), "user-1", dec("100"))
	require.NoError(t, err)

	_, err = f.withdraw(issued.Code, "100")
	assert.ErrorIs(t, err, ErrTransferInitiationFailed)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestWithdrawalService_PendingTransfer(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))
	f.expectMail()
	f.expectTransfer(models.TransferStatusPending, "TRF_2")
	f.notifier.On("Notify", mock.Anything, "user-1", NotificationWithdrawalPending, "Withdrawal Pending", mock.Anything, mock.Anything).
		Return(errors.New("notifications table missing"))
	ctx := context.Background()

	issued, err := f.svc.RequestOtp(ctx, "user-1", dec("100"))
	require.NoError(t, err)

	result, err := f.withdraw(issued.Code, "100")
	require.NoError(t, err)
	assert.Equal(t, models.EntryStatusPending, result.Status)

	// pending withdrawals do not reduce the spendable balance
	balance, _ := f.svc.wallet.Balance(ctx, "user-1")
	assert.True(t, balance.Equal(dec("500")))

	f.gateway.On("VerifyTransfer", mock.Anything, "TRF_2").
		Return(&models.TransferResult{Status: models.TransferStatusSuccess, TransferCode: "TRF_2"}, nil)
	status, err := f.svc.WithdrawalStatus(ctx, "user-1", "TRF_2")
	require.NoError(t, err)
	assert.Equal(t, result.EntryID, status.Entry.ID)
	assert.Equal(t, models.TransferStatusSuccess, status.Gateway.Status)

	_, err = f.svc.WithdrawalStatus(ctx, "someone-else", "TRF_2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithdrawalService_VerifyRejections(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))

	_, err := f.withdraw("12ab56", "100")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.VerifyOtpAndWithdraw(context.Background(), WithdrawRequest{
		UserID: "user-1", Code: "123456", BankAccountID: "missing", Amount: dec("100"),
	})
	assert.ErrorIs(t, err, ErrBankAccountNotFound)

	_, err = f.withdraw("123456", "100")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOtp)
}

func TestWithdrawalService_ExpiredOtp(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))
	f.expectMail()
	now := time.Now()
	f.svc.now = func() time.Time { return now }

	issued, err := f.svc.RequestOtp(context.Background(), "user-1", dec("100"))
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)
	_, err = f.withdraw(issued.Code, "100")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOtp)

	now = now.Add(24 * time.Hour)
	purged, err := f.svc.PurgeExpiredOtps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestWithdrawalService_SlowGatewaySuccessIsRecorded(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))
	f.expectMail()
	f.svc.config.GatewayTimeout = 20 * time.Millisecond
	f.gateway.On("InitiateTransfer", mock.Anything, "RCP_1", mock.Anything, mock.Anything, mock.Anything).
		After(30*time.Millisecond).
		Return(&models.TransferResult{Status: models.TransferStatusSuccess, TransferCode: "TRF_OK"}, nil)
	f.notifier.On("Notify", mock.Anything, "user-1", NotificationWithdrawalProcessed, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ctx := context.Background()

	issued, err := f.svc.RequestOtp(ctx, "user-1", dec("100"))
	require.NoError(t, err)

	result, err := f.withdraw(issued.Code, "100")
	require.NoError(t, err)
	assert.Equal(t, "TRF_OK", result.TransferCode)
	assert.Equal(t, 2, f.ledger.Len())

	balance, _ := f.svc.wallet.Balance(ctx, "user-1")
	assert.True(t, balance.Equal(dec("400")))
}

func TestWithdrawalService_BalanceRecheckedAtVerify(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))
	f.expectMail()
	ctx := context.Background()

	issued, err := f.svc.RequestOtp(ctx, "user-1", dec("400"))
	require.NoError(t, err)

	_, err = f.svc.wallet.Debit(ctx, "user-1", dec("300"), models.CategoryTransferOut, "spent elsewhere")
	require.NoError(t, err)

	_, err = f.withdraw(issued.Code, "400")
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	f.gateway.AssertNotCalled(t, "InitiateTransfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.otps.Unused("user-1"))

	balance, _ := f.svc.wallet.Balance(ctx, "user-1")
	assert.True(t, balance.Equal(dec("200")))
}

func TestWithdrawalService_ConcurrentVerifySameCode(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))
	f.expectMail()
	f.expectTransfer(models.TransferStatusSuccess, "TRF_1")
	f.notifier.On("Notify", mock.Anything, "user-1", NotificationWithdrawalProcessed, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	issued, err := f.svc.RequestOtp(context.Background(), "user-1", dec("100"))
	require.NoError(t, err)

	var succeeded, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.withdraw(issued.Code, "100")
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, ErrInvalidOrExpiredOtp):
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(7), rejected)
	f.gateway.AssertNumberOfCalls(t, "InitiateTransfer", 1)

	balance, _ := f.svc.wallet.Balance(context.Background(), "user-1")
	assert.True(t, balance.Equal(dec("400")))
}

func TestWithdrawalService_ConcurrentRequestOtp(t *testing.T) {
	f := newWithdrawalFixture(t)
	seedCredit(t, f.ledger, "user-1", dec("500"))
	f.expectMail()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RequestOtp(context.Background(), "user-1", dec("100"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.otps.Unused("user-1"))
}

// A withdrawal must complete on a pool of one connection: every store call
// made while the ledger lock is held reuses the locked connection.
func TestWithdrawalService_PostgresSingleConnection(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	cfg := testConfig()
	auditLog := audit.NewLoggerWithSink(func(string) {})
	gateway := new(MockGateway)
	notifier := new(MockNotifier)
	accounts := store.NewPostgresBankAccountStore(db)
	otps := store.NewPostgresOtpStore(db)
	svc := NewWithdrawalService(WithdrawalDeps{
		Wallet:   NewWalletService(store.NewPostgresLedgerStore(db), cfg, auditLog),
		Banks:    NewBankAccountService(accounts, gateway, NewBankCatalog(gateway, nil, cfg.BankCacheTTL), cfg, auditLog),
		Accounts: accounts,
		Otps:     otps,
		Users:    store.NewMemoryUserStore(),
		Gateway:  gateway,
		Mailer:   new(MockMailer),
		Notifier: notifier,
		Limiter:  NewOtpRateLimiter(nil, cfg.MaxOTPRequests, cfg.OTPRateLimitWindow),
		Audit:    auditLog,
		Config:   cfg,
	})

	now := time.Now()
	sqlMock.ExpectQuery("FROM bank_accounts").
		WithArgs("acc-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "account_name", "bank_code", "bank_name",
			"is_verified", "is_default", "gateway_recipient_token", "created_at", "updated_at"}).
			AddRow("acc-1", "user-1", "0123456789", "ADA OBI", "058", "Guaranty Trust Bank", true, true, nil, now, now))
	sqlMock.ExpectQuery("FROM withdrawal_otps").
		WithArgs("user-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "code_hash", "amount", "expires_at", "used", "created_at"}).
			AddRow("otp-1", "user-1", "hash", "100.00", now.Add(5*time.Minute), false, now))
	sqlMock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:user-1").WillReturnResult(sqlmock.NewResult(0, 0))
	sqlMock.ExpectQuery("SELECT COALESCE\\(SUM").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("500.00"))
	sqlMock.ExpectExec("UPDATE withdrawal_otps").WithArgs("otp-1").WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectExec("UPDATE bank_accounts").WithArgs("RCP_9", sqlmock.AnyArg(), "acc-1").WillReturnResult(sqlmock.NewResult(0, 1))
	sqlMock.ExpectBegin()
	sqlMock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectCommit()
	sqlMock.ExpectExec("SELECT pg_advisory_unlock").WithArgs("ledger:user-1").WillReturnResult(sqlmock.NewResult(0, 0))

	gateway.On("CreateRecipient", mock.Anything, "ADA OBI", "0123456789", "058").Return("RCP_9", nil)
	gateway.On("InitiateTransfer", mock.Anything, "RCP_9", mock.Anything, mock.Anything, mock.Anything).
		Return(&models.TransferResult{Status: models.TransferStatusSuccess, TransferCode: "TRF_9"}, nil)
	notifier.On("Notify", mock.Anything, "user-1", NotificationWithdrawalProcessed, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := svc.VerifyOtpAndWithdraw(ctx, WithdrawRequest{
		UserID: "user-1", Code: "123456", BankAccountID: "acc-1", Amount: dec("100"),
	})
	require.NoError(t, err)
	assert.Equal(t, "TRF_9", result.TransferCode)
	assert.True(t, result.BalanceAfter.Equal(dec("400")))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}
