package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leviate/backend/internal/audit"
	"github.com/leviate/backend/internal/config"
	"github.com/leviate/backend/internal/models"
	"github.com/leviate/backend/internal/store"
	"github.com/shopspring/decimal"
)

const (
	NotificationWithdrawalProcessed = "WITHDRAWAL_PROCESSED"
	NotificationWithdrawalPending   = "WITHDRAWAL_PENDING"
)

type WithdrawalDeps struct {
	Wallet   *WalletService
	Banks    *BankAccountService
	Accounts store.BankAccountStore
	Otps     store.OtpStore
	Users    store.UserStore
	Gateway  BankGateway
	Mailer   Mailer
	Notifier Notifier
	Limiter  *OtpRateLimiter
	Audit    *audit.Logger
	Config   *config.WalletConfig
}

// WithdrawalService runs the two-phase withdrawal: an emailed OTP is issued
// first, and only a request presenting that OTP moves money.
type WithdrawalService struct {
	wallet   *WalletService
	banks    *BankAccountService
	accounts store.BankAccountStore
	otps     store.OtpStore
	users    store.UserStore
	gateway  BankGateway
	mailer   Mailer
	notifier Notifier
	limiter  *OtpRateLimiter
	codec    *OtpCodec
	audit    *audit.Logger
	config   *config.WalletConfig
	now      func() time.Time
}

func NewWithdrawalService(deps WithdrawalDeps) *WithdrawalService {
	return &WithdrawalService{
		wallet:   deps.Wallet,
		banks:    deps.Banks,
		accounts: deps.Accounts,
		otps:     deps.Otps,
		users:    deps.Users,
		gateway:  deps.Gateway,
		mailer:   deps.Mailer,
		notifier: deps.Notifier,
		limiter:  deps.Limiter,
		codec:    NewOtpCodec(deps.Config.OTPLength, deps.Config.OTPHashKey),
		audit:    deps.Audit,
		config:   deps.Config,
		now:      time.Now,
	}
}

type OtpIssued struct {
	ExpiresAt      time.Time `json:"expiresAt"`
	EmailDelivered bool      `json:"emailDelivered"`
	// Code is handed back to in-process callers only; it never leaves the API.
	Code string `json:"-"`
}

func (s *WithdrawalService) validateAmount(amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	if amount.LessThan(s.config.MinWithdrawal) {
		return invalid("amount", "minimum withdrawal is %s %s", s.config.MinWithdrawal.StringFixed(2), s.config.Currency)
	}
	return nil
}

func (s *WithdrawalService) RequestOtp(ctx context.Context, userID string, amount decimal.Decimal) (*OtpIssued, error) {
	if err := s.validateAmount(amount); err != nil {
		return nil, err
	}

	balance, err := s.wallet.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("user %w", ErrNotFound)
		}
		return nil, err
	}
	if !user.NinVerified {
		return nil, ErrNinNotVerified
	}

	hasAccount, err := s.accounts.HasVerified(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !hasAccount {
		return nil, ErrNoVerifiedBankAccount
	}

	if err := s.limiter.Allow(ctx, userID); err != nil {
		return nil, err
	}

	code, err := s.codec.Generate()
	if err != nil {
		return nil, err
	}

	now := s.now()
	otp := &models.WithdrawalOtp{
		ID:        uuid.NewString(),
		UserID:    userID,
		CodeHash:  s.codec.Hash(userID, code),
		Amount:    amount,
		ExpiresAt: now.Add(s.config.OTPTimeout),
		CreatedAt: now,
	}
	invalidated, err := s.otps.Issue(ctx, otp)
	if err != nil {
		return nil, err
	}
	s.audit.LogOperation(userID, "WITHDRAWAL_OTP_ISSUED", fmt.Sprintf("otp=%s invalidated=%d", otp.ID, invalidated))

	issued := &OtpIssued{ExpiresAt: otp.ExpiresAt, Code: code, EmailDelivered: true}

	mctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()
	if err := s.mailer.SendWithdrawalOTP(mctx, user.Email, code, user.FirstName, amount); err != nil {
		log.Printf("[WITHDRAWAL] OTP email to user %s failed, OTP remains valid: %v", userID, err)
		issued.EmailDelivered = false
	}

	return issued, nil
}

type WithdrawRequest struct {
	UserID        string
	Code          string
	BankAccountID string
	Amount        decimal.Decimal
}

type WithdrawalResult struct {
	EntryID       string             `json:"transactionId"`
	Amount        decimal.Decimal    `json:"amount"`
	BalanceAfter  decimal.Decimal    `json:"balanceAfter"`
	Status        models.EntryStatus `json:"status"`
	TransferCode  string             `json:"transferCode"`
	Reference     string             `json:"reference"`
	BankAccountID string             `json:"bankAccountId"`
	BankName      string             `json:"bankName"`
	AccountNumber string             `json:"accountNumber"`
}

// VerifyOtpAndWithdraw consumes the OTP, pays out through the gateway and
// records the debit. The OTP is consumed before the transfer is attempted, so
// a failed transfer requires a fresh OTP and never leaves a ledger entry.
func (s *WithdrawalService) VerifyOtpAndWithdraw(ctx context.Context, req WithdrawRequest) (*WithdrawalResult, error) {
	if !s.codec.ValidFormat(req.Code) {
		return nil, invalid("otp", "OTP must be %d digits", s.config.OTPLength)
	}

	account, err := s.banks.verifiedAccount(ctx, req.UserID, req.BankAccountID)
	if err != nil {
		return nil, err
	}

	otp, err := s.otps.FindUsable(ctx, req.UserID, s.codec.Hash(req.UserID, req.Code), s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidOrExpiredOtp
		}
		return nil, err
	}

	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	var transfer *models.TransferResult
	var reference string
	entry, err := s.wallet.DebitWith(ctx, req.UserID, req.Amount, models.CategoryWithdrawal, func(ctx context.Context) (*Settlement, error) {
		if err := s.otps.Consume(ctx, otp.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrInvalidOrExpiredOtp
			}
			return nil, err
		}

		recipient, err := s.banks.ensureRecipient(ctx, account)
		if err != nil {
			return nil, err
		}

		reference = newTransferReference(s.now())
		reason := fmt.Sprintf("Withdrawal to %s - %s", account.BankName, account.AccountNumber)
		transfer, err = s.initiateTransfer(ctx, recipient, req.Amount, reason, reference)
		if err != nil {
			return nil, err
		}

		status := models.EntryStatusPending
		if transfer.Status == models.TransferStatusSuccess {
			status = models.EntryStatusCompleted
		}
		referenceID := transfer.TransferCode
		if referenceID == "" {
			referenceID = reference
		}

		return &Settlement{
			Description: reason,
			ReferenceID: referenceID,
			Status:      status,
			Metadata: map[string]any{
				"bankAccountId": account.ID,
				"bankName":      account.BankName,
				"accountNumber": account.AccountNumber,
				"transferCode":  transfer.TransferCode,
				"reference":     reference,
				"gatewayStatus": string(transfer.Status),
				"otpId":         otp.ID,
			},
		}, nil
	})
	if err != nil {
		if transfer != nil {
			log.Printf("[WITHDRAWAL] CRITICAL: transfer %s sent for user %s but ledger write failed: %v",
				transfer.TransferCode, req.UserID, err)
		}
		s.audit.LogError(req.UserID, "WITHDRAWAL", err)
		return nil, err
	}

	s.audit.LogWithdrawal(req.UserID, entry.ID, transfer.TransferCode, entry.Amount, string(entry.Status))
	s.notifyWithdrawal(ctx, req.UserID, entry, account)

	return &WithdrawalResult{
		EntryID:       entry.ID,
		Amount:        entry.Amount,
		BalanceAfter:  entry.BalanceAfter,
		Status:        entry.Status,
		TransferCode:  transfer.TransferCode,
		Reference:     reference,
		BankAccountID: account.ID,
		BankName:      account.BankName,
		AccountNumber: account.AccountNumber,
	}, nil
}

// initiateTransfer bounds the gateway call. A timeout comes back as an error
// from the call and is a failure, never an assumed success.
func (s *WithdrawalService) initiateTransfer(ctx context.Context, recipient string, amount decimal.Decimal, reason, reference string) (*models.TransferResult, error) {
	gctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()

	result, err := s.gateway.InitiateTransfer(gctx, recipient, amount, reason, reference)
	if err != nil {
		return nil, external(ErrTransferInitiationFailed, "paystack", "initiate transfer", err)
	}
	if result.Status == models.TransferStatusFailed || result.Status == models.TransferStatusReversed {
		return nil, external(ErrTransferInitiationFailed, "paystack", "initiate transfer",
			fmt.Errorf("gateway reported status %q", result.Status))
	}
	return result, nil
}

func (s *WithdrawalService) notifyWithdrawal(ctx context.Context, userID string, entry *models.LedgerEntry, account *models.BankAccount) {
	notificationType := NotificationWithdrawalProcessed
	title := "Withdrawal Processed"
	message := fmt.Sprintf("Your withdrawal of ₦%s to %s has been processed", entry.Amount.StringFixed(2), account.BankName)
	if entry.Status == models.EntryStatusPending {
		notificationType = NotificationWithdrawalPending
		title = "Withdrawal Pending"
		message = fmt.Sprintf("Your withdrawal of ₦%s to %s is being processed", entry.Amount.StringFixed(2), account.BankName)
	}

	data := map[string]any{
		"transactionId": entry.ID,
		"amount":        entry.Amount.String(),
		"bankAccountId": account.ID,
		"status":        string(entry.Status),
	}
	if err := s.notifier.Notify(ctx, userID, notificationType, title, message, data); err != nil {
		log.Printf("[WITHDRAWAL] Notification for user %s failed: %v", userID, err)
	}
}

type WithdrawalStatus struct {
	Entry   *models.LedgerEntry    `json:"transaction"`
	Gateway *models.TransferResult `json:"gateway"`
}

// WithdrawalStatus looks a withdrawal up at the gateway. It does not modify
// the ledger entry.
func (s *WithdrawalService) WithdrawalStatus(ctx context.Context, userID, transferCode string) (*WithdrawalStatus, error) {
	entry, err := s.wallet.EntryByReference(ctx, userID, transferCode)
	if err != nil {
		return nil, err
	}
	if entry.Category != models.CategoryWithdrawal {
		return nil, fmt.Errorf("withdrawal %w", ErrNotFound)
	}

	gctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()
	result, err := s.gateway.VerifyTransfer(gctx, transferCode)
	if err != nil {
		return nil, external(ErrExternalService, "paystack", "verify transfer", err)
	}
	return &WithdrawalStatus{Entry: entry, Gateway: result}, nil
}

// PurgeExpiredOtps removes OTPs that expired more than a day ago.
func (s *WithdrawalService) PurgeExpiredOtps(ctx context.Context) (int64, error) {
	return s.otps.PurgeExpired(ctx, s.now().Add(-24*time.Hour))
}

func newTransferReference(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("WITHDRAWAL_%d_%s", now.UnixMilli(), suffix)
}
