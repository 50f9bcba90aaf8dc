package services

import (
	"context"
	"errors"
	"log"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/leviate/backend/internal/audit"
	"github.com/leviate/backend/internal/config"
	"github.com/leviate/backend/internal/models"
	"github.com/leviate/backend/internal/store"
)

var (
	accountNumberRegex = regexp.MustCompile(`^[0-9]{10}$`)
	bankCodeRegex      = regexp.MustCompile(`^[0-9A-Za-z]{3,6}$`)
)

type BankAccountService struct {
	accounts store.BankAccountStore
	gateway  BankGateway
	catalog  *BankCatalog
	audit    *audit.Logger
	config   *config.WalletConfig
	now      func() time.Time
}

func NewBankAccountService(accounts store.BankAccountStore, gateway BankGateway, catalog *BankCatalog, cfg *config.WalletConfig, auditLog *audit.Logger) *BankAccountService {
	return &BankAccountService{
		accounts: accounts,
		gateway:  gateway,
		catalog:  catalog,
		audit:    auditLog,
		config:   cfg,
		now:      time.Now,
	}
}

func validateAccountInput(accountNumber, bankCode string) error {
	if !accountNumberRegex.MatchString(accountNumber) {
		return invalid("accountNumber", "account number must be 10 digits")
	}
	if !bankCodeRegex.MatchString(bankCode) {
		return invalid("bankCode", "invalid bank code")
	}
	return nil
}

// ResolveAccount asks the gateway for the registered name on an account.
func (s *BankAccountService) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*models.ResolvedAccount, error) {
	if err := validateAccountInput(accountNumber, bankCode); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()

	resolved, err := s.gateway.ResolveAccount(gctx, accountNumber, bankCode)
	if err != nil {
		log.Printf("[BANK_ACCOUNT] Account resolution failed for %s/%s: %v", bankCode, accountNumber, err)
		return nil, external(ErrAccountVerificationFailed, "paystack", "resolve account", err)
	}
	if resolved.AccountName == "" {
		return nil, external(ErrAccountVerificationFailed, "paystack", "resolve account", errors.New("empty account name"))
	}
	return resolved, nil
}

func (s *BankAccountService) AddAccount(ctx context.Context, userID, accountNumber, bankCode string) (*models.BankAccount, error) {
	resolved, err := s.ResolveAccount(ctx, accountNumber, bankCode)
	if err != nil {
		return nil, err
	}

	exists, err := s.accounts.Exists(ctx, userID, accountNumber, bankCode)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateAccount
	}

	now := s.now()
	account := &models.BankAccount{
		ID:            uuid.NewString(),
		UserID:        userID,
		AccountNumber: accountNumber,
		AccountName:   resolved.AccountName,
		BankCode:      bankCode,
		BankName:      s.catalog.BankName(ctx, bankCode),
		IsVerified:    true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// A missing recipient is created on the first withdrawal instead.
	if token, err := s.createRecipient(ctx, account); err != nil {
		log.Printf("[BANK_ACCOUNT] Recipient creation deferred for user %s: %v", userID, err)
	} else {
		account.GatewayRecipientToken = &token
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}

	s.audit.LogOperation(userID, "BANK_ACCOUNT_ADDED", account.ID)
	return account, nil
}

func (s *BankAccountService) SetDefault(ctx context.Context, userID, accountID string) error {
	if err := s.accounts.SetDefault(ctx, userID, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrBankAccountNotFound
		}
		return err
	}
	s.audit.LogOperation(userID, "BANK_ACCOUNT_DEFAULT", accountID)
	return nil
}

func (s *BankAccountService) DeleteAccount(ctx context.Context, userID, accountID string) error {
	if err := s.accounts.Delete(ctx, userID, accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrBankAccountNotFound
		}
		return err
	}
	s.audit.LogOperation(userID, "BANK_ACCOUNT_DELETED", accountID)
	return nil
}

func (s *BankAccountService) ListAccounts(ctx context.Context, userID string) ([]models.BankAccount, error) {
	return s.accounts.List(ctx, userID)
}

func (s *BankAccountService) ListBanks(ctx context.Context) ([]models.Bank, error) {
	return s.catalog.ListBanks(ctx)
}

// verifiedAccount returns the user's account if it exists and is verified.
func (s *BankAccountService) verifiedAccount(ctx context.Context, userID, accountID string) (*models.BankAccount, error) {
	account, err := s.accounts.Get(ctx, userID, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBankAccountNotFound
		}
		return nil, err
	}
	if !account.IsVerified {
		return nil, ErrBankAccountNotFound
	}
	return account, nil
}

// ensureRecipient returns the account's gateway recipient, creating and
// persisting one if the account does not have it yet.
func (s *BankAccountService) ensureRecipient(ctx context.Context, account *models.BankAccount) (string, error) {
	if account.HasRecipient() {
		return *account.GatewayRecipientToken, nil
	}

	token, err := s.createRecipient(ctx, account)
	if err != nil {
		return "", external(ErrRecipientCreationFailed, "paystack", "create recipient", err)
	}

	if err := s.accounts.SetRecipientToken(ctx, account.ID, token); err != nil {
		log.Printf("[BANK_ACCOUNT] Failed to persist recipient for account %s: %v", account.ID, err)
	}
	account.GatewayRecipientToken = &token
	return token, nil
}

func (s *BankAccountService) createRecipient(ctx context.Context, account *models.BankAccount) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, s.config.GatewayTimeout)
	defer cancel()

	token, err := s.gateway.CreateRecipient(gctx, account.AccountName, account.AccountNumber, account.BankCode)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("gateway returned empty recipient code")
	}
	return token, nil
}
