package services

import (
	"context"

	"github.com/leviate/backend/internal/models"
	"github.com/shopspring/decimal"
)

// BankGateway is the payment gateway as seen by the bank account registry
// and the withdrawal flow.
type BankGateway interface {
	ListBanks(ctx context.Context) ([]models.Bank, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*models.ResolvedAccount, error)
	CreateRecipient(ctx context.Context, accountName, accountNumber, bankCode string) (string, error)
	InitiateTransfer(ctx context.Context, recipientToken string, amount decimal.Decimal, reason, reference string) (*models.TransferResult, error)
	VerifyTransfer(ctx context.Context, transferCode string) (*models.TransferResult, error)
}

type Mailer interface {
	SendWithdrawalOTP(ctx context.Context, email, code, userName string, amount decimal.Decimal) error
}

type Notifier interface {
	Notify(ctx context.Context, userID, notificationType, title, message string, data map[string]any) error
}
