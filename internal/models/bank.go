package models

import "time"

// BankAccount is a user's payout destination. GatewayRecipientToken is the
// payment gateway's recipient code and is created lazily when missing.
type BankAccount struct {
	ID                    string    `json:"id" db:"id"`
	UserID                string    `json:"userId" db:"user_id"`
	AccountNumber         string    `json:"accountNumber" db:"account_number"`
	AccountName           string    `json:"accountName" db:"account_name"`
	BankCode              string    `json:"bankCode" db:"bank_code"`
	BankName              string    `json:"bankName" db:"bank_name"`
	IsVerified            bool      `json:"isVerified" db:"is_verified"`
	IsDefault             bool      `json:"isDefault" db:"is_default"`
	GatewayRecipientToken *string   `json:"-" db:"gateway_recipient_token"`
	CreatedAt             time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time `json:"updatedAt" db:"updated_at"`
}

// HasRecipient reports whether a gateway recipient already exists for the account.
func (a *BankAccount) HasRecipient() bool {
	return a.GatewayRecipientToken != nil && *a.GatewayRecipientToken != ""
}

// Bank is an entry of the bank catalog.
type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ResolvedAccount is the gateway's answer to an account name enquiry.
type ResolvedAccount struct {
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	BankCode      string `json:"bankCode"`
}

type TransferStatus string

const (
	TransferStatusSuccess  TransferStatus = "success"
	TransferStatusPending  TransferStatus = "pending"
	TransferStatusOTP      TransferStatus = "otp"
	TransferStatusFailed   TransferStatus = "failed"
	TransferStatusReversed TransferStatus = "reversed"
)

// TransferResult is what the gateway reports after a transfer request or lookup.
type TransferResult struct {
	Status       TransferStatus `json:"status"`
	TransferCode string         `json:"transferCode"`
	Reference    string         `json:"reference"`
}
