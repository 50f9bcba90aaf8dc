package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalOtp gates a single withdrawal. Only the keyed hash of the code is stored.
type WithdrawalOtp struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"userId" db:"user_id"`
	CodeHash  string          `json:"-" db:"code_hash"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	ExpiresAt time.Time       `json:"expiresAt" db:"expires_at"`
	Used      bool            `json:"used" db:"used"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// Usable reports whether the OTP can still be consumed at now.
func (o *WithdrawalOtp) Usable(now time.Time) bool {
	return !o.Used && o.ExpiresAt.After(now)
}
