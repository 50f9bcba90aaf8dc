package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

type Category string

const (
	CategoryTaskPayout    Category = "TASK_PAYOUT"
	CategoryReferralBonus Category = "REFERRAL_BONUS"
	CategoryWithdrawal    Category = "WITHDRAWAL"
	CategoryDeposit       Category = "DEPOSIT"
	CategoryPlatformFee   Category = "PLATFORM_FEE"
	CategoryRefund        Category = "REFUND"
	CategoryTransferIn    Category = "TRANSFER_IN"
	CategoryTransferOut   Category = "TRANSFER_OUT"
)

// Valid reports whether c is one of the known ledger categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryTaskPayout, CategoryReferralBonus, CategoryWithdrawal, CategoryDeposit,
		CategoryPlatformFee, CategoryRefund, CategoryTransferIn, CategoryTransferOut:
		return true
	}
	return false
}

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "PENDING"
	EntryStatusCompleted EntryStatus = "COMPLETED"
	EntryStatusFailed    EntryStatus = "FAILED"
)

// LedgerEntry is a single append-only wallet movement. A user's balance is
// never stored; it is the fold of that user's COMPLETED entries.
type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"userId" db:"user_id"`
	Direction     Direction       `json:"transactionType" db:"direction"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter" db:"balance_after"`
	Category      Category        `json:"transactionCategory" db:"category"`
	Description   string          `json:"description" db:"description"`
	ReferenceID   *string         `json:"referenceId,omitempty" db:"reference_id"`
	CounterpartID *string         `json:"counterpartId,omitempty" db:"counterpart_id"`
	Status        EntryStatus     `json:"status" db:"status"`
	Metadata      Metadata        `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// Signed returns the entry amount with the sign of its direction.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Statistics is the per-user wallet summary.
type Statistics struct {
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	TotalEarned    decimal.Decimal `json:"totalEarned"`
	TotalSpent     decimal.Decimal `json:"totalSpent"`
	TotalWithdrawn decimal.Decimal `json:"totalWithdrawn"`
	TotalPayouts   decimal.Decimal `json:"totalPayouts"`
	TotalReferrals decimal.Decimal `json:"totalReferrals"`
}
