package services

import (
	"context"

	"github.com/leviate/backend/internal/models"
	"github.com/leviate/backend/internal/store"
	"github.com/shopspring/decimal"
)

// FoldBalance sums the COMPLETED entries: credits add, debits subtract.
func FoldBalance(entries []models.LedgerEntry) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range entries {
		if e.Status == models.EntryStatusCompleted {
			balance = balance.Add(e.Signed())
		}
	}
	return balance
}

// BalanceCalculator is the only way balances are obtained. Nothing stores a
// balance; every figure is derived from the ledger on demand.
type BalanceCalculator struct {
	ledger store.LedgerStore
}

func NewBalanceCalculator(ledger store.LedgerStore) *BalanceCalculator {
	return &BalanceCalculator{ledger: ledger}
}

func (c *BalanceCalculator) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return c.ledger.Balance(ctx, userID)
}
