package services

import (
	"context"
	"fmt"
	"time"

	"github.com/leviate/backend/internal/audit"
	"github.com/leviate/backend/internal/models"
	"github.com/leviate/backend/internal/store"
	"github.com/shopspring/decimal"
)

type IntegrityReport struct {
	Valid          bool      `json:"valid"`
	Errors         []string  `json:"errors"`
	EntriesChecked int       `json:"entriesChecked"`
	CheckedAt      time.Time `json:"checkedAt"`
}

// IntegrityAuditor recomputes every user's running balance from zero and
// compares it with the balanceAfter stored on each completed entry.
type IntegrityAuditor struct {
	ledger store.LedgerStore
	audit  *audit.Logger
}

func NewIntegrityAuditor(ledger store.LedgerStore, auditLog *audit.Logger) *IntegrityAuditor {
	return &IntegrityAuditor{ledger: ledger, audit: auditLog}
}

func (a *IntegrityAuditor) Verify(ctx context.Context) (*IntegrityReport, error) {
	entries, err := a.ledger.AllCompletedEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	report := CheckEntries(entries)
	a.audit.LogIntegrity(report.EntriesChecked, report.Errors)
	return report, nil
}

// CheckEntries folds entries, which must be in creation order. A mismatch is
// recorded and the fold continues from the recomputed value, so one bad row
// does not cascade into errors for every later row.
func CheckEntries(entries []models.LedgerEntry) *IntegrityReport {
	running := make(map[string]decimal.Decimal)
	report := &IntegrityReport{Errors: []string{}, CheckedAt: time.Now()}

	for _, e := range entries {
		if e.Status != models.EntryStatusCompleted {
			continue
		}
		report.EntriesChecked++

		expected := running[e.UserID].Add(e.Signed())
		if !expected.Equal(e.BalanceAfter) {
			report.Errors = append(report.Errors, fmt.Sprintf(
				"entry %s: expected balanceAfter %s, got %s", e.ID, expected.StringFixed(2), e.BalanceAfter.StringFixed(2)))
		}
		running[e.UserID] = expected
	}

	report.Valid = len(report.Errors) == 0
	return report
}
