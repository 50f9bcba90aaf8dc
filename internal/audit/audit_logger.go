package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp time.Time        `json:"timestamp"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	EntryID   string           `json:"entry_id,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Status    string           `json:"status"`
	Details   any              `json:"details,omitempty"`
}

// Logger writes one AUDIT line per money-relevant event. The sink defaults to
// the standard logger and can be swapped in tests.
type Logger struct {
	sink func(line string)
}

func NewLogger() *Logger {
	return &Logger{sink: func(line string) { log.Print(line) }}
}

// NewLoggerWithSink is used by tests to capture audit lines.
func NewLoggerWithSink(sink func(line string)) *Logger {
	return &Logger{sink: sink}
}

func (a *Logger) LogEntry(userID, entryID, direction, category string, amount decimal.Decimal, status string) {
	a.log(Event{
		EventType: "LEDGER_" + direction,
		UserID:    userID,
		EntryID:   entryID,
		Amount:    &amount,
		Status:    status,
		Details:   map[string]string{"category": category},
	})
}

func (a *Logger) LogTransfer(fromUser, toUser, debitID, creditID string, amount decimal.Decimal) {
	a.log(Event{
		EventType: "LEDGER_TRANSFER",
		UserID:    fromUser,
		EntryID:   debitID,
		Amount:    &amount,
		Status:    "SUCCESS",
		Details: map[string]string{
			"to_user":         toUser,
			"credit_entry_id": creditID,
		},
	})
}

func (a *Logger) LogWithdrawal(userID, entryID, transferCode string, amount decimal.Decimal, status string) {
	a.log(Event{
		EventType: "WITHDRAWAL",
		UserID:    userID,
		EntryID:   entryID,
		Amount:    &amount,
		Status:    status,
		Details:   map[string]string{"transfer_code": transferCode},
	})
}

func (a *Logger) LogOperation(userID, operation, details string) {
	a.log(Event{
		EventType: operation,
		UserID:    userID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) LogError(userID, operation string, err error) {
	a.log(Event{
		EventType: operation,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogIntegrity(checked int, violations []string) {
	status := "SUCCESS"
	if len(violations) > 0 {
		status = "VIOLATION"
	}
	a.log(Event{
		EventType: "LEDGER_INTEGRITY",
		Status:    status,
		Details: map[string]any{
			"entries_checked": checked,
			"violations":      violations,
		},
	})
}

func (a *Logger) log(event Event) {
	if a == nil || a.sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, _ := json.Marshal(event)
	a.sink("AUDIT: " + string(data))
}
