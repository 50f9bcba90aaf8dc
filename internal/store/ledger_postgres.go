package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/leviate/backend/internal/models"
	"github.com/shopspring/decimal"
)

const ledgerColumns = `id, user_id, direction, amount, balance_after, category, description,
	reference_id, counterpart_id, status, metadata, created_at`

const balanceQuery = `
	SELECT COALESCE(SUM(CASE WHEN direction = 'CREDIT' THEN amount ELSE -amount END), 0)
	FROM ledger_entries
	WHERE user_id = $1 AND status = 'COMPLETED'`

// queryer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresLedgerStore serializes writers per user with session advisory
// locks held on one reserved connection. Appends are staged and written in a
// single transaction on that connection once fn returns nil. Statements other
// Postgres stores run with the ctx handed to fn go through the same
// connection, so a locked section holds exactly one pool connection.
type PostgresLedgerStore struct {
	db *sql.DB
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

func (s *PostgresLedgerStore) WithUserLocks(ctx context.Context, userIDs []string, fn func(ctx context.Context, tx LedgerTx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve ledger connection: %w", err)
	}
	defer conn.Close()

	var held []string
	defer func() { unlockLedger(conn, held) }()

	for _, userID := range lockOrder(userIDs) {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, "ledger:"+userID); err != nil {
			return fmt.Errorf("lock ledger for user %s: %w", userID, err)
		}
		held = append(held, userID)
	}

	tx := &postgresLedgerTx{q: conn}
	if err := fn(withPinnedConn(ctx, s.db, conn), tx); err != nil {
		return err
	}
	return tx.flush(ctx, conn)
}

// unlockLedger releases session locks in reverse order. If that fails the
// connection is discarded, which ends the session and every lock it held.
func unlockLedger(conn *sql.Conn, userIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(userIDs) - 1; i >= 0; i-- {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, "ledger:"+userIDs[i]); err != nil {
			log.Printf("[LEDGER] Unlock for user %s failed, dropping connection: %v", userIDs[i], err)
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			return
		}
	}
}

func (s *PostgresLedgerStore) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return balanceOf(ctx, executor(ctx, s.db), userID)
}

func (s *PostgresLedgerStore) CompletedEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	return queryEntries(ctx, executor(ctx, s.db), `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = $1 AND status = 'COMPLETED'
		ORDER BY seq`, userID)
}

func (s *PostgresLedgerStore) AllCompletedEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	return queryEntries(ctx, executor(ctx, s.db), `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE status = 'COMPLETED'
		ORDER BY seq`)
}

func (s *PostgresLedgerStore) RecentEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return queryEntries(ctx, executor(ctx, s.db), `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2`, userID, limit)
}

func (s *PostgresLedgerStore) FindByReference(ctx context.Context, userID, referenceID string) (*models.LedgerEntry, error) {
	return findByReference(ctx, executor(ctx, s.db), userID, referenceID)
}

type postgresLedgerTx struct {
	q      queryer
	staged []models.LedgerEntry
}

func (t *postgresLedgerTx) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	committed, err := balanceOf(ctx, t.q, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return committed.Add(foldCompleted(t.staged, userID)), nil
}

func (t *postgresLedgerTx) FindByReference(ctx context.Context, userID, referenceID string) (*models.LedgerEntry, error) {
	if e, err := findReference(t.staged, userID, referenceID); err == nil {
		return e, nil
	}
	return findByReference(ctx, t.q, userID, referenceID)
}

func (t *postgresLedgerTx) Append(_ context.Context, e *models.LedgerEntry) error {
	t.staged = append(t.staged, *e)
	return nil
}

func (t *postgresLedgerTx) flush(ctx context.Context, conn *sql.Conn) error {
	if len(t.staged) == 0 {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback()

	for i := range t.staged {
		e := &t.staged[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (`+ledgerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			e.ID, e.UserID, string(e.Direction), e.Amount, e.BalanceAfter, string(e.Category), e.Description,
			e.ReferenceID, e.CounterpartID, string(e.Status), e.Metadata, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func balanceOf(ctx context.Context, q queryer, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := q.QueryRowContext(ctx, balanceQuery, userID).Scan(&balance); err != nil {
		return decimal.Zero, fmt.Errorf("fold balance: %w", err)
	}
	return balance, nil
}

func findByReference(ctx context.Context, q queryer, userID, referenceID string) (*models.LedgerEntry, error) {
	entries, err := queryEntries(ctx, q, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE user_id = $1 AND reference_id = $2
		ORDER BY seq
		LIMIT 1`, userID, referenceID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return &entries[0], nil
}

func queryEntries(ctx context.Context, q queryer, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var (
			e                          models.LedgerEntry
			direction, category, state string
			referenceID, counterpartID sql.NullString
		)
		err := rows.Scan(&e.ID, &e.UserID, &direction, &e.Amount, &e.BalanceAfter, &category, &e.Description,
			&referenceID, &counterpartID, &state, &e.Metadata, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Direction = models.Direction(direction)
		e.Category = models.Category(category)
		e.Status = models.EntryStatus(state)
		e.ReferenceID = nullString(referenceID)
		e.CounterpartID = nullString(counterpartID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return entries, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
