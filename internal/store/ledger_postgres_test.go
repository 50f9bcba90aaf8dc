package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leviate/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ledgerRowColumns = []string{"id", "user_id", "direction", "amount", "balance_after", "category", "description",
	"reference_id", "counterpart_id", "status", "metadata", "created_at"}

func expectUnlock(mock sqlmock.Sqlmock, userIDs ...string) {
	for _, id := range userIDs {
		mock.ExpectExec("SELECT pg_advisory_unlock").WithArgs("ledger:" + id).WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func TestPostgresLedgerStore_WithUserLocks(t *testing.T) {
	ctx := context.Background()

	t.Run("locks users in sorted order and commits appends", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresLedgerStore(db)

		mock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:alice").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:bob").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM ledger_entries WHERE user_id = \\$1 AND status = 'COMPLETED'").
			WithArgs("bob").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("250.00"))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("e1", "bob", "DEBIT", decimal.NewFromInt(100), decimal.NewFromInt(150), "WITHDRAWAL", "payout",
				nil, nil, "COMPLETED", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		expectUnlock(mock, "bob", "alice")

		err = store.WithUserLocks(ctx, []string{"bob", "alice", "bob"}, func(ctx context.Context, tx LedgerTx) error {
			balance, err := tx.Balance(ctx, "bob")
			if err != nil {
				return err
			}
			assert.True(t, balance.Equal(decimal.NewFromInt(250)))
			return tx.Append(ctx, &models.LedgerEntry{
				ID:           "e1",
				UserID:       "bob",
				Direction:    models.DirectionDebit,
				Amount:       decimal.NewFromInt(100),
				BalanceAfter: balance.Sub(decimal.NewFromInt(100)),
				Category:     models.CategoryWithdrawal,
				Description:  "payout",
				Status:       models.EntryStatusCompleted,
				CreatedAt:    time.Now(),
			})
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("staged appends count towards the balance and are found by reference", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresLedgerStore(db)

		ref := "payout-7"
		mock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:alice").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT COALESCE\\(SUM").
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("40.00"))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		expectUnlock(mock, "alice")

		err = store.WithUserLocks(ctx, []string{"alice"}, func(ctx context.Context, tx LedgerTx) error {
			require.NoError(t, tx.Append(ctx, &models.LedgerEntry{
				ID: "e1", UserID: "alice", Direction: models.DirectionCredit, Amount: decimal.NewFromInt(2),
				ReferenceID: &ref, Status: models.EntryStatusCompleted,
			}))
			existing, err := tx.FindByReference(ctx, "alice", ref)
			require.NoError(t, err)
			assert.Equal(t, "e1", existing.ID)

			balance, err := tx.Balance(ctx, "alice")
			assert.True(t, balance.Equal(decimal.NewFromInt(42)))
			return err
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed fn writes nothing and still unlocks", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresLedgerStore(db)

		mock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:alice").WillReturnResult(sqlmock.NewResult(0, 0))
		expectUnlock(mock, "alice")

		boom := errors.New("second leg failed")
		err = store.WithUserLocks(ctx, []string{"alice"}, func(ctx context.Context, tx LedgerTx) error {
			if err := tx.Append(ctx, &models.LedgerEntry{ID: "e1", UserID: "alice"}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back every staged entry", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresLedgerStore(db)

		mock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:alice").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:bob").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()
		expectUnlock(mock, "bob", "alice")

		err = store.WithUserLocks(ctx, []string{"alice", "bob"}, func(ctx context.Context, tx LedgerTx) error {
			require.NoError(t, tx.Append(ctx, &models.LedgerEntry{ID: "d1", UserID: "alice"}))
			return tx.Append(ctx, &models.LedgerEntry{ID: "c1", UserID: "bob"})
		})
		assert.ErrorContains(t, err, "insert ledger entry")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock failure aborts before fn runs", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresLedgerStore(db)

		mock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:alice").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:bob").WillReturnError(errors.New("connection reset"))
		expectUnlock(mock, "alice")

		called := false
		err = store.WithUserLocks(ctx, []string{"alice", "bob"}, func(ctx context.Context, tx LedgerTx) error {
			called = true
			return nil
		})
		assert.Error(t, err)
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stores reuse the locked connection", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		db.SetMaxOpenConns(1)
		store := NewPostgresLedgerStore(db)
		otps := NewPostgresOtpStore(db)
		accounts := NewPostgresBankAccountStore(db)

		mock.ExpectExec("SELECT pg_advisory_lock").WithArgs("ledger:alice").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE withdrawal_otps").WithArgs("otp-1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE bank_accounts").WithArgs("RCP_1", sqlmock.AnyArg(), "acct-1").WillReturnResult(sqlmock.NewResult(0, 1))
		expectUnlock(mock, "alice")

		tctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err = store.WithUserLocks(tctx, []string{"alice"}, func(ctx context.Context, tx LedgerTx) error {
			if err := otps.Consume(ctx, "otp-1"); err != nil {
				return err
			}
			return accounts.SetRecipientToken(ctx, "acct-1", "RCP_1")
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresLedgerStore_Queries(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresLedgerStore(db)
	now := time.Now()

	t.Run("balance of user without entries is zero", func(t *testing.T) {
		mock.ExpectQuery("SELECT COALESCE\\(SUM").
			WithArgs("nobody").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("0"))

		balance, err := store.Balance(ctx, "nobody")
		assert.NoError(t, err)
		assert.True(t, balance.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completed entries are scanned with nullable links", func(t *testing.T) {
		mock.ExpectQuery("FROM ledger_entries WHERE status = 'COMPLETED' ORDER BY seq").
			WillReturnRows(sqlmock.NewRows(ledgerRowColumns).
				AddRow("e1", "alice", "CREDIT", "500.00", "500.00", "TASK_PAYOUT", "task", nil, nil, "COMPLETED", nil, now).
				AddRow("e2", "alice", "DEBIT", "200.00", "300.00", "WITHDRAWAL", "out", "TRF_1", "e9", "COMPLETED",
					[]byte(`{"bankAccountId":"b1"}`), now))

		entries, err := store.AllCompletedEntries(ctx)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, models.DirectionCredit, entries[0].Direction)
		assert.Nil(t, entries[0].ReferenceID)
		assert.Equal(t, "TRF_1", *entries[1].ReferenceID)
		assert.Equal(t, "e9", *entries[1].CounterpartID)
		assert.Equal(t, "b1", entries[1].Metadata["bankAccountId"])
		assert.True(t, entries[1].BalanceAfter.Equal(decimal.NewFromInt(300)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("find by reference reports not found", func(t *testing.T) {
		mock.ExpectQuery("WHERE user_id = \\$1 AND reference_id = \\$2").
			WithArgs("alice", "payout-1").
			WillReturnRows(sqlmock.NewRows(ledgerRowColumns))

		_, err := store.FindByReference(ctx, "alice", "payout-1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("recent entries are limited", func(t *testing.T) {
		mock.ExpectQuery("ORDER BY seq DESC LIMIT \\$2").
			WithArgs("alice", 2).
			WillReturnRows(sqlmock.NewRows(ledgerRowColumns).
				AddRow("e2", "alice", "DEBIT", "200.00", "300.00", "WITHDRAWAL", "out", nil, nil, "PENDING", nil, now))

		entries, err := store.RecentEntries(ctx, "alice", 2)
		assert.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, models.EntryStatusPending, entries[0].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
