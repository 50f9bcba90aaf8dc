package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leviate/backend/internal/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(userID, id string) *models.BankAccount {
	now := time.Now()
	return &models.BankAccount{
		ID:            id,
		UserID:        userID,
		AccountNumber: "0123456789",
		AccountName:   "ADA LOVELACE",
		BankCode:      "058",
		BankName:      "Guaranty Trust Bank",
		IsVerified:    true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestPostgresBankAccountStore_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("first account becomes default", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresBankAccountStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("bank_accounts:u1").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").WithArgs("u1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO bank_accounts").
			WithArgs("b1", "u1", "0123456789", "ADA LOVELACE", "058", "Guaranty Trust Bank", true, true, nil,
				sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		account := newAccount("u1", "b1")
		assert.NoError(t, store.Create(ctx, account))
		assert.True(t, account.IsDefault)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second account is not default", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresBankAccountStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec("INSERT INTO bank_accounts").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		account := newAccount("u1", "b2")
		assert.NoError(t, store.Create(ctx, account))
		assert.False(t, account.IsDefault)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to duplicate", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresBankAccountStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec("INSERT INTO bank_accounts").WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err = store.Create(ctx, newAccount("u1", "b3"))
		assert.ErrorIs(t, err, ErrDuplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresBankAccountStore_SetDefault(t *testing.T) {
	ctx := context.Background()

	t.Run("clears then sets inside one transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresBankAccountStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM bank_accounts WHERE id = \\$1 AND user_id = \\$2 FOR UPDATE").
			WithArgs("b2", "u1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("b2"))
		mock.ExpectExec("UPDATE bank_accounts SET is_default = false").
			WithArgs("u1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE bank_accounts SET is_default = true").
			WithArgs("b2", "u1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, store.SetDefault(ctx, "u1", "b2"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("foreign account is not found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresBankAccountStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM bank_accounts").
			WithArgs("b9", "u1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		assert.ErrorIs(t, store.SetDefault(ctx, "u1", "b9"), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresBankAccountStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresBankAccountStore(db)

	t.Run("delete of missing row is not found", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM bank_accounts").
			WithArgs("b9", "u1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, store.Delete(ctx, "u1", "b9"), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list orders default first then newest", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("ORDER BY is_default DESC, created_at DESC").
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "account_number", "account_name", "bank_code",
				"bank_name", "is_verified", "is_default", "gateway_recipient_token", "created_at", "updated_at"}).
				AddRow("b1", "u1", "0123456789", "ADA", "058", "GTB", true, true, "RCP_1", now, now).
				AddRow("b2", "u1", "9876543210", "ADA", "044", "Access Bank", true, false, nil, now, now))

		accounts, err := store.List(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		assert.True(t, accounts[0].HasRecipient())
		assert.False(t, accounts[1].HasRecipient())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
