package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leviate/backend/internal/models"
)

const bankAccountColumns = `id, user_id, account_number, account_name, bank_code, bank_name,
	is_verified, is_default, gateway_recipient_token, created_at, updated_at`

type PostgresBankAccountStore struct {
	db *sql.DB
}

func NewPostgresBankAccountStore(db *sql.DB) *PostgresBankAccountStore {
	return &PostgresBankAccountStore{db: db}
}

func (s *PostgresBankAccountStore) Create(ctx context.Context, a *models.BankAccount) error {
	tx, err := beginTx(ctx, s.db)
	if err != nil {
		return fmt.Errorf("begin bank account tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "bank_accounts:"+a.UserID); err != nil {
		return fmt.Errorf("lock bank accounts for user %s: %w", a.UserID, err)
	}

	var hasDefault bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bank_accounts WHERE user_id = $1 AND is_default)`,
		a.UserID).Scan(&hasDefault)
	if err != nil {
		return fmt.Errorf("check default bank account: %w", err)
	}
	a.IsDefault = !hasDefault

	_, err = tx.ExecContext(ctx, `
		INSERT INTO bank_accounts (`+bankAccountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.UserID, a.AccountNumber, a.AccountName, a.BankCode, a.BankName,
		a.IsVerified, a.IsDefault, a.GatewayRecipientToken, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert bank account: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresBankAccountStore) Exists(ctx context.Context, userID, accountNumber, bankCode string) (bool, error) {
	var exists bool
	err := executor(ctx, s.db).QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM bank_accounts
			WHERE user_id = $1 AND account_number = $2 AND bank_code = $3
		)`, userID, accountNumber, bankCode).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check bank account: %w", err)
	}
	return exists, nil
}

func (s *PostgresBankAccountStore) Get(ctx context.Context, userID, accountID string) (*models.BankAccount, error) {
	accounts, err := s.query(ctx, `
		SELECT `+bankAccountColumns+`
		FROM bank_accounts
		WHERE id = $1 AND user_id = $2`, accountID, userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNotFound
	}
	return &accounts[0], nil
}

func (s *PostgresBankAccountStore) List(ctx context.Context, userID string) ([]models.BankAccount, error) {
	return s.query(ctx, `
		SELECT `+bankAccountColumns+`
		FROM bank_accounts
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC`, userID)
}

func (s *PostgresBankAccountStore) SetDefault(ctx context.Context, userID, accountID string) error {
	tx, err := beginTx(ctx, s.db)
	if err != nil {
		return fmt.Errorf("begin bank account tx: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM bank_accounts
		WHERE id = $1 AND user_id = $2
		FOR UPDATE`, accountID, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock bank account: %w", err)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE bank_accounts
		SET is_default = false, updated_at = $2
		WHERE user_id = $1 AND is_default`, userID, now); err != nil {
		return fmt.Errorf("clear default bank account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bank_accounts
		SET is_default = true, updated_at = $3
		WHERE id = $1 AND user_id = $2`, accountID, userID, now); err != nil {
		return fmt.Errorf("set default bank account: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresBankAccountStore) Delete(ctx context.Context, userID, accountID string) error {
	result, err := executor(ctx, s.db).ExecContext(ctx, `
		DELETE FROM bank_accounts
		WHERE id = $1 AND user_id = $2`, accountID, userID)
	if err != nil {
		return fmt.Errorf("delete bank account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresBankAccountStore) SetRecipientToken(ctx context.Context, accountID, token string) error {
	result, err := executor(ctx, s.db).ExecContext(ctx, `
		UPDATE bank_accounts
		SET gateway_recipient_token = $1, updated_at = $2
		WHERE id = $3`, token, time.Now(), accountID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store recipient token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresBankAccountStore) HasVerified(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := executor(ctx, s.db).QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bank_accounts WHERE user_id = $1 AND is_verified)`,
		userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check verified bank account: %w", err)
	}
	return exists, nil
}

func (s *PostgresBankAccountStore) query(ctx context.Context, query string, args ...any) ([]models.BankAccount, error) {
	rows, err := executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bank accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.BankAccount{}
	for rows.Next() {
		var (
			a     models.BankAccount
			token sql.NullString
		)
		err := rows.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.AccountName, &a.BankCode, &a.BankName,
			&a.IsVerified, &a.IsDefault, &token, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan bank account: %w", err)
		}
		a.GatewayRecipientToken = nullString(token)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
