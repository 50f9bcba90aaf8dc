package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leviate/backend/internal/models"
)

type PostgresOtpStore struct {
	db *sql.DB
}

func NewPostgresOtpStore(db *sql.DB) *PostgresOtpStore {
	return &PostgresOtpStore{db: db}
}

func (s *PostgresOtpStore) Issue(ctx context.Context, otp *models.WithdrawalOtp) (int64, error) {
	tx, err := beginTx(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("begin otp tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "otp:"+otp.UserID); err != nil {
		return 0, fmt.Errorf("lock otps for user %s: %w", otp.UserID, err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE withdrawal_otps
		SET used = true
		WHERE user_id = $1 AND used = false`, otp.UserID)
	if err != nil {
		return 0, fmt.Errorf("invalidate otps: %w", err)
	}
	invalidated, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO withdrawal_otps (id, user_id, code_hash, amount, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)`,
		otp.ID, otp.UserID, otp.CodeHash, otp.Amount, otp.ExpiresAt, otp.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert otp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit otp tx: %w", err)
	}
	return invalidated, nil
}

func (s *PostgresOtpStore) FindUsable(ctx context.Context, userID, codeHash string, now time.Time) (*models.WithdrawalOtp, error) {
	var otp models.WithdrawalOtp
	err := executor(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, user_id, code_hash, amount, expires_at, used, created_at
		FROM withdrawal_otps
		WHERE user_id = $1 AND code_hash = $2 AND used = false AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1`, userID, codeHash, now).
		Scan(&otp.ID, &otp.UserID, &otp.CodeHash, &otp.Amount, &otp.ExpiresAt, &otp.Used, &otp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find otp: %w", err)
	}
	return &otp, nil
}

func (s *PostgresOtpStore) Consume(ctx context.Context, otpID string) error {
	result, err := executor(ctx, s.db).ExecContext(ctx, `
		UPDATE withdrawal_otps
		SET used = true
		WHERE id = $1 AND used = false`, otpID)
	if err != nil {
		return fmt.Errorf("consume otp: %w", err)
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

func (s *PostgresOtpStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := executor(ctx, s.db).ExecContext(ctx, `
		DELETE FROM withdrawal_otps
		WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge otps: %w", err)
	}
	return result.RowsAffected()
}
