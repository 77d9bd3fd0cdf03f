package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phonegate/server/internal/model"
)

// OtpRepo gives access to otp_requests. All reads and writes for a phone number
// happen inside WithPhoneLock so the rate-limit count, the deactivation of prior
// codes and the insert of a new one are serialized per phone.
type OtpRepo interface {
	WithPhoneLock(ctx context.Context, phone string, fn func(tx OtpTx) error) error
}

// OtpTx is the set of operations available while the phone lock is held.
type OtpTx interface {
	// CountSince counts every row (active or not, any status) created at or after since,
	// and returns the creation time of the oldest of them.
	CountSince(ctx context.Context, phone string, since time.Time) (int, time.Time, error)
	// DeactivateActive clears is_active on every active row of the phone.
	DeactivateActive(ctx context.Context, phone string) (int, error)
	Insert(ctx context.Context, req model.OtpRequest) error
	// LatestIssued returns the authoritative OK row: the active one if present,
	// otherwise the most recent. The row is locked until the transaction ends.
	LatestIssued(ctx context.Context, phone string) (model.OtpRequest, error)
	UpdateAttempt(ctx context.Context, id uuid.UUID, attempts int, active bool) error
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// WithPhoneLock runs fn in a transaction holding a transaction-scoped advisory lock
// keyed by the phone number. fn's error rolls the transaction back.
func (r *otpRepo) WithPhoneLock(ctx context.Context, phone string, fn func(tx OtpTx) error) error {
	const op = "repo.Otp.WithPhoneLock"

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	// Blocks until we hold the lock; released on COMMIT/ROLLBACK.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, phone); err != nil {
		return fmt.Errorf("%s: advisory lock: %w", op, err)
	}

	if err := fn(&otpTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}

type otpTx struct {
	tx *sql.Tx
}

func (t *otpTx) CountSince(ctx context.Context, phone string, since time.Time) (int, time.Time, error) {
	var (
		count  int
		oldest sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at) FROM otp_requests
		WHERE phone_number = $1 AND created_at >= $2
	`, phone, since).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("repo.Otp.CountSince: %w", err)
	}
	return count, oldest.Time, nil
}

func (t *otpTx) DeactivateActive(ctx context.Context, phone string) (int, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE otp_requests
		SET is_active = FALSE
		WHERE phone_number = $1 AND is_active
	`, phone)
	if err != nil {
		return 0, fmt.Errorf("repo.Otp.DeactivateActive: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

func (t *otpTx) Insert(ctx context.Context, req model.OtpRequest) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO otp_requests (id, phone_number, otp_hash, expires_at, attempts, is_active, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.ID, req.PhoneNumber, req.OTPHash, req.ExpiresAt, req.Attempts, req.IsActive, string(req.Status), req.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("repo.Otp.Insert: %w", ErrAlreadyExists)
		}
		return fmt.Errorf("repo.Otp.Insert: %w", err)
	}
	return nil
}

func (t *otpTx) LatestIssued(ctx context.Context, phone string) (model.OtpRequest, error) {
	var (
		req    model.OtpRequest
		status string
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, phone_number, otp_hash, expires_at, attempts, is_active, status, created_at
		FROM otp_requests
		WHERE phone_number = $1 AND status = $2
		ORDER BY is_active DESC, created_at DESC
		LIMIT 1
		FOR UPDATE
	`, phone, string(model.OtpStatusOK)).Scan(
		&req.ID,
		&req.PhoneNumber,
		&req.OTPHash,
		&req.ExpiresAt,
		&req.Attempts,
		&req.IsActive,
		&status,
		&req.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpRequest{}, fmt.Errorf("repo.Otp.LatestIssued: %w", ErrNotFound)
		}
		return model.OtpRequest{}, fmt.Errorf("repo.Otp.LatestIssued: %w", err)
	}
	req.Status = model.OtpStatus(status)
	return req, nil
}

func (t *otpTx) UpdateAttempt(ctx context.Context, id uuid.UUID, attempts int, active bool) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE otp_requests SET attempts = $2, is_active = $3 WHERE id = $1
	`, id, attempts, active)
	if err != nil {
		return fmt.Errorf("repo.Otp.UpdateAttempt: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("repo.Otp.UpdateAttempt: %w", ErrNotFound)
	}
	return nil
}
