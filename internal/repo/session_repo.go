package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/phonegate/server/internal/model"
)

// SessionRepo defines the interface for refresh session repository operations
type SessionRepo interface {
	Create(ctx context.Context, s model.Session) error
	// FindByTokenHash returns the session regardless of revocation or expiry;
	// the caller decides which failure applies.
	FindByTokenHash(ctx context.Context, tokenHash string) (model.Session, error)
	// RevokeByTokenHash marks a live session revoked. It reports whether a row changed.
	RevokeByTokenHash(ctx context.Context, tokenHash string, at time.Time) (bool, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

// Create inserts a new refresh session
func (r *sessionRepo) Create(ctx context.Context, s model.Session) error {
	const op = "repo.Session.Create"

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, refresh_token_hash, refresh_expires_at, is_revoked, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)
	`, s.ID, s.UserID, s.RefreshTokenHash, s.RefreshExpiresAt, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *sessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (model.Session, error) {
	const op = "repo.Session.FindByTokenHash"

	var (
		s         model.Session
		revokedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, refresh_token_hash, refresh_expires_at, is_revoked, created_at, revoked_at
		FROM sessions
		WHERE refresh_token_hash = $1
	`, tokenHash).Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshTokenHash,
		&s.RefreshExpiresAt,
		&s.IsRevoked,
		&s.CreatedAt,
		&revokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return model.Session{}, fmt.Errorf("%s: %w", op, err)
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	return s, nil
}

func (r *sessionRepo) RevokeByTokenHash(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	const op = "repo.Session.RevokeByTokenHash"

	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET is_revoked = TRUE, revoked_at = $2
		WHERE refresh_token_hash = $1 AND NOT is_revoked
	`, tokenHash, at)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
