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

// ProfileRepo defines the interface for basic registration data
type ProfileRepo interface {
	// CompleteRegistration upserts the profile and sets the identity's
	// registration flag in one transaction.
	CompleteRegistration(ctx context.Context, p model.Profile, now time.Time) (model.Profile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (model.Profile, error)
}

type profileRepo struct {
	db *sql.DB
}

// NewProfileRepo creates a new ProfileRepo instance
func NewProfileRepo(db *sql.DB) ProfileRepo {
	return &profileRepo{db: db}
}

func (r *profileRepo) CompleteRegistration(ctx context.Context, p model.Profile, now time.Time) (model.Profile, error) {
	const op = "repo.Profile.CompleteRegistration"

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	var location []byte
	if len(p.Location) > 0 {
		location = p.Location
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_profiles (id, user_id, full_name, date_of_birth, email, location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET full_name = EXCLUDED.full_name,
		    date_of_birth = EXCLUDED.date_of_birth,
		    email = EXCLUDED.email,
		    location = EXCLUDED.location,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`, p.ID, p.UserID, p.FullName, p.DateOfBirth, p.Email, location, now).Scan(&p.ID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%s: upsert profile: %w", op, err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE users SET is_basic_registration_complete = TRUE, updated_at = $2 WHERE id = $1
	`, p.UserID, now)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%s: mark registered: %w", op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return model.Profile{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return model.Profile{}, fmt.Errorf("%s: commit: %w", op, err)
	}
	return p, nil
}

func (r *profileRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (model.Profile, error) {
	const op = "repo.Profile.GetByUserID"

	var (
		p        model.Profile
		location []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, full_name, date_of_birth, email, location
		FROM user_profiles
		WHERE user_id = $1
	`, userID).Scan(&p.ID, &p.UserID, &p.FullName, &p.DateOfBirth, &p.Email, &location)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Profile{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return model.Profile{}, fmt.Errorf("%s: %w", op, err)
	}
	p.Location = location
	return p, nil
}
