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

// UserRepo defines the interface for identity repository operations
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	FindOrCreateByPhone(ctx context.Context, phone string, now time.Time) (model.User, model.UpsertOutcome, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, phone_number, is_active, is_basic_registration_complete, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.PhoneNumber,
		&u.IsActive,
		&u.IsBasicRegistrationComplete,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

// GetByID retrieves an identity by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	const op = "repo.User.GetByID"

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// GetByPhone retrieves an identity by normalized phone number
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	const op = "repo.User.GetByPhone"

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// FindOrCreateByPhone inserts an active, unregistered identity unless one exists.
// The insert uses ON CONFLICT DO NOTHING so concurrent first logins converge on one row;
// the outcome reports which path was taken.
func (r *userRepo) FindOrCreateByPhone(ctx context.Context, phone string, now time.Time) (model.User, model.UpsertOutcome, error) {
	const op = "repo.User.FindOrCreateByPhone"

	user, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, phone_number, is_active, is_basic_registration_complete, created_at, updated_at)
		VALUES ($1, $2, TRUE, FALSE, $3, $3)
		ON CONFLICT (phone_number) DO NOTHING
		RETURNING `+userColumns,
		uuid.New(), phone, now,
	))
	if err == nil {
		return user, model.IdentityCreated, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.User{}, 0, fmt.Errorf("%s: insert: %w", op, err)
	}

	user, err = r.GetByPhone(ctx, phone)
	if err != nil {
		return model.User{}, 0, fmt.Errorf("%s: %w", op, err)
	}
	return user, model.IdentityFound, nil
}

// SetActive flips the identity's active flag.
func (r *userRepo) SetActive(ctx context.Context, id uuid.UUID, active bool, now time.Time) error {
	const op = "repo.User.SetActive"

	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1
	`, id, active, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
