// Package profile handles basic registration of an authenticated identity.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/repo"
)

// DateLayout is the accepted date_of_birth format.
const DateLayout = "2006-01-02"

// ErrInvalidProfile is wrapped by every validation failure.
var ErrInvalidProfile = errors.New("invalid profile")

// BasicInput is the raw registration payload.
type BasicInput struct {
	FullName    string
	DateOfBirth string
	Email       string
	Location    json.RawMessage
}

// Me is the identity together with its profile, if one exists.
type Me struct {
	User    model.User
	Profile *model.Profile
}

// Service completes registrations and reads them back
type Service struct {
	users    repo.UserRepo
	profiles repo.ProfileRepo
	now      func() time.Time
}

// NewService creates a new profile service
func NewService(users repo.UserRepo, profiles repo.ProfileRepo) *Service {
	return &Service{users: users, profiles: profiles, now: time.Now}
}

// RegisterBasic stores the profile and marks the identity as registered.
// Access tokens minted earlier keep reg=false until the client refreshes.
func (s *Service) RegisterBasic(ctx context.Context, userID uuid.UUID, in BasicInput) (model.Profile, error) {
	const op = "profile.Service.RegisterBasic"

	p, err := s.validate(userID, in)
	if err != nil {
		return model.Profile{}, err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Profile{}, auth.ErrForbidden
		}
		return model.Profile{}, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		return model.Profile{}, auth.ErrForbidden
	}

	saved, err := s.profiles.CompleteRegistration(ctx, p, s.now())
	if err != nil {
		return model.Profile{}, fmt.Errorf("%s: %w", op, err)
	}

	zerolog.Ctx(ctx).Info().Str("user_id", userID.String()).Msg("basic registration completed")
	return saved, nil
}

func (s *Service) validate(userID uuid.UUID, in BasicInput) (model.Profile, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return model.Profile{}, fmt.Errorf("%w: full_name is required", ErrInvalidProfile)
	}

	dob, err := time.Parse(DateLayout, strings.TrimSpace(in.DateOfBirth))
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: date_of_birth must be YYYY-MM-DD", ErrInvalidProfile)
	}
	if dob.After(s.now()) {
		return model.Profile{}, fmt.Errorf("%w: date_of_birth is in the future", ErrInvalidProfile)
	}

	email := strings.TrimSpace(in.Email)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return model.Profile{}, fmt.Errorf("%w: email is invalid", ErrInvalidProfile)
		}
	}

	var location json.RawMessage
	if trimmed := strings.TrimSpace(string(in.Location)); trimmed != "" && trimmed != "null" {
		if !strings.HasPrefix(trimmed, "{") || !json.Valid([]byte(trimmed)) {
			return model.Profile{}, fmt.Errorf("%w: location must be a JSON object", ErrInvalidProfile)
		}
		location = json.RawMessage(trimmed)
	}

	return model.Profile{
		UserID:      userID,
		FullName:    name,
		DateOfBirth: dob,
		Email:       email,
		Location:    location,
	}, nil
}

// Me loads the identity and its profile.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (Me, error) {
	const op = "profile.Service.Me"

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Me{}, auth.ErrForbidden
		}
		return Me{}, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		return Me{}, auth.ErrForbidden
	}

	p, err := s.profiles.GetByUserID(ctx, userID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return Me{User: user}, nil
	case err != nil:
		return Me{}, fmt.Errorf("%s: %w", op, err)
	}
	return Me{User: user, Profile: &p}, nil
}
