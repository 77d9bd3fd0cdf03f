package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/repo"
)

// LoginResult is returned by a successful VerifyOtpAndLogin.
type LoginResult struct {
	User                 model.User
	Outcome              model.UpsertOutcome
	AccessToken          string
	AccessExpiresAt      time.Time
	RefreshSecret        string
	RefreshExpiresAt     time.Time
	RegistrationComplete bool
}

// RefreshResult is returned by a successful Refresh.
type RefreshResult struct {
	AccessToken          string
	AccessExpiresAt      time.Time
	RegistrationComplete bool
}

// AuthService orchestrates authentication operations
type AuthService struct {
	otp      *OTPManager
	sessions *SessionManager
	users    repo.UserRepo
	now      func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(otp *OTPManager, sessions *SessionManager, users repo.UserRepo) *AuthService {
	return &AuthService{
		otp:      otp,
		sessions: sessions,
		users:    users,
		now:      time.Now,
	}
}

// RequestOtp issues a code for the phone number.
func (s *AuthService) RequestOtp(ctx context.Context, phone string) error {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return err
	}
	return s.otp.RequestCode(ctx, phone)
}

// VerifyOtpAndLogin verifies the code, finds or creates the identity and opens a session.
func (s *AuthService) VerifyOtpAndLogin(ctx context.Context, phone, code string) (LoginResult, error) {
	const op = "auth.AuthService.VerifyOtpAndLogin"

	phone, err := NormalizePhone(phone)
	if err != nil {
		return LoginResult{}, err
	}

	if err := s.otp.VerifyCode(ctx, phone, code); err != nil {
		return LoginResult{}, err
	}

	user, outcome, err := s.users.FindOrCreateByPhone(ctx, phone, s.now())
	if err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		return LoginResult{}, ErrForbidden
	}

	issued, err := s.sessions.CreateSession(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}

	grant, err := s.sessions.IssueAccess(user, issued.SessionID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("user_id", user.ID.String()).
		Stringer("identity", outcome).
		Msg("login succeeded")

	return LoginResult{
		User:                 user,
		Outcome:              outcome,
		AccessToken:          grant.AccessToken,
		AccessExpiresAt:      grant.ExpiresAt,
		RefreshSecret:        issued.RefreshSecret,
		RefreshExpiresAt:     issued.RefreshExpiresAt,
		RegistrationComplete: grant.RegistrationComplete,
	}, nil
}

// Refresh mints a new access token. Every session-level failure is reported as
// ErrUnauthorized; store and signing errors pass through.
func (s *AuthService) Refresh(ctx context.Context, rawSecret string) (RefreshResult, error) {
	grant, err := s.sessions.RefreshAccess(ctx, rawSecret)
	if err != nil {
		if isSessionFailure(err) {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("refresh denied")
			return RefreshResult{}, ErrUnauthorized
		}
		return RefreshResult{}, err
	}
	return RefreshResult{
		AccessToken:          grant.AccessToken,
		AccessExpiresAt:      grant.ExpiresAt,
		RegistrationComplete: grant.RegistrationComplete,
	}, nil
}

// Logout revokes the session behind rawSecret. It succeeds for unknown or already
// revoked secrets.
func (s *AuthService) Logout(ctx context.Context, rawSecret string) error {
	return s.sessions.Revoke(ctx, rawSecret)
}
