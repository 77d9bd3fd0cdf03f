package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/repo"
)

func TestAuthService_LoginRefreshLogoutScenario(t *testing.T) {
	env := newTestEnv(t, DefaultOTPConfig())
	env.otp.generate = func(int) (string, error) { return "482913", nil }
	ctx := context.Background()

	require.NoError(t, env.svc.RequestOtp(ctx, "+15550001234"))
	assert.Equal(t, "482913", env.sender.last("+15550001234"))

	_, err := env.svc.VerifyOtpAndLogin(ctx, "+15550001234", "000000")
	require.ErrorIs(t, err, ErrInvalidCode)
	assert.Equal(t, 1, env.store.OtpRows("+15550001234")[0].Attempts)

	login, err := env.svc.VerifyOtpAndLogin(ctx, "+15550001234", "482913")
	require.NoError(t, err)
	assert.Equal(t, model.IdentityCreated, login.Outcome)
	assert.False(t, login.RegistrationComplete)
	require.NotEmpty(t, login.RefreshSecret)
	r := login.RefreshSecret

	loginClaims, err := env.tokens.VerifyToken(login.AccessToken)
	require.NoError(t, err)
	assert.False(t, loginClaims.RegistrationComplete)
	assert.Equal(t, login.User.ID.String(), loginClaims.Subject)
	assert.Equal(t, "+15550001234", loginClaims.PhoneNumber)

	first, err := env.svc.Refresh(ctx, r)
	require.NoError(t, err)
	assert.False(t, first.RegistrationComplete)

	_, err = env.store.CompleteRegistration(ctx, model.Profile{
		UserID:      login.User.ID,
		FullName:    "Ada Lovelace",
		DateOfBirth: time.Date(1990, 12, 10, 0, 0, 0, 0, time.UTC),
		Email:       "ada@example.com",
	}, env.clock.Now())
	require.NoError(t, err)

	// Tokens minted before registration keep their snapshot.
	stale, err := env.tokens.VerifyToken(first.AccessToken)
	require.NoError(t, err)
	assert.False(t, stale.RegistrationComplete)

	second, err := env.svc.Refresh(ctx, r)
	require.NoError(t, err)
	assert.True(t, second.RegistrationComplete)
	fresh, err := env.tokens.VerifyToken(second.AccessToken)
	require.NoError(t, err)
	assert.True(t, fresh.RegistrationComplete)

	require.NoError(t, env.svc.Logout(ctx, r))
	_, err = env.svc.Refresh(ctx, r)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NoError(t, env.svc.Logout(ctx, r))
}

func TestAuthService_IdentityFoundOnSecondLogin(t *testing.T) {
	env := newTestEnv(t, DefaultOTPConfig())
	ctx := context.Background()

	require.NoError(t, env.svc.RequestOtp(ctx, testPhone))
	first, err := env.svc.VerifyOtpAndLogin(ctx, testPhone, env.sender.last(testPhone))
	require.NoError(t, err)
	assert.Equal(t, model.IdentityCreated, first.Outcome)

	require.NoError(t, env.svc.RequestOtp(ctx, testPhone))
	second, err := env.svc.VerifyOtpAndLogin(ctx, testPhone, env.sender.last(testPhone))
	require.NoError(t, err)
	assert.Equal(t, model.IdentityFound, second.Outcome)
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.NotEqual(t, first.RefreshSecret, second.RefreshSecret)
	assert.Len(t, env.store.Sessions(), 2)
}

func TestAuthService_NormalizesPhone(t *testing.T) {
	env := newTestEnv(t, DefaultOTPConfig())
	ctx := context.Background()

	require.NoError(t, env.svc.RequestOtp(ctx, "+1 (555) 000-1234"))
	login, err := env.svc.VerifyOtpAndLogin(ctx, "+15550001234", env.sender.last(testPhone))
	require.NoError(t, err)
	assert.Equal(t, testPhone, login.User.PhoneNumber)

	assert.ErrorIs(t, env.svc.RequestOtp(ctx, "not a phone"), ErrInvalidPhone)
	_, err = env.svc.VerifyOtpAndLogin(ctx, "12", "123456")
	assert.ErrorIs(t, err, ErrInvalidPhone)
}

func TestAuthService_SpellingsShareOnePhone(t *testing.T) {
	env := newTestEnv(t, DefaultOTPConfig())
	ctx := context.Background()

	spellings := []string{"+15550001234", "15550001234", "1 555 000 1234"}
	for _, p := range spellings {
		require.NoError(t, env.svc.RequestOtp(ctx, p))
	}

	var limited RateLimitError
	require.ErrorAs(t, env.svc.RequestOtp(ctx, "15550001234"), &limited)
	assert.Equal(t, WindowHourly, limited.Window)

	assert.Empty(t, env.store.OtpRows("15550001234"))
	active := 0
	for _, row := range env.store.OtpRows(testPhone) {
		if row.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)

	login, err := env.svc.VerifyOtpAndLogin(ctx, "15550001234", env.sender.last(testPhone))
	require.NoError(t, err)
	assert.Equal(t, testPhone, login.User.PhoneNumber)
}

func TestAuthService_DeactivatedIdentityForbidden(t *testing.T) {
	env := newTestEnv(t, DefaultOTPConfig())
	ctx := context.Background()

	user, _, err := env.store.FindOrCreateByPhone(ctx, testPhone, env.clock.Now())
	require.NoError(t, err)
	require.NoError(t, env.store.SetActive(ctx, user.ID, false, env.clock.Now()))

	require.NoError(t, env.svc.RequestOtp(ctx, testPhone))
	_, err = env.svc.VerifyOtpAndLogin(ctx, testPhone, env.sender.last(testPhone))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, env.store.Sessions())
}

func TestAuthService_RefreshHidesReason(t *testing.T) {
	env := newTestEnv(t, DefaultOTPConfig())
	ctx := context.Background()

	_, err := env.svc.Refresh(ctx, "unknown")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrInvalidToken)

	require.NoError(t, env.svc.RequestOtp(ctx, testPhone))
	login, err := env.svc.VerifyOtpAndLogin(ctx, testPhone, env.sender.last(testPhone))
	require.NoError(t, err)

	env.clock.Advance(8 * 24 * time.Hour)
	_, err = env.svc.Refresh(ctx, login.RefreshSecret)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, ErrExpired)
}

type failingSessions struct {
	repo.SessionRepo
	err error
}

func (f failingSessions) FindByTokenHash(context.Context, string) (model.Session, error) {
	return model.Session{}, f.err
}

func TestAuthService_RefreshPassesInfraErrors(t *testing.T) {
	env := newTestEnv(t, DefaultOTPConfig())
	dbErr := errors.New("connection reset")
	env.sessions.sessions = failingSessions{SessionRepo: env.store, err: dbErr}

	_, err := env.svc.Refresh(context.Background(), "anything")
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}
