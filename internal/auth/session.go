package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phonegate/server/internal/metrics"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/repo"
)

// SessionConfig configures refresh sessions.
type SessionConfig struct {
	RefreshTTL  time.Duration
	SecretBytes int
}

// DefaultSessionConfig returns 7-day refresh sessions backed by 32-byte secrets.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		RefreshTTL:  7 * 24 * time.Hour,
		SecretBytes: defaultSecretBytes,
	}
}

// IssuedSession is returned once by CreateSession. RefreshSecret is not stored
// anywhere and cannot be recovered later.
type IssuedSession struct {
	SessionID        uuid.UUID
	RefreshSecret    string
	RefreshExpiresAt time.Time
}

// AccessGrant is a freshly minted access token.
type AccessGrant struct {
	AccessToken          string
	ExpiresAt            time.Time
	SessionID            uuid.UUID
	RegistrationComplete bool
}

// SessionManager creates, validates and revokes refresh sessions.
// Refresh secrets are not rotated: a secret stays valid until it expires or is revoked.
type SessionManager struct {
	sessions repo.SessionRepo
	users    repo.UserRepo
	tokens   *JWTService
	hasher   Hasher
	cfg      SessionConfig
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewSessionManager creates a new session manager. m may be nil.
func NewSessionManager(sessions repo.SessionRepo, users repo.UserRepo, tokens *JWTService, hasher Hasher, cfg SessionConfig, m *metrics.Metrics) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
	}
}

// CreateSession stores a new session for an active identity and returns its plaintext secret.
func (m *SessionManager) CreateSession(ctx context.Context, user model.User) (IssuedSession, error) {
	const op = "auth.SessionManager.CreateSession"

	if !user.IsActive {
		return IssuedSession{}, ErrForbidden
	}

	secret, err := RandomSecret(m.cfg.SecretBytes)
	if err != nil {
		return IssuedSession{}, fmt.Errorf("%s: %w", op, err)
	}

	now := m.now()
	s := model.Session{
		ID:               uuid.New(),
		UserID:           user.ID,
		RefreshTokenHash: m.hasher.Hash(secret),
		RefreshExpiresAt: now.Add(m.cfg.RefreshTTL),
		CreatedAt:        now,
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return IssuedSession{}, fmt.Errorf("%s: %w", op, err)
	}

	m.metrics.SessionEvent(metrics.SessionCreated)
	zerolog.Ctx(ctx).Info().Str("session_id", s.ID.String()).Str("user_id", user.ID.String()).Msg("session created")

	return IssuedSession{
		SessionID:        s.ID,
		RefreshSecret:    secret,
		RefreshExpiresAt: s.RefreshExpiresAt,
	}, nil
}

// RefreshAccess validates a refresh secret and mints an access token from the
// identity's current state. It is the only path that updates the reg claim.
func (m *SessionManager) RefreshAccess(ctx context.Context, rawSecret string) (AccessGrant, error) {
	const op = "auth.SessionManager.RefreshAccess"

	grant, err := m.refresh(ctx, rawSecret)
	switch {
	case err == nil:
		m.metrics.SessionEvent(metrics.SessionRefreshed)
		return grant, nil
	case isSessionFailure(err):
		m.metrics.SessionEvent(metrics.SessionRefreshDenied)
		return AccessGrant{}, err
	default:
		return AccessGrant{}, fmt.Errorf("%s: %w", op, err)
	}
}

func (m *SessionManager) refresh(ctx context.Context, rawSecret string) (AccessGrant, error) {
	if rawSecret == "" {
		return AccessGrant{}, ErrInvalidToken
	}

	s, err := m.sessions.FindByTokenHash(ctx, m.hasher.Hash(rawSecret))
	if errors.Is(err, repo.ErrNotFound) {
		return AccessGrant{}, ErrInvalidToken
	}
	if err != nil {
		return AccessGrant{}, err
	}

	now := m.now()
	if s.IsRevoked {
		return AccessGrant{}, ErrRevoked
	}
	if now.After(s.RefreshExpiresAt) {
		return AccessGrant{}, ErrExpired
	}

	user, err := m.users.GetByID(ctx, s.UserID)
	if errors.Is(err, repo.ErrNotFound) {
		return AccessGrant{}, ErrInvalidToken
	}
	if err != nil {
		return AccessGrant{}, err
	}
	if !user.IsActive {
		return AccessGrant{}, ErrForbidden
	}

	return m.issue(user, s.ID, now)
}

// IssueAccess mints an access token for a session the caller just created.
func (m *SessionManager) IssueAccess(user model.User, sessionID uuid.UUID) (AccessGrant, error) {
	return m.issue(user, sessionID, m.now())
}

func (m *SessionManager) issue(user model.User, sessionID uuid.UUID, now time.Time) (AccessGrant, error) {
	token, exp, err := m.tokens.IssueAccessToken(user.ID, user.PhoneNumber, sessionID, user.IsBasicRegistrationComplete, now)
	if err != nil {
		return AccessGrant{}, err
	}
	return AccessGrant{
		AccessToken:          token,
		ExpiresAt:            exp,
		SessionID:            sessionID,
		RegistrationComplete: user.IsBasicRegistrationComplete,
	}, nil
}

// Revoke marks the session behind rawSecret revoked. Unknown and already revoked
// secrets are a no-op; only store failures are returned.
func (m *SessionManager) Revoke(ctx context.Context, rawSecret string) error {
	const op = "auth.SessionManager.Revoke"

	if rawSecret == "" {
		return nil
	}
	changed, err := m.sessions.RevokeByTokenHash(ctx, m.hasher.Hash(rawSecret), m.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if changed {
		m.metrics.SessionEvent(metrics.SessionRevoked)
		zerolog.Ctx(ctx).Info().Msg("session revoked")
	}
	return nil
}

func isSessionFailure(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrRevoked) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrForbidden)
}
