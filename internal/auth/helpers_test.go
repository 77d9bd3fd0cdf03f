package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phonegate/server/internal/repo/repotest"
)

const testSecret = "test-secret-key-for-access-tokens"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	// Tokens minted by the fake clock are verified against the wall clock,
	// so it starts at the current time.
	return &fakeClock{t: time.Now().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureSender remembers the last code sent to each phone.
type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
	sent  int
	err   error
}

func newCaptureSender() *captureSender {
	return &captureSender{codes: make(map[string]string)}
}

func (s *captureSender) Send(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[phone] = code
	s.sent++
	return s.err
}

func (s *captureSender) last(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

func newTestJWT(t *testing.T) *JWTService {
	t.Helper()
	svc, err := NewJWTService(TokenConfig{
		Secret:   testSecret,
		Issuer:   "phonegate",
		Audience: "phonegate-clients",
		TTL:      15 * time.Minute,
	})
	require.NoError(t, err)
	return svc
}

type testEnv struct {
	store    *repotest.Store
	clock    *fakeClock
	sender   *captureSender
	tokens   *JWTService
	otp      *OTPManager
	sessions *SessionManager
	svc      *AuthService
}

func newTestEnv(t *testing.T, cfg OTPConfig) *testEnv {
	t.Helper()

	store := repotest.New()
	clock := newFakeClock()
	sender := newCaptureSender()
	tokens := newTestJWT(t)
	hasher := NewHasher(nil)

	otp := NewOTPManager(store, sender, hasher, cfg, nil)
	otp.now = clock.Now

	sessions := NewSessionManager(store, store, tokens, hasher, DefaultSessionConfig(), nil)
	sessions.now = clock.Now

	svc := NewAuthService(otp, sessions, store)
	svc.now = clock.Now

	return &testEnv{
		store:    store,
		clock:    clock,
		sender:   sender,
		tokens:   tokens,
		otp:      otp,
		sessions: sessions,
		svc:      svc,
	}
}
