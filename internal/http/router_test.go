package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonegate/server/internal/auth"
	apphttp "github.com/phonegate/server/internal/http"
	"github.com/phonegate/server/internal/http/handlers"
	"github.com/phonegate/server/internal/metrics"
	"github.com/phonegate/server/internal/middleware"
	"github.com/phonegate/server/internal/profile"
	"github.com/phonegate/server/internal/repo/repotest"
)

type codeSink struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *codeSink) Send(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[phone] = code
	return nil
}

func (s *codeSink) last(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

type downDB struct{}

func (downDB) PingContext(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	handler http.Handler
	store   *repotest.Store
	sink    *codeSink
}

func newTestServer(t *testing.T, ipLimit int) *testServer {
	t.Helper()

	store := repotest.New()
	sink := &codeSink{codes: map[string]string{}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tokens, err := auth.NewJWTService(auth.TokenConfig{
		Secret:   "router-test-secret",
		Issuer:   "phonegate",
		Audience: "phonegate-clients",
		TTL:      15 * time.Minute,
	})
	require.NoError(t, err)

	hasher := auth.NewHasher(nil)
	otp := auth.NewOTPManager(store, sink, hasher, auth.DefaultOTPConfig(), m)
	sessions := auth.NewSessionManager(store, store, tokens, hasher, auth.DefaultSessionConfig(), m)
	svc := auth.NewAuthService(otp, sessions, store)

	requestLimiter := middleware.NewRateLimiter(10*time.Minute, ipLimit)
	verifyLimiter := middleware.NewRateLimiter(10*time.Minute, ipLimit)
	t.Cleanup(requestLimiter.Close)
	t.Cleanup(verifyLimiter.Close)

	router := apphttp.NewRouter(apphttp.Deps{
		Logger:         zerolog.Nop(),
		Auth:           handlers.NewAuthHandler(svc),
		User:           handlers.NewUserHandler(profile.NewService(store, store)),
		Health:         handlers.NewHealthHandler(nil),
		Verifier:       tokens,
		RequestLimiter: requestLimiter,
		VerifyLimiter:  verifyLimiter,
		LimitWindow:    10 * time.Minute,
		Gatherer:       reg,
	})

	return &testServer{handler: router, store: store, sink: sink}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const phone = "+15550001234"

func (s *testServer) login(t *testing.T) map[string]any {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/request_otp", map[string]string{"phone_number": phone}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/auth/verify_otp", map[string]string{"phone_number": phone, "otp": s.sink.last(phone)}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 100)
	rec := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handlers.NewHealthHandler(downDB{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestFullFlow(t *testing.T) {
	s := newTestServer(t, 100)

	body := s.login(t)
	assert.Equal(t, "bearer", body["token_type"])
	assert.Equal(t, false, body["is_basic_registration_complete"])
	assert.Equal(t, true, body["is_new_user"])
	access := body["access_token"].(string)
	refresh := body["refresh_token"].(string)

	// reg=false tokens are refused on the gated route.
	rec := s.do(t, http.MethodGet, "/user/me", nil, access)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/user/register/basic", map[string]any{
		"full_name":     "Ada Lovelace",
		"date_of_birth": "1990-12-10",
		"email":         "ada@example.com",
		"location":      map[string]string{"city": "London"},
	}, access)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The old token still carries the snapshot taken at login.
	rec = s.do(t, http.MethodGet, "/user/me", nil, access)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": refresh}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refreshed := decode(t, rec)
	assert.Equal(t, true, refreshed["is_basic_registration_complete"])
	_, hasRefresh := refreshed["refresh_token"]
	assert.False(t, hasRefresh)

	rec = s.do(t, http.MethodGet, "/user/me", nil, refreshed["access_token"].(string))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decode(t, rec)
	assert.Equal(t, phone, me["phone_number"])
	profileBody := me["profile"].(map[string]any)
	assert.Equal(t, "1990-12-10", profileBody["date_of_birth"])
	assert.Equal(t, map[string]any{"city": "London"}, profileBody["location"])

	rec = s.do(t, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": refresh}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": refresh}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestOTP_Errors(t *testing.T) {
	s := newTestServer(t, 100)

	req := httptest.NewRequest(http.MethodPost, "/auth/request_otp", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/request_otp", map[string]string{"phone_number": " "}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/request_otp", map[string]string{"phone_number": "call me"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestOTP_PhoneRateLimit(t *testing.T) {
	s := newTestServer(t, 100)

	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/auth/request_otp", map[string]string{"phone_number": phone}, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/auth/request_otp", map[string]string{"phone_number": phone}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	secs, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, secs, 3500)
	assert.LessOrEqual(t, secs, 3600)
	assert.Len(t, s.store.OtpRows(phone), 4)
}

func TestVerifyOTP_Errors(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPost, "/auth/verify_otp", map[string]string{"phone_number": phone}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/verify_otp", map[string]string{"phone_number": phone, "otp": "123456"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "no_active_otp", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/auth/request_otp", map[string]string{"phone_number": phone}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	wrong := "000000"
	if s.sink.last(phone) == wrong {
		wrong = "111111"
	}

	for i := 0; i < 3; i++ {
		rec = s.do(t, http.MethodPost, "/auth/verify_otp", map[string]string{"phone_number": phone, "otp": wrong}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "invalid_otp", decode(t, rec)["error"])
	}

	rec = s.do(t, http.MethodPost, "/auth/verify_otp", map[string]string{"phone_number": phone, "otp": s.sink.last(phone)}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "otp_attempts_exhausted", decode(t, rec)["error"])
}

func TestVerifyOTP_Deactivated(t *testing.T) {
	s := newTestServer(t, 100)
	ctx := context.Background()

	user, _, err := s.store.FindOrCreateByPhone(ctx, phone, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.store.SetActive(ctx, user.ID, false, time.Now()))

	rec := s.do(t, http.MethodPost, "/auth/request_otp", map[string]string{"phone_number": phone}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/verify_otp", map[string]string{"phone_number": phone, "otp": s.sink.last(phone)}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRefreshAndLogout_Validation(t *testing.T) {
	s := newTestServer(t, 100)

	rec := s.do(t, http.MethodPost, "/auth/refresh", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": "unknown"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/logout", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": "unknown"}, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterBasic_Validation(t *testing.T) {
	s := newTestServer(t, 100)
	access := s.login(t)["access_token"].(string)

	rec := s.do(t, http.MethodPost, "/user/register/basic", map[string]string{"full_name": "Ada", "date_of_birth": "12/10/1990"}, access)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/user/register/basic", map[string]string{"full_name": "Ada", "date_of_birth": "1990-12-10"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEdgeThrottle(t *testing.T) {
	s := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/auth/request_otp", map[string]string{"phone_number": "+1555000100" + strconv.Itoa(i)}, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/auth/request_otp", map[string]string{"phone_number": "+15550001009"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "600", rec.Header().Get("Retry-After"))
	assert.Empty(t, s.store.OtpRows("+15550001009"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 100)
	s.login(t)

	rec := s.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `phonegate_otp_requests_total{outcome="issued"} 1`)
	assert.Contains(t, rec.Body.String(), `phonegate_sessions_total{event="created"} 1`)
}
