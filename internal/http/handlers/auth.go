package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/redact"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// requestOTPRequest is the request body for POST /auth/request_otp
type requestOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// verifyOTPRequest is the request body for POST /auth/verify_otp
type verifyOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	OTP         string `json:"otp"`
}

// verifyOTPResponse is the JSON response for verify_otp
type verifyOTPResponse struct {
	AccessToken                 string       `json:"access_token"`
	AccessExpiresAt             time.Time    `json:"access_expires_at"`
	RefreshToken                string       `json:"refresh_token"`
	RefreshExpiresAt            time.Time    `json:"refresh_expires_at"`
	TokenType                   string       `json:"token_type"`
	IsBasicRegistrationComplete bool         `json:"is_basic_registration_complete"`
	IsNewUser                   bool         `json:"is_new_user"`
	User                        userResponse `json:"user"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone_number"`
}

// HandleRequestOTP handles POST /auth/request_otp
func (h *AuthHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		respondWithError(w, http.StatusBadRequest, "phone_number is required")
		return
	}

	err := h.authService.RequestOtp(r.Context(), req.PhoneNumber)
	if err != nil {
		var limited auth.RateLimitError
		switch {
		case errors.Is(err, auth.ErrInvalidPhone):
			respondWithError(w, http.StatusBadRequest, "invalid phone_number")
		case errors.As(err, &limited):
			w.Header().Set("Retry-After", retryAfterSeconds(limited.RetryAfter))
			respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		default:
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("request otp failed")
			respondWithError(w, http.StatusInternalServerError, "failed to request OTP")
		}
		return
	}

	respondWithJSON(w, r, http.StatusOK, map[string]string{"message": "otp_sent"})
}

// HandleVerifyOTP handles POST /auth/verify_otp
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.OTP = strings.TrimSpace(req.OTP)

	if req.PhoneNumber == "" || req.OTP == "" {
		respondWithError(w, http.StatusBadRequest, "phone_number and otp are required")
		return
	}

	login, err := h.authService.VerifyOtpAndLogin(r.Context(), req.PhoneNumber, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidPhone):
			respondWithError(w, http.StatusBadRequest, "invalid phone_number")
		case errors.Is(err, auth.ErrForbidden):
			respondWithError(w, http.StatusForbidden, "account deactivated")
		case errors.Is(err, auth.ErrNoActiveCode),
			errors.Is(err, auth.ErrExpired),
			errors.Is(err, auth.ErrAttemptsExhausted),
			errors.Is(err, auth.ErrInvalidCode):
			respondWithError(w, http.StatusUnauthorized, otpErrorMessage(err))
		default:
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("verify otp failed")
			respondWithError(w, http.StatusInternalServerError, "failed to verify OTP")
		}
		return
	}

	respondWithJSON(w, r, http.StatusOK, verifyOTPResponse{
		AccessToken:                 login.AccessToken,
		AccessExpiresAt:             login.AccessExpiresAt,
		RefreshToken:                login.RefreshSecret,
		RefreshExpiresAt:            login.RefreshExpiresAt,
		TokenType:                   "bearer",
		IsBasicRegistrationComplete: login.RegistrationComplete,
		IsNewUser:                   login.Outcome == model.IdentityCreated,
		User: userResponse{
			ID:          login.User.ID.String(),
			PhoneNumber: login.User.PhoneNumber,
		},
	})
}

func otpErrorMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrNoActiveCode):
		return "no_active_otp"
	case errors.Is(err, auth.ErrExpired):
		return "otp_expired"
	case errors.Is(err, auth.ErrAttemptsExhausted):
		return "otp_attempts_exhausted"
	default:
		return "invalid_otp"
	}
}

// refreshRequest is the request body for POST /auth/refresh and /auth/logout
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// refreshResponse is the JSON response for refresh
type refreshResponse struct {
	AccessToken                 string    `json:"access_token"`
	AccessExpiresAt             time.Time `json:"access_expires_at"`
	TokenType                   string    `json:"token_type"`
	IsBasicRegistrationComplete bool      `json:"is_basic_registration_complete"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := decodeRefreshToken(w, r)
	if !ok {
		return
	}

	res, err := h.authService.Refresh(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			zerolog.Ctx(r.Context()).Info().Str("refresh_token", redact.Secret(refreshToken)).Msg("refresh denied")
			respondWithError(w, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("refresh failed")
		respondWithError(w, http.StatusInternalServerError, "failed to refresh")
		return
	}

	respondWithJSON(w, r, http.StatusOK, refreshResponse{
		AccessToken:                 res.AccessToken,
		AccessExpiresAt:             res.AccessExpiresAt,
		TokenType:                   "bearer",
		IsBasicRegistrationComplete: res.RegistrationComplete,
	})
}

// HandleLogout handles POST /auth/logout. Unknown and already revoked tokens
// are answered like a successful logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := decodeRefreshToken(w, r)
	if !ok {
		return
	}

	if err := h.authService.Logout(r.Context(), refreshToken); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("logout failed")
		respondWithError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	respondWithJSON(w, r, http.StatusOK, map[string]string{"message": "logged out"})
}

func decodeRefreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return "", false
	}
	return req.RefreshToken, true
}

// retryAfterSeconds formats d for the Retry-After header, never below one second.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
