package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidPhone is returned when a phone number cannot be normalized.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrRateLimited is the kind behind every RateLimitError.
	ErrRateLimited = errors.New("otp rate limit exceeded")

	// ErrNoActiveCode is returned when the phone number has no live code to verify against.
	ErrNoActiveCode = errors.New("no active otp")

	// ErrExpired is returned for an expired code or an expired refresh session.
	ErrExpired = errors.New("expired")

	// ErrAttemptsExhausted is returned once a code has used up its verification attempts.
	ErrAttemptsExhausted = errors.New("otp attempts exhausted")

	// ErrInvalidCode is returned when the submitted code does not match.
	ErrInvalidCode = errors.New("invalid otp")

	// ErrForbidden is returned when the identity is deactivated.
	ErrForbidden = errors.New("account deactivated")

	// ErrInvalidToken is returned when a refresh secret matches no session.
	ErrInvalidToken = errors.New("invalid token")

	// ErrRevoked is returned when a refresh secret belongs to a revoked session.
	ErrRevoked = errors.New("session revoked")

	// ErrUnauthorized is the only refresh failure callers of AuthService.Refresh see.
	// The specific session-layer reason is hidden on purpose.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSigningKey is returned when the token issuer cannot be configured.
	ErrSigningKey = errors.New("signing key misconfigured")
)

// RateWindow names the trailing window a rate limit was hit in.
type RateWindow string

const (
	WindowHourly RateWindow = "hourly"
	WindowDaily  RateWindow = "daily"
)

// RateLimitError carries the window that blocked an OTP request.
type RateLimitError struct {
	Window     RateWindow
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s limit reached", ErrRateLimited.Error(), e.Window)
}

func (e RateLimitError) Unwrap() error { return ErrRateLimited }
