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
	"github.com/phonegate/server/internal/redact"
	"github.com/phonegate/server/internal/repo"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour

	deliveryTimeout = 10 * time.Second

	blockedSecret = "BLOCKED"
)

// OTPConfig holds the code lifecycle limits. It is fixed at startup.
type OTPConfig struct {
	CodeLength  int
	Validity    time.Duration
	HourlyLimit int
	DailyLimit  int
	MaxAttempts int
}

// DefaultOTPConfig returns 6-digit codes valid for 5 minutes, 3 requests per hour,
// 10 per day and 3 verification attempts.
func DefaultOTPConfig() OTPConfig {
	return OTPConfig{
		CodeLength:  6,
		Validity:    5 * time.Minute,
		HourlyLimit: 3,
		DailyLimit:  10,
		MaxAttempts: 3,
	}
}

// OTPManager issues and verifies one-time codes. The store is the only state;
// every call runs under the per-phone lock of repo.OtpRepo.
type OTPManager struct {
	otps     repo.OtpRepo
	sender   Sender
	hasher   Hasher
	cfg      OTPConfig
	metrics  *metrics.Metrics
	now      func() time.Time
	generate func(length int) (string, error)
}

// NewOTPManager creates a new OTP manager. m may be nil.
func NewOTPManager(otps repo.OtpRepo, sender Sender, hasher Hasher, cfg OTPConfig, m *metrics.Metrics) *OTPManager {
	return &OTPManager{
		otps:     otps,
		sender:   sender,
		hasher:   hasher,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
		generate: generateCode,
	}
}

// RequestCode rate-checks the phone number, replaces any live code with a new one
// and hands the plaintext to the sender. Blocked requests are recorded as inactive
// audit rows and reported as RateLimitError.
func (m *OTPManager) RequestCode(ctx context.Context, phone string) error {
	const op = "auth.OTPManager.RequestCode"

	now := m.now()
	var (
		code    string
		limited *RateLimitError
	)

	err := m.otps.WithPhoneLock(ctx, phone, func(tx repo.OtpTx) error {
		hourly, oldestHour, err := tx.CountSince(ctx, phone, now.Add(-hourWindow))
		if err != nil {
			return err
		}
		if hourly >= m.cfg.HourlyLimit {
			limited = &RateLimitError{Window: WindowHourly, RetryAfter: retryAfter(oldestHour, hourWindow, now)}
			return m.recordBlocked(ctx, tx, phone, model.OtpStatusBlockedHourly, now)
		}

		daily, oldestDay, err := tx.CountSince(ctx, phone, now.Add(-dayWindow))
		if err != nil {
			return err
		}
		if daily >= m.cfg.DailyLimit {
			limited = &RateLimitError{Window: WindowDaily, RetryAfter: retryAfter(oldestDay, dayWindow, now)}
			return m.recordBlocked(ctx, tx, phone, model.OtpStatusBlockedDaily, now)
		}

		if _, err := tx.DeactivateActive(ctx, phone); err != nil {
			return err
		}

		code, err = m.generate(m.cfg.CodeLength)
		if err != nil {
			return err
		}

		return tx.Insert(ctx, model.OtpRequest{
			ID:          uuid.New(),
			PhoneNumber: phone,
			OTPHash:     m.hasher.Hash(otpSecret(phone, code)),
			ExpiresAt:   now.Add(m.cfg.Validity),
			Attempts:    0,
			IsActive:    true,
			Status:      model.OtpStatusOK,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log := zerolog.Ctx(ctx)

	if limited != nil {
		if limited.Window == WindowHourly {
			m.metrics.OtpRequested(metrics.OtpBlockedHourly)
		} else {
			m.metrics.OtpRequested(metrics.OtpBlockedDaily)
		}
		log.Info().Str("phone", redact.Phone(phone)).Str("window", string(limited.Window)).Msg("otp request blocked")
		return *limited
	}

	m.metrics.OtpRequested(metrics.OtpIssued)
	log.Info().Str("phone", redact.Phone(phone)).Msg("otp issued")

	// The row is committed; delivery problems never undo it, and a client that
	// hangs up does not cancel the message.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
	defer cancel()
	if err := m.sender.Send(sendCtx, phone, code); err != nil {
		m.metrics.DeliveryFailed()
		log.Warn().Err(err).Str("phone", redact.Phone(phone)).Msg("otp delivery failed")
	}
	return nil
}

func (m *OTPManager) recordBlocked(ctx context.Context, tx repo.OtpTx, phone string, status model.OtpStatus, now time.Time) error {
	return tx.Insert(ctx, model.OtpRequest{
		ID:          uuid.New(),
		PhoneNumber: phone,
		OTPHash:     m.hasher.Hash(otpSecret(phone, blockedSecret)),
		ExpiresAt:   now,
		IsActive:    false,
		Status:      status,
		CreatedAt:   now,
	})
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	if oldest.IsZero() {
		return window
	}
	d := oldest.Add(window).Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d.Round(time.Second)
}

// VerifyCode checks code against the phone number's live code. A match consumes
// the code. Every outcome is final for the call; a wrong guess is counted and the
// code is deactivated once MaxAttempts guesses have been used.
func (m *OTPManager) VerifyCode(ctx context.Context, phone, code string) error {
	const op = "auth.OTPManager.VerifyCode"

	now := m.now()
	var result error

	err := m.otps.WithPhoneLock(ctx, phone, func(tx repo.OtpTx) error {
		req, err := tx.LatestIssued(ctx, phone)
		if errors.Is(err, repo.ErrNotFound) {
			result = ErrNoActiveCode
			return nil
		}
		if err != nil {
			return err
		}

		if !req.IsActive {
			// An exhausted code keeps reporting exhaustion until a new one is issued.
			if req.Attempts >= m.cfg.MaxAttempts {
				result = ErrAttemptsExhausted
			} else {
				result = ErrNoActiveCode
			}
			return nil
		}

		if now.After(req.ExpiresAt) {
			result = ErrExpired
			return tx.UpdateAttempt(ctx, req.ID, req.Attempts, false)
		}

		if req.Attempts >= m.cfg.MaxAttempts {
			result = ErrAttemptsExhausted
			return tx.UpdateAttempt(ctx, req.ID, req.Attempts, false)
		}

		if !m.hasher.Equal(m.hasher.Hash(otpSecret(phone, code)), req.OTPHash) {
			attempts := req.Attempts + 1
			result = ErrInvalidCode
			return tx.UpdateAttempt(ctx, req.ID, attempts, attempts < m.cfg.MaxAttempts)
		}

		return tx.UpdateAttempt(ctx, req.ID, req.Attempts, false)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.metrics.OtpVerified(verifyOutcome(result))
	if result != nil {
		zerolog.Ctx(ctx).Info().Str("phone", redact.Phone(phone)).Str("reason", result.Error()).Msg("otp verification failed")
	}
	return result
}

func verifyOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.VerifyOK
	case errors.Is(err, ErrNoActiveCode):
		return metrics.VerifyNoActiveCode
	case errors.Is(err, ErrExpired):
		return metrics.VerifyExpired
	case errors.Is(err, ErrAttemptsExhausted):
		return metrics.VerifyAttemptsExhausted
	default:
		return metrics.VerifyInvalidCode
	}
}
