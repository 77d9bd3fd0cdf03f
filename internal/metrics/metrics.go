package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "phonegate"

// OTP request outcomes.
const (
	OtpIssued        = "issued"
	OtpBlockedHourly = "blocked_hourly"
	OtpBlockedDaily  = "blocked_daily"
)

// OTP verification outcomes.
const (
	VerifyOK                = "ok"
	VerifyNoActiveCode      = "no_active_code"
	VerifyExpired           = "expired"
	VerifyAttemptsExhausted = "attempts_exhausted"
	VerifyInvalidCode       = "invalid_code"
)

// Session events.
const (
	SessionCreated       = "created"
	SessionRefreshed     = "refreshed"
	SessionRefreshDenied = "refresh_denied"
	SessionRevoked       = "revoked"
)

// Metrics holds the service counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	otpRequests      *prometheus.CounterVec
	otpVerifications *prometheus.CounterVec
	sessions         *prometheus.CounterVec
	deliveryFailures prometheus.Counter
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		otpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_requests_total",
			Help:      "OTP requests by outcome.",
		}, []string{"outcome"}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_verifications_total",
			Help:      "OTP verification attempts by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Refresh session lifecycle events.",
		}, []string{"event"}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_delivery_failures_total",
			Help:      "OTP codes the delivery sink failed to send.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.otpRequests, m.otpVerifications, m.sessions, m.deliveryFailures)
	}
	return m
}

func (m *Metrics) OtpRequested(outcome string) {
	if m == nil {
		return
	}
	m.otpRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) OtpVerified(outcome string) {
	if m == nil {
		return
	}
	m.otpVerifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(event).Inc()
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}
