// Package delivery contains the sinks that hand OTP codes to a phone.
package delivery

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/phonegate/server/internal/redact"
)

// LogSink writes codes to the log. Only for local development.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Send(_ context.Context, phone, code string) error {
	s.log.Warn().Str("phone", redact.Phone(phone)).Str("code", code).Msg("otp (log delivery, development only)")
	return nil
}
