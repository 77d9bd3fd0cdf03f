package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	nats "github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// Message is the payload published for the SMS gateway.
type Message struct {
	PhoneNumber string    `json:"phone_number"`
	Code        string    `json:"code"`
	SentAt      time.Time `json:"sent_at"`
}

// NATSSink publishes codes to a subject consumed by an SMS gateway.
type NATSSink struct {
	pub          Publisher
	subject      string
	flushTimeout time.Duration
	now          func() time.Time
}

func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{
		pub:          pub,
		subject:      subject,
		flushTimeout: 3 * time.Second,
		now:          time.Now,
	}
}

// Send publishes and waits for the server to acknowledge the flush.
func (s *NATSSink) Send(ctx context.Context, phone, code string) error {
	data, err := json.Marshal(Message{PhoneNumber: phone, Code: code, SentAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("delivery.NATSSink: marshal: %w", err)
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("delivery.NATSSink: publish %s: %w", s.subject, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()
	if err := s.pub.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("delivery.NATSSink: flush: %w", err)
	}
	return nil
}

// Connect opens the NATS connection used by NATSSink.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("phonegate"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("delivery.Connect: %w", err)
	}
	return nc, nil
}
