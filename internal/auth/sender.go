package auth

import "context"

//go:generate mockgen -source=sender.go -destination=mocks/mock_sender.go -package=mocks

// Sender delivers a plaintext OTP to a phone number (SMS gateway or equivalent).
// Delivery is best-effort: errors are logged by the caller and never undo the issued code.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}
