package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User is the identity keyed by a normalized phone number.
type User struct {
	ID                          uuid.UUID
	PhoneNumber                 string
	IsActive                    bool
	IsBasicRegistrationComplete bool
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// UpsertOutcome tells which path FindOrCreateByPhone took.
type UpsertOutcome int

const (
	// IdentityFound means the phone number already had an identity.
	IdentityFound UpsertOutcome = iota + 1
	// IdentityCreated means a new identity was inserted by this call.
	IdentityCreated
)

func (o UpsertOutcome) String() string {
	switch o {
	case IdentityFound:
		return "found"
	case IdentityCreated:
		return "created"
	default:
		return "unknown"
	}
}

// Profile holds the basic registration data of a user.
type Profile struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	FullName    string
	DateOfBirth time.Time
	Email       string
	Location    json.RawMessage
}

// OtpStatus is the audit tag stored on every OTP request row.
type OtpStatus string

const (
	OtpStatusOK            OtpStatus = "OK"
	OtpStatusBlockedHourly OtpStatus = "BLOCKED_HOURLY"
	OtpStatusBlockedDaily  OtpStatus = "BLOCKED_DAILY"
)

// OtpRequest is one issued or attempted code. Rows are never deleted.
type OtpRequest struct {
	ID          uuid.UUID
	PhoneNumber string
	OTPHash     string
	ExpiresAt   time.Time
	Attempts    int
	IsActive    bool
	Status      OtpStatus
	CreatedAt   time.Time
}

// Session backs one refresh secret. Only the hash of the secret is stored.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	RefreshTokenHash string
	RefreshExpiresAt time.Time
	IsRevoked        bool
	CreatedAt        time.Time
	RevokedAt        *time.Time
}
