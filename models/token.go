package models

import "time"

// LinkToken is a one-time deep-link token handed from a member's device to
// a merchant till. Consumed flips exactly once, on first resolution.
type LinkToken struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Token       string    `gorm:"uniqueIndex;not null" json:"token"` // LT-xxxxxxxxxxxxxxxxxxxx
	MemberID    string    `gorm:"index" json:"member_id"`
	Mode        string    `json:"mode"` // "", COLLECT or REDEEM
	ExpiresAtMs int64     `json:"expires_at_ms"`
	Consumed    bool      `json:"consumed"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResetToken is a one-time PIN reset token delivered by email.
type ResetToken struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Token        string    `gorm:"uniqueIndex;not null" json:"token"`
	Email        string    `gorm:"index" json:"email"`
	ExpiresAtMs  int64     `json:"expires_at_ms"`
	Used         bool      `json:"used"`
	VerifiedAtMs int64     `json:"verified_at_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// PendingRegistration stages a signup until its OTP is verified.
type PendingRegistration struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	PendingID      string    `gorm:"uniqueIndex;not null" json:"pending_id"`
	Status         string    `json:"status"` // pending, completed
	Email          string    `gorm:"index" json:"email"`
	PhoneE164      string    `json:"phone"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	City           string    `json:"city"`
	Country        string    `json:"country"`
	Language       string    `json:"language"`
	OTP            string    `json:"-"`
	OtpExpiresAtMs int64     `json:"otp_expires_at_ms"`
	// The PIN is derived up front; the record is copied onto the member row
	// when the OTP verifies, so the plaintext never persists.
	Credential    Credential `gorm:"embedded" json:"-"`
	MemberID      string     `json:"member_id"`
	CompletedAtMs int64      `json:"completed_at_ms"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Registration status constants
const (
	RegistrationPending   = "pending"
	RegistrationCompleted = "completed"
)
