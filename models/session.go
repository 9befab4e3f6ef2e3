package models

import "time"

// Session is an opaque server-side session handle with a sliding idle TTL.
// LastSeenMs is touched on every successful validation; the id itself is
// only rotated on privilege-sensitive events.
type Session struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SID        string    `gorm:"column:sid;uniqueIndex;not null" json:"sid"`
	Realm      string    `gorm:"index" json:"realm"` // member, staff, admin
	SubjectID  string    `gorm:"index" json:"subject_id"`
	LastSeenMs int64     `json:"last_seen_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// LockoutRecord tracks authentication failures for one realm-scoped key.
type LockoutRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Key           string    `gorm:"uniqueIndex;not null" json:"key"` // "<realm>:<identifier>"
	FailCount     int       `json:"fail_count"`
	LockUntilMs   int64     `json:"lock_until_ms"`
	FirstFailMs   int64     `json:"first_fail_ms"`
	TotalFails24h int       `json:"total_fails_24h"`
	Permanent     bool      `json:"permanent"`
	UpdatedAt     time.Time `json:"updated_at"`
}
