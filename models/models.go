package models

import (
	"time"

	"gorm.io/gorm"
)

// Credential holds the PBKDF2 material for a principal. It is embedded in
// the Member, Staff and Admin records; the pepper itself is never stored.
type Credential struct {
	Salt       string    `json:"-"`
	Hash       string    `json:"-"`
	Iterations int       `json:"-"`
	Algorithm  string    `json:"-"`
	Peppered   bool      `json:"-"`
	LegacyHash string    `json:"-"` // unsalted SHA-256 hex, pre-migration accounts only
	UpdatedAt  time.Time `json:"-" gorm:"column:credential_updated_at"`
}

// HasModernRecord reports whether the credential carries the salted fields.
func (c *Credential) HasModernRecord() bool {
	return c.Algorithm != "" && c.Salt != "" && c.Hash != "" && c.Iterations > 0
}

// Member represents a loyalty program member.
type Member struct {
	gorm.Model
	Email      string     `gorm:"uniqueIndex;not null" json:"email"`
	MemberID   string     `gorm:"uniqueIndex;not null" json:"member_id"` // MBR-XXXXXXXX
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	PhoneE164  string     `json:"phone"`
	City       string     `json:"city"`
	Country    string     `json:"country"`
	Language   string     `json:"language"`
	IsVerified bool       `json:"is_verified" gorm:"default:false"`
	IsBlocked  bool       `json:"is_blocked"`
	Credential Credential `gorm:"embedded" json:"-"`
}

// Staff represents a merchant till operator or manager.
type Staff struct {
	gorm.Model
	Username      string     `gorm:"uniqueIndex;not null" json:"username"`
	MerchantID    string     `gorm:"index;not null" json:"merchant_id"`
	Role          string     `json:"role"` // "staff" or "manager"
	Active        bool       `json:"active" gorm:"default:true"`
	MustChangePin bool       `json:"must_change_pin"`
	Credential    Credential `gorm:"embedded" json:"-"`
}

// Staff role constants
const (
	RoleStaff   = "staff"
	RoleManager = "manager"
)

// Admin represents a platform administrator.
type Admin struct {
	gorm.Model
	Email      string     `gorm:"uniqueIndex;not null" json:"email"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	IsActive   bool       `json:"is_active" gorm:"default:true"`
	LastLogin  time.Time  `json:"last_login"`
	Credential Credential `gorm:"embedded" json:"-"`
}

// Merchant represents a participating merchant.
type Merchant struct {
	gorm.Model
	MerchantID string `gorm:"uniqueIndex;not null" json:"merchant_id"`
	Name       string `json:"name"`
	Active     bool   `json:"active" gorm:"default:true"`
	Secret     string `json:"-"`
}

// AuditEvent is an append-only telemetry row.
type AuditEvent struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	AtMs    int64  `gorm:"index" json:"at_ms"`
	Type    string `gorm:"index" json:"type"`
	Message string `json:"message"`
}
