package models

import "time"

// Coupon is a fixed-value promotion scoped to one merchant. Codes are
// matched case-sensitively. An empty Mode applies to both modes.
type Coupon struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Code           string    `gorm:"uniqueIndex;not null" json:"code"`
	MerchantID     string    `gorm:"index;not null" json:"merchant_id"`
	Mode           string    `json:"mode"` // "", COLLECT or REDEEM
	Type           string    `json:"type"` // BONUS or DISCOUNT
	Value          int64     `json:"value"`
	MaxUses        int       `json:"max_uses"`         // 0 = unlimited
	UsedCount      int       `json:"used_count"`       // monotonic counter
	PerMemberLimit int       `json:"per_member_limit"` // 0 = unlimited
	StartsAtMs     int64     `json:"starts_at_ms"`     // 0 = no lower bound
	ExpiresAtMs    int64     `json:"expires_at_ms"`    // 0 = no upper bound
	Active         bool      `json:"active"`
	Notes          string    `json:"notes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Coupon type constants
const (
	CouponBonus    = "BONUS"
	CouponDiscount = "DISCOUNT"
)

// CouponUse is the append-only audit of each coupon application.
type CouponUse struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Code       string `gorm:"index" json:"code"`
	MemberID   string `gorm:"index" json:"member_id"`
	MerchantID string `json:"merchant_id"`
	AtMs       int64  `json:"at_ms"`
	Staff      string `json:"staff"`
	TxID       string `json:"tx_id"`
}
