package models

import "time"

// Balance is a member's point balance. Created lazily on first reference;
// only the ledger engine writes it.
type Balance struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MemberID  string    `gorm:"uniqueIndex;not null" json:"member_id"`
	Points    int64     `json:"points"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is one committed balance mutation. Append-only.
type Transaction struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	TxID       string `gorm:"uniqueIndex;not null" json:"tx_id"`
	MemberID   string `gorm:"index" json:"member_id"`
	MerchantID string `gorm:"index" json:"merchant_id"`
	Type       string `json:"type"` // COLLECT or REDEEM
	Points     int64  `json:"points"`
	AtMs       int64  `gorm:"index" json:"at_ms"`
	Staff      string `json:"staff"`
}

// Transaction mode constants
const (
	ModeCollect = "COLLECT"
	ModeRedeem  = "REDEEM"
)
