package models

import "time"

// Campaign is a time-boxed multiplier bonus scoped to one merchant.
// At most one campaign is selected per merchant at a given instant; when
// several overlap, the most recently updated one wins.
type Campaign struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	CampaignID           string    `gorm:"uniqueIndex;not null" json:"campaign_id"`
	MerchantID           string    `gorm:"index;not null" json:"merchant_id"`
	Title                string    `json:"title"`
	Type                 string    `json:"type"` // only "multiplier" participates
	Multiplier           float64   `json:"multiplier"`
	StartsAtMs           int64     `json:"starts_at_ms"`
	EndsAtMs             int64     `json:"ends_at_ms"`
	MinSpend             int64     `json:"min_spend"`
	MaxRedemptions       int       `json:"max_redemptions"`        // global cap, 0 = unlimited
	PerMemberRedemptions int       `json:"per_member_redemptions"` // 0 = unlimited
	PerMemberBonusCap    int64     `json:"per_member_bonus_cap"`   // points, 0 = unlimited
	BudgetCap            int64     `json:"budget_cap"`             // accrued cost, 0 = unlimited
	BillingModel         string    `json:"billing_model"`          // per_redemption or flat
	CostPerRedemption    int64     `json:"cost_per_redemption"`
	Active               bool      `json:"active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Campaign type and billing constants
const (
	CampaignMultiplier   = "multiplier"
	BillingPerRedemption = "per_redemption"
	BillingFlat          = "flat"
)

// CampaignRedemption is the append-only audit/billing record of one
// campaign application. BonusPoints may be 0 when a cap trimmed it.
type CampaignRedemption struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	RedemptionID string  `gorm:"uniqueIndex;not null" json:"redemption_id"`
	CampaignID   string  `gorm:"index" json:"campaign_id"`
	MemberID     string  `gorm:"index" json:"member_id"`
	MerchantID   string  `json:"merchant_id"`
	TxID         string  `json:"tx_id"`
	AtMs         int64   `json:"at_ms"`
	BasePoints   int64   `json:"base_points"`
	Multiplier   float64 `json:"multiplier"`
	BonusPoints  int64   `json:"bonus_points"`
	CostAccrued  int64   `json:"cost_accrued"`
}
