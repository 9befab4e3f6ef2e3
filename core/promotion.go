package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// PromotionEngine evaluates coupons and multiplier campaigns against a
// transaction. Coupons are explicit member input, so every ineligibility
// is a typed error; campaigns apply automatically, so an ineligible
// campaign is a silent no-op.
type PromotionEngine struct {
	db  *gorm.DB
	now func() time.Time
}

// NewPromotionEngine creates an engine over the given database.
func NewPromotionEngine(db *gorm.DB) *PromotionEngine {
	return &PromotionEngine{db: db, now: time.Now}
}

// CouponResult is the outcome of a successful coupon evaluation.
type CouponResult struct {
	Coupon          models.Coupon
	EffectivePoints int64
}

// EvaluateCoupon checks a code against a transaction and returns the
// adjusted base points. Codes are case-sensitive. The caller records the
// use only after the whole transaction commits.
func (p *PromotionEngine) EvaluateCoupon(tx *gorm.DB, code, merchantID, memberID, mode string, base int64) (*CouponResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, utils.ValidationError("Coupon code is required", nil)
	}

	var coupon models.Coupon
	err := tx.Where("code = ?", code).First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ValidationError("Unknown coupon code", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}

	if coupon.MerchantID != merchantID {
		return nil, utils.ScopeError("Coupon not valid at this merchant", nil)
	}
	if !coupon.Active {
		return nil, utils.ValidationError("Coupon is not active", nil)
	}

	nowMs := p.now().UnixMilli()
	if coupon.StartsAtMs > 0 && nowMs < coupon.StartsAtMs {
		return nil, utils.ValidationError("Coupon is not active yet", nil)
	}
	if coupon.ExpiresAtMs > 0 && nowMs >= coupon.ExpiresAtMs {
		return nil, utils.ValidationError("Coupon has expired", nil)
	}
	if coupon.Mode != "" && coupon.Mode != mode {
		return nil, utils.ValidationError("Coupon does not apply to this transaction type", nil)
	}

	if coupon.MaxUses > 0 && coupon.UsedCount >= coupon.MaxUses {
		return nil, utils.CapExceededError("Coupon has reached its usage limit", nil)
	}
	if coupon.PerMemberLimit > 0 {
		var used int64
		err := tx.Model(&models.CouponUse{}).
			Where("code = ? AND member_id = ?", code, memberID).Count(&used).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count coupon uses: %w", err)
		}
		if used >= int64(coupon.PerMemberLimit) {
			return nil, utils.CapExceededError("Coupon already used the maximum number of times", nil)
		}
	}

	// The coupon type fixes which transaction side it may touch: a bonus
	// grants extra collected points, a discount reduces a deduction. Letting
	// either cross over would inflate a deduction or shrink an earn.
	effective := base
	switch coupon.Type {
	case models.CouponBonus:
		if mode != models.ModeCollect {
			return nil, utils.ValidationError("Bonus coupons apply only to collect transactions", nil)
		}
		effective = base + coupon.Value
	case models.CouponDiscount:
		if mode != models.ModeRedeem {
			return nil, utils.ValidationError("Discount coupons apply only to redeem transactions", nil)
		}
		effective = base - coupon.Value
		if effective < 0 {
			effective = 0
		}
	default:
		return nil, utils.ValidationError("Unknown coupon type", nil)
	}

	return &CouponResult{Coupon: coupon, EffectivePoints: effective}, nil
}

// RecordCouponUse appends the use row and bumps the global counter. Runs
// inside the submit transaction.
func (p *PromotionEngine) RecordCouponUse(tx *gorm.DB, coupon *models.Coupon, memberID, merchantID, staff, txID string) error {
	use := models.CouponUse{
		Code:       coupon.Code,
		MemberID:   memberID,
		MerchantID: merchantID,
		AtMs:       p.now().UnixMilli(),
		Staff:      staff,
		TxID:       txID,
	}
	if err := tx.Create(&use).Error; err != nil {
		return fmt.Errorf("failed to record coupon use: %w", err)
	}
	err := tx.Model(&models.Coupon{}).Where("code = ?", coupon.Code).
		Update("used_count", gorm.Expr("used_count + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to bump coupon counter: %w", err)
	}
	return nil
}

// ActiveCampaign picks the multiplier campaign currently in force for a
// merchant. Among overlapping windows the most recently updated one wins.
func (p *PromotionEngine) ActiveCampaign(tx *gorm.DB, merchantID string) (*models.Campaign, error) {
	nowMs := p.now().UnixMilli()
	var camp models.Campaign
	err := tx.Where(
		"merchant_id = ? AND active = ? AND type = ? AND starts_at_ms <= ? AND ends_at_ms > ?",
		merchantID, true, models.CampaignMultiplier, nowMs, nowMs,
	).Order("updated_at DESC").First(&camp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load campaigns: %w", err)
	}
	return &camp, nil
}

// CampaignResult is the outcome of a campaign that actually fired.
type CampaignResult struct {
	Campaign    models.Campaign
	BonusPoints int64
}

// EvaluateCampaign decides whether a campaign fires for this transaction
// and computes the bonus. Returns nil when the campaign doesn't apply;
// never an eligibility error. Only COLLECT earns a bonus.
func (p *PromotionEngine) EvaluateCampaign(tx *gorm.DB, camp *models.Campaign, memberID, mode string, effectiveBase int64) (*CampaignResult, error) {
	if camp == nil || mode != models.ModeCollect {
		return nil, nil
	}
	if camp.Multiplier <= 1 {
		return nil, nil
	}
	if camp.MinSpend > 0 && effectiveBase < camp.MinSpend {
		return nil, nil
	}

	if camp.MaxRedemptions > 0 {
		var total int64
		err := tx.Model(&models.CampaignRedemption{}).
			Where("campaign_id = ?", camp.CampaignID).Count(&total).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count redemptions: %w", err)
		}
		if total >= int64(camp.MaxRedemptions) {
			return nil, nil
		}
	}
	if camp.PerMemberRedemptions > 0 {
		var mine int64
		err := tx.Model(&models.CampaignRedemption{}).
			Where("campaign_id = ? AND member_id = ?", camp.CampaignID, memberID).Count(&mine).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count member redemptions: %w", err)
		}
		if mine >= int64(camp.PerMemberRedemptions) {
			return nil, nil
		}
	}
	if camp.BillingModel == models.BillingPerRedemption && camp.BudgetCap > 0 {
		var spent int64
		err := tx.Model(&models.CampaignRedemption{}).
			Where("campaign_id = ?", camp.CampaignID).
			Select("COALESCE(SUM(cost_accrued), 0)").Scan(&spent).Error
		if err != nil {
			return nil, fmt.Errorf("failed to sum campaign cost: %w", err)
		}
		if spent+camp.CostPerRedemption > camp.BudgetCap {
			return nil, nil
		}
	}

	bonus := int64(math.Floor(float64(effectiveBase) * (camp.Multiplier - 1)))
	if camp.PerMemberBonusCap > 0 {
		var earned int64
		err := tx.Model(&models.CampaignRedemption{}).
			Where("campaign_id = ? AND member_id = ?", camp.CampaignID, memberID).
			Select("COALESCE(SUM(bonus_points), 0)").Scan(&earned).Error
		if err != nil {
			return nil, fmt.Errorf("failed to sum member bonus: %w", err)
		}
		remaining := camp.PerMemberBonusCap - earned
		if remaining < 0 {
			remaining = 0
		}
		if bonus > remaining {
			bonus = remaining
		}
	}

	// A trimmed-to-zero bonus still counts as a redemption so the caps
	// and billing stay honest.
	return &CampaignResult{Campaign: *camp, BonusPoints: bonus}, nil
}

func newRedemptionID() string {
	return "CR-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:16])
}

// RecordRedemption appends the redemption row. Cost accrues only under
// per-redemption billing.
func (p *PromotionEngine) RecordRedemption(tx *gorm.DB, res *CampaignResult, memberID, merchantID, txID string, basePoints int64) error {
	cost := int64(0)
	if res.Campaign.BillingModel == models.BillingPerRedemption {
		cost = res.Campaign.CostPerRedemption
	}
	row := models.CampaignRedemption{
		RedemptionID: newRedemptionID(),
		CampaignID:   res.Campaign.CampaignID,
		MemberID:     memberID,
		MerchantID:   merchantID,
		TxID:         txID,
		AtMs:         p.now().UnixMilli(),
		BasePoints:   basePoints,
		Multiplier:   res.Campaign.Multiplier,
		BonusPoints:  res.BonusPoints,
		CostAccrued:  cost,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record campaign redemption: %w", err)
	}
	return nil
}
