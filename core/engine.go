package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/config"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// Engine wires the loyalty components together and runs the submit flow.
// Controllers reach individual components through the exported fields.
type Engine struct {
	DB       *gorm.DB
	Vault    *CredentialVault
	Lockouts *LockoutGuard
	Sessions *SessionManager
	Tokens   *TokenAuthority
	Stage    *StageCache
	Ledger   *LedgerEngine
	Promos   *PromotionEngine
	Audit    *Auditor

	scopeLocks *keyedMutex
	now        func() time.Time
}

// NewEngine builds the full component graph from config.
func NewEngine(db *gorm.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:       db,
		Vault:    NewCredentialVault(cfg.PinIterations, cfg.PinPepper),
		Lockouts: NewLockoutGuard(db, cfg.LockRules),
		Sessions: NewSessionManager(db, cfg.SessionIdleTTL),
		Tokens: NewTokenAuthority(db, cfg.QRSigningKey,
			cfg.QRTokenTTL, cfg.LinkTokenTTL, cfg.MerchantAppBaseURL),
		Stage:      NewStageCache(cfg.StageTTL),
		Ledger:     NewLedgerEngine(db),
		Promos:     NewPromotionEngine(db),
		Audit:      NewAuditor(db),
		scopeLocks: newKeyedMutex(),
		now:        time.Now,
	}
}

// SubmitRequest is one till-side points transaction.
type SubmitRequest struct {
	MerchantID string
	Staff      string
	MemberID   string
	Mode       string
	Points     int64
	CouponCode string
}

// SubmitResult reports everything the till needs to print.
type SubmitResult struct {
	TxID            string           `json:"txId"`
	MemberID        string           `json:"memberId"`
	Mode            string           `json:"mode"`
	BasePoints      int64            `json:"basePoints"`
	EffectivePoints int64            `json:"effectivePoints"`
	BonusPoints     int64            `json:"bonusPoints"`
	NewBalance      int64            `json:"newBalance"`
	AppliedCoupon   *AppliedCoupon   `json:"appliedCoupon,omitempty"`
	AppliedCampaign *AppliedCampaign `json:"appliedCampaign,omitempty"`
}

// AppliedCoupon summarizes the coupon adjustment on a receipt.
type AppliedCoupon struct {
	Code       string `json:"code"`
	Type       string `json:"type"`
	Value      int64  `json:"value"`
	Adjustment int64  `json:"adjustment"`
}

// AppliedCampaign summarizes the campaign bonus on a receipt.
type AppliedCampaign struct {
	CampaignID  string  `json:"campaignId"`
	Title       string  `json:"title"`
	Multiplier  float64 `json:"multiplier"`
	BonusPoints int64   `json:"bonusPoints"`
}

// SubmitTransaction runs the whole flow for one scan at the till: coupon,
// then campaign, then the balance mutation and its side tables, all in one
// database transaction. The merchant scope lock is taken before the member
// lock; every caller orders the two locks the same way.
func (e *Engine) SubmitTransaction(req SubmitRequest) (*SubmitResult, error) {
	memberID := utils.NormalizeMemberID(req.MemberID)
	if !utils.ValidateMemberID(memberID) {
		return nil, utils.ValidationError("Invalid member id", nil)
	}
	mode := utils.NormalizeMode(req.Mode)
	if mode == "" {
		return nil, utils.ValidationError("Mode must be COLLECT or REDEEM", nil)
	}
	if req.Points <= 0 {
		return nil, utils.ValidationError("Points must be a positive whole number", nil)
	}
	if req.MerchantID == "" {
		return nil, utils.ScopeError("Missing merchant scope", nil)
	}

	var member models.Member
	err := e.DB.Where("member_id = ?", memberID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ValidationError("Unknown member", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load member: %w", err)
	}
	if member.IsBlocked {
		return nil, utils.ScopeError("Member account is blocked", nil)
	}

	unlockScope := e.scopeLocks.Lock(req.MerchantID)
	defer unlockScope()
	unlockMember := e.Ledger.LockMember(memberID)
	defer unlockMember()

	var result SubmitResult
	err = e.DB.Transaction(func(tx *gorm.DB) error {
		base := req.Points
		effective := base

		var couponRes *CouponResult
		if strings.TrimSpace(req.CouponCode) != "" {
			var err error
			couponRes, err = e.Promos.EvaluateCoupon(tx, req.CouponCode, req.MerchantID, memberID, mode, base)
			if err != nil {
				return err
			}
			effective = couponRes.EffectivePoints
		}

		var campaignRes *CampaignResult
		if mode == models.ModeCollect {
			camp, err := e.Promos.ActiveCampaign(tx, req.MerchantID)
			if err != nil {
				return err
			}
			campaignRes, err = e.Promos.EvaluateCampaign(tx, camp, memberID, mode, effective)
			if err != nil {
				return err
			}
		}

		delta := effective
		if campaignRes != nil {
			delta += campaignRes.BonusPoints
		}
		if mode == models.ModeRedeem {
			delta = -effective
		}

		balance, row, err := e.Ledger.Mutate(tx, memberID, req.MerchantID, mode, delta, req.Staff)
		if err != nil {
			return err
		}

		if couponRes != nil {
			if err := e.Promos.RecordCouponUse(tx, &couponRes.Coupon, memberID, req.MerchantID, req.Staff, row.TxID); err != nil {
				return err
			}
		}
		if campaignRes != nil {
			if err := e.Promos.RecordRedemption(tx, campaignRes, memberID, req.MerchantID, row.TxID, effective); err != nil {
				return err
			}
		}

		result = SubmitResult{
			TxID:            row.TxID,
			MemberID:        memberID,
			Mode:            mode,
			BasePoints:      base,
			EffectivePoints: effective,
			NewBalance:      balance,
		}
		if couponRes != nil {
			result.AppliedCoupon = &AppliedCoupon{
				Code:       couponRes.Coupon.Code,
				Type:       couponRes.Coupon.Type,
				Value:      couponRes.Coupon.Value,
				Adjustment: effective - base,
			}
		}
		if campaignRes != nil {
			result.BonusPoints = campaignRes.BonusPoints
			result.AppliedCampaign = &AppliedCampaign{
				CampaignID:  campaignRes.Campaign.CampaignID,
				Title:       campaignRes.Campaign.Title,
				Multiplier:  campaignRes.Campaign.Multiplier,
				BonusPoints: campaignRes.BonusPoints,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.TransactionsTotal.WithLabelValues(req.MerchantID, mode).Inc()
	e.Audit.Emit("transaction",
		"%s %d pts member=%s merchant=%s staff=%s tx=%s",
		mode, req.Points, memberID, req.MerchantID, req.Staff, result.TxID)

	return &result, nil
}
