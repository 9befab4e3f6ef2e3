package controllers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/middleware"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// CouponController handles manager-side coupon administration. All
// operations are scoped to the manager's own merchant.
type CouponController struct {
	engine *core.Engine
}

// NewCouponController creates the controller.
func NewCouponController(engine *core.Engine) *CouponController {
	return &CouponController{engine: engine}
}

type couponRequest struct {
	Code           string `json:"code" binding:"required"`
	Mode           string `json:"mode"`
	Type           string `json:"type" binding:"required"`
	Value          int64  `json:"value" binding:"required"`
	MaxUses        int    `json:"maxUses"`
	PerMemberLimit int    `json:"perMemberLimit"`
	StartsAtMs     int64  `json:"startsAt"`
	ExpiresAtMs    int64  `json:"expiresAt"`
	Notes          string `json:"notes"`
}

// Upsert creates or updates a coupon by code. The usage counter survives
// an update; only the terms change.
func (ctl *CouponController) Upsert(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Code, type and value are required", err))
		return
	}

	code := strings.TrimSpace(req.Code)
	if code == "" || len(code) > 40 {
		utils.Fail(c, utils.ValidationError("Coupon code must be 1-40 characters", nil))
		return
	}
	ctype := strings.ToUpper(req.Type)
	if ctype != models.CouponBonus && ctype != models.CouponDiscount {
		utils.Fail(c, utils.ValidationError("Type must be BONUS or DISCOUNT", nil))
		return
	}
	if req.Value <= 0 {
		utils.Fail(c, utils.ValidationError("Value must be positive", nil))
		return
	}
	mode := utils.NormalizeMode(req.Mode)
	if req.Mode != "" && mode == "" {
		utils.Fail(c, utils.ValidationError("Mode must be COLLECT or REDEEM", nil))
		return
	}
	if ctype == models.CouponBonus && mode == models.ModeRedeem {
		utils.Fail(c, utils.ValidationError("Bonus coupons apply only to collect transactions", nil))
		return
	}
	if ctype == models.CouponDiscount && mode == models.ModeCollect {
		utils.Fail(c, utils.ValidationError("Discount coupons apply only to redeem transactions", nil))
		return
	}
	if req.StartsAtMs > 0 && req.ExpiresAtMs > 0 && req.ExpiresAtMs <= req.StartsAtMs {
		utils.Fail(c, utils.ValidationError("Expiry must be after start", nil))
		return
	}

	merchantID := c.GetString(middleware.CtxMerchantID)

	var coupon models.Coupon
	err := ctl.engine.DB.Where("code = ?", code).First(&coupon).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		utils.Fail(c, err)
		return
	}
	if !created && coupon.MerchantID != merchantID {
		utils.Fail(c, utils.ScopeError("Coupon belongs to another merchant", nil))
		return
	}

	coupon.Code = code
	coupon.MerchantID = merchantID
	coupon.Mode = mode
	coupon.Type = ctype
	coupon.Value = req.Value
	coupon.MaxUses = req.MaxUses
	coupon.PerMemberLimit = req.PerMemberLimit
	coupon.StartsAtMs = req.StartsAtMs
	coupon.ExpiresAtMs = req.ExpiresAtMs
	coupon.Notes = utils.SanitizeString(req.Notes)
	if created {
		coupon.Active = true
	}

	if err := ctl.engine.DB.Save(&coupon).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("coupon_upsert", "code=%s merchant=%s by=%s", code, merchantID, c.GetString(middleware.CtxStaffName))
	if created {
		utils.Created(c, "Coupon created", coupon)
		return
	}
	utils.Success(c, "Coupon updated", coupon)
}

// List returns the merchant's coupons, newest first.
func (ctl *CouponController) List(c *gin.Context) {
	var coupons []models.Coupon
	err := ctl.engine.DB.Where("merchant_id = ?", c.GetString(middleware.CtxMerchantID)).
		Order("created_at DESC").Find(&coupons).Error
	if err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "Coupons", gin.H{"coupons": coupons, "count": len(coupons)})
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive toggles a coupon without touching its terms or counters.
func (ctl *CouponController) SetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Active flag is required", err))
		return
	}

	code := c.Param("code")
	var coupon models.Coupon
	err := ctl.engine.DB.Where("code = ?", code).First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Fail(c, utils.ValidationError("Unknown coupon code", nil))
		return
	}
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if coupon.MerchantID != c.GetString(middleware.CtxMerchantID) {
		utils.Fail(c, utils.ScopeError("Coupon belongs to another merchant", nil))
		return
	}

	if err := ctl.engine.DB.Model(&coupon).Update("active", *req.Active).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("coupon_set_active", "code=%s active=%v by=%s", code, *req.Active, c.GetString(middleware.CtxStaffName))
	utils.Success(c, "Coupon updated", gin.H{"code": code, "active": *req.Active})
}
