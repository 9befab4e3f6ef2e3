package controllers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/middleware"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// CampaignController handles manager-side campaign administration.
type CampaignController struct {
	engine *core.Engine
}

// NewCampaignController creates the controller.
func NewCampaignController(engine *core.Engine) *CampaignController {
	return &CampaignController{engine: engine}
}

type campaignRequest struct {
	Title                string  `json:"title" binding:"required"`
	Multiplier           float64 `json:"multiplier" binding:"required"`
	StartsAtMs           int64   `json:"startsAt" binding:"required"`
	EndsAtMs             int64   `json:"endsAt" binding:"required"`
	MinSpend             int64   `json:"minSpend"`
	MaxRedemptions       int     `json:"maxRedemptions"`
	PerMemberRedemptions int     `json:"perMemberRedemptions"`
	PerMemberBonusCap    int64   `json:"perMemberBonusCap"`
	BudgetCap            int64   `json:"budgetCap"`
	BillingModel         string  `json:"billingModel"`
	CostPerRedemption    int64   `json:"costPerRedemption"`
}

func newCampaignID() string {
	return "CMP-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
}

// Create starts a new multiplier campaign for the manager's merchant.
func (ctl *CampaignController) Create(c *gin.Context) {
	var req campaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Title, multiplier and window are required", err))
		return
	}
	if req.Multiplier <= 1 {
		utils.Fail(c, utils.ValidationError("Multiplier must be greater than 1", nil))
		return
	}
	if req.EndsAtMs <= req.StartsAtMs {
		utils.Fail(c, utils.ValidationError("End must be after start", nil))
		return
	}

	billing := strings.ToLower(strings.TrimSpace(req.BillingModel))
	if billing == "" {
		billing = models.BillingFlat
	}
	if billing != models.BillingFlat && billing != models.BillingPerRedemption {
		utils.Fail(c, utils.ValidationError("Billing model must be flat or per_redemption", nil))
		return
	}
	if billing == models.BillingPerRedemption && req.CostPerRedemption <= 0 {
		utils.Fail(c, utils.ValidationError("Per-redemption billing needs a positive cost", nil))
		return
	}

	campaign := models.Campaign{
		CampaignID:           newCampaignID(),
		MerchantID:           c.GetString(middleware.CtxMerchantID),
		Title:                utils.SanitizeString(req.Title),
		Type:                 models.CampaignMultiplier,
		Multiplier:           req.Multiplier,
		StartsAtMs:           req.StartsAtMs,
		EndsAtMs:             req.EndsAtMs,
		MinSpend:             req.MinSpend,
		MaxRedemptions:       req.MaxRedemptions,
		PerMemberRedemptions: req.PerMemberRedemptions,
		PerMemberBonusCap:    req.PerMemberBonusCap,
		BudgetCap:            req.BudgetCap,
		BillingModel:         billing,
		CostPerRedemption:    req.CostPerRedemption,
		Active:               true,
	}
	if err := ctl.engine.DB.Create(&campaign).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("campaign_create", "campaign=%s merchant=%s by=%s",
		campaign.CampaignID, campaign.MerchantID, c.GetString(middleware.CtxStaffName))
	utils.Created(c, "Campaign created", campaign)
}

// List returns the merchant's campaigns with their accrued usage.
func (ctl *CampaignController) List(c *gin.Context) {
	merchantID := c.GetString(middleware.CtxMerchantID)

	var campaigns []models.Campaign
	err := ctl.engine.DB.Where("merchant_id = ?", merchantID).
		Order("created_at DESC").Find(&campaigns).Error
	if err != nil {
		utils.Fail(c, err)
		return
	}

	type campaignView struct {
		models.Campaign
		Redemptions int64 `json:"redemptions"`
		CostSpent   int64 `json:"cost_spent"`
	}
	views := make([]campaignView, 0, len(campaigns))
	for _, campaign := range campaigns {
		var count, spent int64
		ctl.engine.DB.Model(&models.CampaignRedemption{}).
			Where("campaign_id = ?", campaign.CampaignID).Count(&count)
		ctl.engine.DB.Model(&models.CampaignRedemption{}).
			Where("campaign_id = ?", campaign.CampaignID).
			Select("COALESCE(SUM(cost_accrued), 0)").Scan(&spent)
		views = append(views, campaignView{Campaign: campaign, Redemptions: count, CostSpent: spent})
	}

	utils.Success(c, "Campaigns", gin.H{"campaigns": views, "count": len(views)})
}

// SetActive toggles a campaign.
func (ctl *CampaignController) SetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Active flag is required", err))
		return
	}

	campaignID := c.Param("id")
	var campaign models.Campaign
	err := ctl.engine.DB.Where("campaign_id = ?", campaignID).First(&campaign).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Fail(c, utils.ValidationError("Unknown campaign", nil))
		return
	}
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if campaign.MerchantID != c.GetString(middleware.CtxMerchantID) {
		utils.Fail(c, utils.ScopeError("Campaign belongs to another merchant", nil))
		return
	}

	if err := ctl.engine.DB.Model(&campaign).Update("active", *req.Active).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("campaign_set_active", "campaign=%s active=%v by=%s",
		campaignID, *req.Active, c.GetString(middleware.CtxStaffName))
	utils.Success(c, "Campaign updated", gin.H{"campaignId": campaignID, "active": *req.Active})
}
