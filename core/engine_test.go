package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine := NewEngine(newTestDB(t), testConfig())

	require.NoError(t, engine.DB.Create(&models.Merchant{
		MerchantID: "M-1", Name: "Cafe One", Active: true,
	}).Error)
	require.NoError(t, engine.DB.Create(&models.Member{
		Email: "a@b.com", MemberID: "MBR-AAAA1111", IsVerified: true,
	}).Error)
	require.NoError(t, engine.DB.Create(&models.Member{
		Email: "c@d.com", MemberID: "MBR-BBBB2222", IsVerified: true,
	}).Error)
	return engine
}

func submit(e *Engine, memberID, mode string, points int64, coupon string) (*SubmitResult, error) {
	return e.SubmitTransaction(SubmitRequest{
		MerchantID: "M-1",
		Staff:      "till1",
		MemberID:   memberID,
		Mode:       mode,
		Points:     points,
		CouponCode: coupon,
	})
}

func windowCampaign(mult float64, tweak func(*models.Campaign)) *models.Campaign {
	now := time.Now()
	campaign := &models.Campaign{
		CampaignID:   "CMP-TEST0001",
		MerchantID:   "M-1",
		Title:        "Double points",
		Type:         models.CampaignMultiplier,
		Multiplier:   mult,
		StartsAtMs:   now.Add(-time.Hour).UnixMilli(),
		EndsAtMs:     now.Add(time.Hour).UnixMilli(),
		BillingModel: models.BillingFlat,
		Active:       true,
	}
	if tweak != nil {
		tweak(campaign)
	}
	return campaign
}

func TestSubmitCollect(t *testing.T) {
	engine := newTestEngine(t)

	res, err := submit(engine, "MBR-AAAA1111", "collect", 100, "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.BasePoints)
	assert.Equal(t, int64(100), res.EffectivePoints)
	assert.Zero(t, res.BonusPoints)
	assert.Equal(t, int64(100), res.NewBalance)
	assert.NotEmpty(t, res.TxID)

	var rows []models.Transaction
	require.NoError(t, engine.DB.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ModeCollect, rows[0].Type)
	assert.Equal(t, int64(100), rows[0].Points)
	assert.Equal(t, "till1", rows[0].Staff)
}

func TestSubmitRedeemInsufficient(t *testing.T) {
	engine := newTestEngine(t)

	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 50, "")
	require.NoError(t, err)

	_, err = submit(engine, "MBR-AAAA1111", models.ModeRedeem, 100, "")
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonInsufficientFunds))

	// Nothing was written by the failed attempt.
	balance, err := engine.Ledger.Balance("MBR-AAAA1111")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
	var count int64
	engine.DB.Model(&models.Transaction{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestSubmitRedeem(t *testing.T) {
	engine := newTestEngine(t)

	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)
	res, err := submit(engine, "MBR-AAAA1111", models.ModeRedeem, 40, "")
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.NewBalance)

	// The redeem row carries a negative delta.
	var row models.Transaction
	require.NoError(t, engine.DB.Where("type = ?", models.ModeRedeem).First(&row).Error)
	assert.Equal(t, int64(-40), row.Points)
}

func TestSubmitValidation(t *testing.T) {
	engine := newTestEngine(t)

	_, err := submit(engine, "MBR-AAAA1111", "SPEND", 10, "")
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))

	_, err = submit(engine, "MBR-AAAA1111", models.ModeCollect, 0, "")
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))

	_, err = submit(engine, "MBR-ZZZZ9999", models.ModeCollect, 10, "")
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))

	_, err = submit(engine, "bogus", models.ModeCollect, 10, "")
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))
}

func TestSubmitBlockedMember(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Model(&models.Member{}).
		Where("member_id = ?", "MBR-AAAA1111").Update("is_blocked", true).Error)

	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "")
	assert.True(t, utils.HasReason(err, utils.ReasonScope))
}

func TestCouponBonus(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "WELCOME10", MerchantID: "M-1", Type: models.CouponBonus,
		Value: 10, Active: true,
	}).Error)

	res, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "WELCOME10")
	require.NoError(t, err)
	assert.Equal(t, int64(110), res.EffectivePoints)
	assert.Equal(t, int64(110), res.NewBalance)
	require.NotNil(t, res.AppliedCoupon)
	assert.Equal(t, int64(10), res.AppliedCoupon.Adjustment)

	var coupon models.Coupon
	require.NoError(t, engine.DB.Where("code = ?", "WELCOME10").First(&coupon).Error)
	assert.Equal(t, 1, coupon.UsedCount)

	var use models.CouponUse
	require.NoError(t, engine.DB.Where("code = ?", "WELCOME10").First(&use).Error)
	assert.Equal(t, "MBR-AAAA1111", use.MemberID)
	assert.Equal(t, res.TxID, use.TxID)
}

func TestCouponDiscount(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "OFF10", MerchantID: "M-1", Type: models.CouponDiscount,
		Value: 10, Active: true,
	}).Error)
	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)

	// The discount shrinks the deduction: redeem 30 costs 20.
	res, err := submit(engine, "MBR-AAAA1111", models.ModeRedeem, 30, "OFF10")
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.EffectivePoints)
	assert.Equal(t, int64(80), res.NewBalance)
}

func TestCouponDiscountFloorsAtZero(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "OFF10", MerchantID: "M-1", Type: models.CouponDiscount,
		Value: 10, Active: true,
	}).Error)
	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)

	res, err := submit(engine, "MBR-AAAA1111", models.ModeRedeem, 5, "OFF10")
	require.NoError(t, err)
	assert.Zero(t, res.EffectivePoints)
	assert.Equal(t, int64(100), res.NewBalance)
}

func TestCouponTypeModeLegality(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "BONUSANY", MerchantID: "M-1", Type: models.CouponBonus,
		Value: 50, Active: true,
	}).Error)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "OFFANY", MerchantID: "M-1", Type: models.CouponDiscount,
		Value: 50, Active: true,
	}).Error)
	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)

	// A bonus on a redeem would inflate the deduction; refused.
	_, err = submit(engine, "MBR-AAAA1111", models.ModeRedeem, 100, "BONUSANY")
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))

	// A discount on a collect would shrink the earn; refused.
	_, err = submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "OFFANY")
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))

	// Neither attempt moved the balance or wrote a use.
	balance, err := engine.Ledger.Balance("MBR-AAAA1111")
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
	var uses int64
	engine.DB.Model(&models.CouponUse{}).Count(&uses)
	assert.Zero(t, uses)
}

func TestCouponPerMemberLimit(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "ONCE", MerchantID: "M-1", Type: models.CouponBonus,
		Value: 5, PerMemberLimit: 1, Active: true,
	}).Error)

	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "ONCE")
	require.NoError(t, err)

	_, err = submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "ONCE")
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonCapExceeded))

	// A different member can still use it.
	_, err = submit(engine, "MBR-BBBB2222", models.ModeCollect, 10, "ONCE")
	require.NoError(t, err)

	// The failed attempt wrote nothing.
	balance, err := engine.Ledger.Balance("MBR-AAAA1111")
	require.NoError(t, err)
	assert.Equal(t, int64(15), balance)
}

func TestCouponGlobalCap(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "LIMITED", MerchantID: "M-1", Type: models.CouponBonus,
		Value: 5, MaxUses: 1, Active: true,
	}).Error)

	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "LIMITED")
	require.NoError(t, err)
	_, err = submit(engine, "MBR-BBBB2222", models.ModeCollect, 10, "LIMITED")
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonCapExceeded))
}

func TestCouponScopeAndState(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "OTHER", MerchantID: "M-2", Type: models.CouponBonus,
		Value: 5, Active: true,
	}).Error)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "PAUSED", MerchantID: "M-1", Type: models.CouponBonus,
		Value: 5, Active: false,
	}).Error)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "REDEEMONLY", MerchantID: "M-1", Type: models.CouponDiscount,
		Value: 5, Mode: models.ModeRedeem, Active: true,
	}).Error)

	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "OTHER")
	assert.True(t, utils.HasReason(err, utils.ReasonScope))

	// The inactive flag survives the insert as written.
	var paused models.Coupon
	require.NoError(t, engine.DB.Where("code = ?", "PAUSED").First(&paused).Error)
	assert.False(t, paused.Active)

	_, err = submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "PAUSED")
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))

	_, err = submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "REDEEMONLY")
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))

	_, err = submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "NOSUCH")
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))
}

func TestCampaignMultiplier(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(windowCampaign(2, nil)).Error)

	res, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.BonusPoints)
	assert.Equal(t, int64(200), res.NewBalance)
	require.NotNil(t, res.AppliedCampaign)
	assert.Equal(t, 2.0, res.AppliedCampaign.Multiplier)

	var redemption models.CampaignRedemption
	require.NoError(t, engine.DB.First(&redemption).Error)
	assert.Equal(t, int64(100), redemption.BasePoints)
	assert.Equal(t, int64(100), redemption.BonusPoints)
	assert.Equal(t, res.TxID, redemption.TxID)
	assert.Zero(t, redemption.CostAccrued)
}

func TestCampaignBonusFloors(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(windowCampaign(1.5, nil)).Error)

	// floor(25 * 0.5) = 12
	res, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 25, "")
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.BonusPoints)
}

func TestCampaignMinSpendAndCap(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(windowCampaign(2, func(c *models.Campaign) {
		c.MinSpend = 50
		c.PerMemberBonusCap = 20
	})).Error)

	// Below min spend: no campaign at all.
	res, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 40, "")
	require.NoError(t, err)
	assert.Zero(t, res.BonusPoints)
	assert.Nil(t, res.AppliedCampaign)

	// Raw bonus 100 is trimmed to the per-member cap.
	res, err = submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.BonusPoints)
	assert.Equal(t, int64(160), res.NewBalance)

	// The cap is spent; the next bonus is trimmed to zero but the
	// redemption is still recorded.
	res, err = submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)
	assert.Zero(t, res.BonusPoints)
	require.NotNil(t, res.AppliedCampaign)

	var count int64
	engine.DB.Model(&models.CampaignRedemption{}).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestCampaignNotOnRedeem(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(windowCampaign(2, nil)).Error)

	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)

	res, err := submit(engine, "MBR-AAAA1111", models.ModeRedeem, 50, "")
	require.NoError(t, err)
	assert.Nil(t, res.AppliedCampaign)
	assert.Equal(t, int64(150), res.NewBalance)
}

func TestCampaignBudgetCap(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(windowCampaign(2, func(c *models.Campaign) {
		c.BillingModel = models.BillingPerRedemption
		c.CostPerRedemption = 10
		c.BudgetCap = 10
	})).Error)

	// First redemption accrues the whole budget.
	res, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.BonusPoints)

	var redemption models.CampaignRedemption
	require.NoError(t, engine.DB.First(&redemption).Error)
	assert.Equal(t, int64(10), redemption.CostAccrued)

	// Budget exhausted: the campaign silently stops firing.
	res, err = submit(engine, "MBR-BBBB2222", models.ModeCollect, 100, "")
	require.NoError(t, err)
	assert.Zero(t, res.BonusPoints)
	assert.Nil(t, res.AppliedCampaign)
}

func TestCampaignPerMemberRedemptions(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(windowCampaign(2, func(c *models.Campaign) {
		c.PerMemberRedemptions = 1
	})).Error)

	res, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.BonusPoints)

	res, err = submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "")
	require.NoError(t, err)
	assert.Zero(t, res.BonusPoints)

	res, err = submit(engine, "MBR-BBBB2222", models.ModeCollect, 10, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.BonusPoints)
}

func TestCampaignTieBreak(t *testing.T) {
	engine := newTestEngine(t)

	older := windowCampaign(2, func(c *models.Campaign) { c.CampaignID = "CMP-OLD" })
	newer := windowCampaign(3, func(c *models.Campaign) { c.CampaignID = "CMP-NEW" })
	require.NoError(t, engine.DB.Create(older).Error)
	require.NoError(t, engine.DB.Create(newer).Error)

	// Touch the older one so it becomes the most recently updated.
	require.NoError(t, engine.DB.Model(older).
		Update("updated_at", time.Now().Add(time.Minute)).Error)

	camp, err := engine.Promos.ActiveCampaign(engine.DB, "M-1")
	require.NoError(t, err)
	require.NotNil(t, camp)
	assert.Equal(t, "CMP-OLD", camp.CampaignID)
}

func TestCampaignWindow(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(windowCampaign(2, func(c *models.Campaign) {
		c.StartsAtMs = time.Now().Add(time.Hour).UnixMilli()
		c.EndsAtMs = time.Now().Add(2 * time.Hour).UnixMilli()
	})).Error)

	camp, err := engine.Promos.ActiveCampaign(engine.DB, "M-1")
	require.NoError(t, err)
	assert.Nil(t, camp)
}

func TestCampaignInactive(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(windowCampaign(2, func(c *models.Campaign) {
		c.Active = false
	})).Error)

	camp, err := engine.Promos.ActiveCampaign(engine.DB, "M-1")
	require.NoError(t, err)
	assert.Nil(t, camp)

	res, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)
	assert.Zero(t, res.BonusPoints)
}

func TestCouponAndCampaignStack(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.DB.Create(&models.Coupon{
		Code: "WELCOME10", MerchantID: "M-1", Type: models.CouponBonus,
		Value: 10, Active: true,
	}).Error)
	require.NoError(t, engine.DB.Create(windowCampaign(2, nil)).Error)

	// The campaign multiplies the coupon-adjusted base: (100+10)*2 = 220.
	res, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "WELCOME10")
	require.NoError(t, err)
	assert.Equal(t, int64(110), res.EffectivePoints)
	assert.Equal(t, int64(110), res.BonusPoints)
	assert.Equal(t, int64(220), res.NewBalance)

	var redemption models.CampaignRedemption
	require.NoError(t, engine.DB.First(&redemption).Error)
	assert.Equal(t, int64(110), redemption.BasePoints)
}

func TestSubmitConcurrentRedeems(t *testing.T) {
	engine := newTestEngine(t)
	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 100, "")
	require.NoError(t, err)

	// Two concurrent 60-point redeems: exactly one can succeed.
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := submit(engine, "MBR-AAAA1111", models.ModeRedeem, 60, "")
			results <- err
		}()
	}
	errs := []error{<-results, <-results}

	var failed int
	for _, err := range errs {
		if err != nil {
			assert.True(t, utils.HasReason(err, utils.ReasonInsufficientFunds))
			failed++
		}
	}
	assert.Equal(t, 1, failed)

	balance, err := engine.Ledger.Balance("MBR-AAAA1111")
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)
}

func TestLedgerLazyInit(t *testing.T) {
	engine := newTestEngine(t)

	balance, err := engine.Ledger.Balance("MBR-AAAA1111")
	require.NoError(t, err)
	assert.Zero(t, balance)

	var count int64
	engine.DB.Model(&models.Balance{}).Count(&count)
	assert.Zero(t, count)
}

func TestLedgerHistoryOrder(t *testing.T) {
	engine := newTestEngine(t)
	for i := 0; i < 3; i++ {
		_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, int64(10+i), "")
		require.NoError(t, err)
	}

	rows, err := engine.Ledger.History("MBR-AAAA1111", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.GreaterOrEqual(t, rows[0].AtMs, rows[1].AtMs)
}

func TestAuditTrail(t *testing.T) {
	engine := newTestEngine(t)
	_, err := submit(engine, "MBR-AAAA1111", models.ModeCollect, 10, "")
	require.NoError(t, err)

	events, err := engine.Audit.Recent(10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "transaction", events[0].Type)
}
