package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cashbeik/loyalty/config"
	"github.com/cashbeik/loyalty/controllers"
	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/middleware"
	"github.com/cashbeik/loyalty/utils"
)

// SetupRoutes wires every endpoint. Auth endpoints sit behind a per-IP
// rate limit on top of the lockout guard.
func SetupRoutes(r *gin.Engine, engine *core.Engine, cfg *config.Config, notifier core.Notifier) {
	r.Use(utils.RecoveryMiddleware())
	r.Use(utils.LoggerMiddleware())
	r.Use(utils.RequestIDMiddleware())
	r.Use(utils.SecurityHeadersMiddleware())
	r.Use(utils.CORSMiddleware())

	memberAuth := controllers.NewMemberAuthController(engine)
	staffAuth := controllers.NewStaffAuthController(engine)
	onboarding := controllers.NewOnboardingController(engine, notifier, cfg.MerchantAppBaseURL)
	tokens := controllers.NewTokenController(engine)
	transactions := controllers.NewTransactionController(engine)
	balances := controllers.NewBalanceController(engine)
	coupons := controllers.NewCouponController(engine)
	campaigns := controllers.NewCampaignController(engine)
	admin := controllers.NewAdminController(engine, cfg.JWTSecret)
	stats := controllers.NewStatsController(engine)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	authLimit := utils.RateLimitMiddleware(5, 10)

	// Member onboarding and sign-in
	members := api.Group("/members")
	{
		members.POST("/register", authLimit, onboarding.StartRegistration)
		members.POST("/register/verify", authLimit, onboarding.VerifyOTP)
		members.POST("/reset/request", authLimit, onboarding.RequestPinReset)
		members.POST("/reset/confirm", authLimit, onboarding.ConfirmPinReset)
		members.POST("/signin", authLimit, memberAuth.Signin)
		members.GET("/lock-info", memberAuth.LockInfo)
	}

	// Signed-in member surface
	memberAPI := api.Group("/members", middleware.MemberAuth(engine))
	{
		memberAPI.POST("/signout", memberAuth.Signout)
		memberAPI.GET("/balance", balances.GetBalance)
		memberAPI.GET("/transactions", balances.GetHistory)
		memberAPI.GET("/qr", tokens.GetSignedQR)
		memberAPI.POST("/link-tokens", tokens.CreateLink)
		memberAPI.POST("/prefills", tokens.Stage)
	}

	// Till surface
	api.POST("/staff/signin", authLimit, staffAuth.Signin)
	staffAPI := api.Group("/staff", middleware.StaffAuth(engine))
	{
		staffAPI.POST("/signout", staffAuth.Signout)
		staffAPI.POST("/pin", staffAuth.ChangePin)
		staffAPI.POST("/resolve", tokens.Resolve)
		staffAPI.POST("/transactions", transactions.Submit)
		staffAPI.GET("/stats", stats.GetStats)
	}

	// Manager-only administration
	managerAPI := api.Group("/staff", middleware.StaffAuth(engine), middleware.RequireManager())
	{
		managerAPI.POST("/reset-pin", staffAuth.ResetStaffPin)
		managerAPI.POST("/coupons", coupons.Upsert)
		managerAPI.GET("/coupons", coupons.List)
		managerAPI.PATCH("/coupons/:code/active", coupons.SetActive)
		managerAPI.POST("/campaigns", campaigns.Create)
		managerAPI.GET("/campaigns", campaigns.List)
		managerAPI.PATCH("/campaigns/:id/active", campaigns.SetActive)
	}

	// Platform admin
	api.POST("/admin/login", authLimit, admin.Login)
	adminAPI := api.Group("/admin", middleware.AdminAuth(cfg.JWTSecret))
	{
		adminAPI.POST("/lockouts/clear", admin.ClearLockout)
		adminAPI.GET("/members/:memberId/transactions", admin.MemberTransactions)
		adminAPI.PATCH("/members/:memberId/blocked", admin.SetMemberBlocked)
		adminAPI.GET("/audit", admin.AuditEvents)
	}
}
