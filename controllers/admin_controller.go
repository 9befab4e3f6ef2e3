package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// AdminController handles the platform admin surface. Admins authenticate
// with a short-lived JWT rather than a server-side session.
type AdminController struct {
	engine    *core.Engine
	jwtSecret string
}

// NewAdminController creates the controller.
func NewAdminController(engine *core.Engine, jwtSecret string) *AdminController {
	return &AdminController{engine: engine, jwtSecret: jwtSecret}
}

type adminLoginRequest struct {
	Email string `json:"email" binding:"required"`
	Pin   string `json:"pin" binding:"required"`
}

// Login authenticates an admin and issues a JWT valid for 24 hours.
func (ctl *AdminController) Login(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Email and PIN are required", err))
		return
	}

	email := utils.SanitizeEmail(req.Email)
	if email == "" {
		utils.Fail(c, utils.ValidationError("Invalid email format", nil))
		return
	}

	key := core.LockKey(core.RealmAdmin, email)
	st, err := ctl.engine.Lockouts.Status(key)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if st.Locked {
		utils.AuthFailuresTotal.WithLabelValues(core.RealmAdmin).Inc()
		failWithLock(c, "Account is temporarily locked", st)
		return
	}

	fail := func() {
		utils.AuthFailuresTotal.WithLabelValues(core.RealmAdmin).Inc()
		if _, err := ctl.engine.Lockouts.RecordFailure(key); err != nil {
			utils.LogError("Failed to record auth failure: %v", err)
		}
		st, _ := ctl.engine.Lockouts.Status(key)
		failWithLock(c, "Invalid email or PIN", st)
	}

	if !utils.ValidatePin(req.Pin) {
		fail()
		return
	}

	var admin models.Admin
	err = ctl.engine.DB.Where("email = ?", email).First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail()
		return
	}
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if !admin.IsActive {
		utils.Fail(c, utils.ScopeError("Account is disabled", nil))
		return
	}

	if res := ctl.engine.Vault.Verify(req.Pin, &admin.Credential); !res.Matched {
		fail()
		return
	}

	if err := ctl.engine.Lockouts.Clear(key); err != nil {
		utils.LogError("Failed to clear lockout: %v", err)
	}
	ctl.engine.DB.Model(&admin).Update("last_login", time.Now())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": admin.Email,
		"role":  "admin",
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
		"iat":   time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte(ctl.jwtSecret))
	if err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("admin_login", "admin=%s", utils.MaskEmail(admin.Email))
	utils.Success(c, "Signed in", gin.H{"token": signed})
}

type clearLockoutRequest struct {
	Realm      string `json:"realm" binding:"required"`
	Identifier string `json:"identifier" binding:"required"`
}

// ClearLockout resets the failure state for any principal, including a
// permanent lock.
func (ctl *AdminController) ClearLockout(c *gin.Context) {
	var req clearLockoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Realm and identifier are required", err))
		return
	}
	if req.Realm != core.RealmMember && req.Realm != core.RealmStaff && req.Realm != core.RealmAdmin {
		utils.Fail(c, utils.ValidationError("Unknown realm", nil))
		return
	}

	key := core.LockKey(req.Realm, req.Identifier)
	if err := ctl.engine.Lockouts.Clear(key); err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("lockout_cleared", "key=%s", key)
	utils.Success(c, "Lockout cleared", nil)
}

// MemberTransactions returns any member's ledger for support cases.
func (ctl *AdminController) MemberTransactions(c *gin.Context) {
	memberID := utils.NormalizeMemberID(c.Param("memberId"))
	if !utils.ValidateMemberID(memberID) {
		utils.Fail(c, utils.ValidationError("Invalid member id", nil))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := ctl.engine.Ledger.History(memberID, limit)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	balance, err := ctl.engine.Ledger.Balance(memberID)
	if err != nil {
		utils.Fail(c, err)
		return
	}

	utils.Success(c, "Member ledger", gin.H{
		"memberId":     memberID,
		"balance":      balance,
		"transactions": rows,
	})
}

type blockMemberRequest struct {
	Blocked *bool `json:"blocked" binding:"required"`
}

// SetMemberBlocked blocks or unblocks a member. Blocking also revokes
// their sessions.
func (ctl *AdminController) SetMemberBlocked(c *gin.Context) {
	var req blockMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Blocked flag is required", err))
		return
	}

	memberID := utils.NormalizeMemberID(c.Param("memberId"))
	var member models.Member
	err := ctl.engine.DB.Where("member_id = ?", memberID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Fail(c, utils.ValidationError("Unknown member", nil))
		return
	}
	if err != nil {
		utils.Fail(c, err)
		return
	}

	if err := ctl.engine.DB.Model(&member).Update("is_blocked", *req.Blocked).Error; err != nil {
		utils.Fail(c, err)
		return
	}
	if *req.Blocked {
		ctl.engine.DB.Where("realm = ? AND subject_id = ?",
			core.RealmMember, memberID).Delete(&models.Session{})
	}

	ctl.engine.Audit.Emit("member_block", "member=%s blocked=%v", memberID, *req.Blocked)
	utils.Success(c, "Member updated", gin.H{"memberId": memberID, "blocked": *req.Blocked})
}

// AuditEvents returns the newest audit rows.
func (ctl *AdminController) AuditEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := ctl.engine.Audit.Recent(limit)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "Audit events", gin.H{"events": events, "count": len(events)})
}
