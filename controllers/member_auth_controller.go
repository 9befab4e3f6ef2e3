package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/middleware"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// MemberAuthController handles member sign-in and session lifecycle.
type MemberAuthController struct {
	engine *core.Engine
}

// NewMemberAuthController creates the controller.
func NewMemberAuthController(engine *core.Engine) *MemberAuthController {
	return &MemberAuthController{engine: engine}
}

// lockView is the structured lock state returned alongside auth errors so
// the client can render a countdown instead of guessing.
type lockView struct {
	Locked     bool  `json:"locked"`
	Permanent  bool  `json:"permanent"`
	UntilMs    int64 `json:"untilMs,omitempty"`
	FailCount  int   `json:"failCount"`
	NextTarget int   `json:"nextTarget"`
}

func toLockView(st *core.LockStatus) lockView {
	return lockView{
		Locked:     st.Locked,
		Permanent:  st.Permanent,
		UntilMs:    st.UntilMs,
		FailCount:  st.FailCount,
		NextTarget: st.NextTarget,
	}
}

// failWithLock sends a generic auth error plus the lock state.
func failWithLock(c *gin.Context, message string, st *core.LockStatus) {
	resp := utils.StandardResponse{
		Status:  "error",
		Message: message,
		Reason:  utils.ReasonAuth,
	}
	if st != nil {
		resp.Data = gin.H{"lock": toLockView(st)}
	}
	c.JSON(401, resp)
}

type memberSigninRequest struct {
	Email string `json:"email" binding:"required"`
	Pin   string `json:"pin" binding:"required"`
}

// Signin authenticates a member by email and PIN. Format failures, unknown
// emails and wrong PINs all count against the same lockout key and all
// return the same generic message.
func (ctl *MemberAuthController) Signin(c *gin.Context) {
	var req memberSigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Email and PIN are required", err))
		return
	}

	email := utils.SanitizeEmail(req.Email)
	if email == "" {
		utils.Fail(c, utils.ValidationError("Invalid email format", nil))
		return
	}

	key := core.LockKey(core.RealmMember, email)
	st, err := ctl.engine.Lockouts.Status(key)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if st.Locked {
		utils.AuthFailuresTotal.WithLabelValues(core.RealmMember).Inc()
		failWithLock(c, "Account is temporarily locked", st)
		return
	}

	fail := func() {
		utils.AuthFailuresTotal.WithLabelValues(core.RealmMember).Inc()
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

	var member models.Member
	err = ctl.engine.DB.Where("email = ?", email).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail()
		return
	}
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if member.IsBlocked {
		utils.Fail(c, utils.ScopeError("Account is blocked", nil))
		return
	}

	res := ctl.engine.Vault.Verify(req.Pin, &member.Credential)
	if !res.Matched {
		fail()
		return
	}
	if res.Migrated {
		if err := ctl.engine.DB.Model(&member).Updates(map[string]interface{}{
			"salt":                  member.Credential.Salt,
			"hash":                  member.Credential.Hash,
			"iterations":            member.Credential.Iterations,
			"algorithm":             member.Credential.Algorithm,
			"peppered":              member.Credential.Peppered,
			"legacy_hash":           "",
			"credential_updated_at": member.Credential.UpdatedAt,
		}).Error; err != nil {
			utils.LogError("Failed to persist credential migration for %s: %v", utils.MaskEmail(email), err)
		} else {
			utils.LogInfo("Upgraded legacy credential for %s", utils.MaskEmail(email))
		}
	}

	if err := ctl.engine.Lockouts.Clear(key); err != nil {
		utils.LogError("Failed to clear lockout: %v", err)
	}

	sid, err := ctl.engine.Sessions.Create(core.RealmMember, member.MemberID)
	if err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("member_signin", "member=%s", member.MemberID)
	utils.Success(c, "Signed in", gin.H{
		"sessionId": sid,
		"memberId":  member.MemberID,
		"firstName": member.FirstName,
		"lastName":  member.LastName,
	})
}

// Signout revokes the current session. Idempotent.
func (ctl *MemberAuthController) Signout(c *gin.Context) {
	sid := c.GetString(middleware.CtxSessionID)
	if err := ctl.engine.Sessions.Revoke(sid); err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "Signed out", nil)
}

// LockInfo reports the lock state for an email without authenticating.
// The payload never reveals whether the account exists.
func (ctl *MemberAuthController) LockInfo(c *gin.Context) {
	email := utils.SanitizeEmail(c.Query("email"))
	if email == "" {
		utils.Fail(c, utils.ValidationError("Invalid email format", nil))
		return
	}
	st, err := ctl.engine.Lockouts.Status(core.LockKey(core.RealmMember, email))
	if err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "Lock state", gin.H{"lock": toLockView(st)})
}
