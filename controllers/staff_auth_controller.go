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

// StaffAuthController handles till operator sign-in and PIN management.
type StaffAuthController struct {
	engine *core.Engine
}

// NewStaffAuthController creates the controller.
func NewStaffAuthController(engine *core.Engine) *StaffAuthController {
	return &StaffAuthController{engine: engine}
}

type staffSigninRequest struct {
	Username string `json:"username" binding:"required"`
	Pin      string `json:"pin" binding:"required"`
}

// Signin authenticates a staff member. The merchant scope attached to the
// staff row follows the session; it is never taken from the client.
func (ctl *StaffAuthController) Signin(c *gin.Context) {
	var req staffSigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Username and PIN are required", err))
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if ok, msg := utils.ValidateUsername(username); !ok {
		utils.Fail(c, utils.ValidationError(msg, nil))
		return
	}

	key := core.LockKey(core.RealmStaff, username)
	st, err := ctl.engine.Lockouts.Status(key)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if st.Locked {
		utils.AuthFailuresTotal.WithLabelValues(core.RealmStaff).Inc()
		failWithLock(c, "Account is temporarily locked", st)
		return
	}

	fail := func() {
		utils.AuthFailuresTotal.WithLabelValues(core.RealmStaff).Inc()
		if _, err := ctl.engine.Lockouts.RecordFailure(key); err != nil {
			utils.LogError("Failed to record auth failure: %v", err)
		}
		st, _ := ctl.engine.Lockouts.Status(key)
		failWithLock(c, "Invalid username or PIN", st)
	}

	if !utils.ValidatePin(req.Pin) {
		fail()
		return
	}

	var staff models.Staff
	err = ctl.engine.DB.Where("username = ?", username).First(&staff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail()
		return
	}
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if !staff.Active {
		utils.Fail(c, utils.ScopeError("Account is disabled", nil))
		return
	}

	var merchant models.Merchant
	err = ctl.engine.DB.Where("merchant_id = ?", staff.MerchantID).First(&merchant).Error
	if err != nil || !merchant.Active {
		utils.Fail(c, utils.ScopeError("Merchant is not active", nil))
		return
	}

	res := ctl.engine.Vault.Verify(req.Pin, &staff.Credential)
	if !res.Matched {
		fail()
		return
	}
	if res.Migrated {
		if err := ctl.engine.DB.Model(&staff).Updates(map[string]interface{}{
			"salt":                  staff.Credential.Salt,
			"hash":                  staff.Credential.Hash,
			"iterations":            staff.Credential.Iterations,
			"algorithm":             staff.Credential.Algorithm,
			"peppered":              staff.Credential.Peppered,
			"legacy_hash":           "",
			"credential_updated_at": staff.Credential.UpdatedAt,
		}).Error; err != nil {
			utils.LogError("Failed to persist credential migration for staff %s: %v", username, err)
		}
	}

	if err := ctl.engine.Lockouts.Clear(key); err != nil {
		utils.LogError("Failed to clear lockout: %v", err)
	}

	sid, err := ctl.engine.Sessions.Create(core.RealmStaff, staff.Username)
	if err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("staff_signin", "staff=%s merchant=%s", staff.Username, staff.MerchantID)
	utils.Success(c, "Signed in", gin.H{
		"sessionId":     sid,
		"username":      staff.Username,
		"merchantId":    staff.MerchantID,
		"merchantName":  merchant.Name,
		"role":          staff.Role,
		"mustChangePin": staff.MustChangePin,
	})
}

// Signout revokes the current staff session.
func (ctl *StaffAuthController) Signout(c *gin.Context) {
	if err := ctl.engine.Sessions.Revoke(c.GetString(middleware.CtxSessionID)); err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "Signed out", nil)
}

type changePinRequest struct {
	CurrentPin string `json:"currentPin" binding:"required"`
	NewPin     string `json:"newPin" binding:"required"`
}

// ChangePin sets a new PIN after verifying the current one. The session id
// is rotated; the response carries the replacement.
func (ctl *StaffAuthController) ChangePin(c *gin.Context) {
	var req changePinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Current and new PIN are required", err))
		return
	}
	if !utils.ValidatePin(req.NewPin) {
		utils.Fail(c, utils.ValidationError("PIN must be exactly 6 digits", nil))
		return
	}
	if req.NewPin == req.CurrentPin {
		utils.Fail(c, utils.ValidationError("New PIN must differ from the current one", nil))
		return
	}

	username := c.GetString(middleware.CtxStaffName)
	var staff models.Staff
	if err := ctl.engine.DB.Where("username = ?", username).First(&staff).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	if res := ctl.engine.Vault.Verify(req.CurrentPin, &staff.Credential); !res.Matched {
		utils.Fail(c, utils.AuthError("Current PIN is incorrect", nil))
		return
	}

	rec, err := ctl.engine.Vault.NewRecord(req.NewPin)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	staff.Credential = rec
	staff.MustChangePin = false
	if err := ctl.engine.DB.Save(&staff).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	fresh, err := ctl.engine.Sessions.Rotate(c.GetString(middleware.CtxSessionID))
	if err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("staff_pin_change", "staff=%s", username)
	utils.Success(c, "PIN changed", gin.H{"sessionId": fresh})
}

type resetStaffPinRequest struct {
	Username string `json:"username" binding:"required"`
	TempPin  string `json:"tempPin" binding:"required"`
}

// ResetStaffPin lets a manager set a temporary PIN for a colleague at the
// same merchant. The target must change it on next sign-in.
func (ctl *StaffAuthController) ResetStaffPin(c *gin.Context) {
	var req resetStaffPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Username and temporary PIN are required", err))
		return
	}
	if !utils.ValidatePin(req.TempPin) {
		utils.Fail(c, utils.ValidationError("PIN must be exactly 6 digits", nil))
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	var target models.Staff
	err := ctl.engine.DB.Where("username = ?", username).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Fail(c, utils.ValidationError("Unknown staff member", nil))
		return
	}
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if target.MerchantID != c.GetString(middleware.CtxMerchantID) {
		utils.Fail(c, utils.ScopeError("Staff member belongs to another merchant", nil))
		return
	}

	rec, err := ctl.engine.Vault.NewRecord(req.TempPin)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	target.Credential = rec
	target.MustChangePin = true
	if err := ctl.engine.DB.Save(&target).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	if err := ctl.engine.Lockouts.Clear(core.LockKey(core.RealmStaff, username)); err != nil {
		utils.LogError("Failed to clear lockout: %v", err)
	}

	ctl.engine.Audit.Emit("staff_pin_reset", "staff=%s by=%s", username, c.GetString(middleware.CtxStaffName))
	utils.Success(c, "Temporary PIN set", nil)
}
