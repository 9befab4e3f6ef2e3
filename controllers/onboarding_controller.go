package controllers

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

const (
	otpTTL        = 15 * time.Minute
	resetTokenTTL = 30 * time.Minute
)

// OnboardingController handles OTP-verified member registration and the
// email-link PIN reset flow.
type OnboardingController struct {
	engine   *core.Engine
	notifier core.Notifier
	baseURL  string
}

// NewOnboardingController creates the controller.
func NewOnboardingController(engine *core.Engine, notifier core.Notifier, baseURL string) *OnboardingController {
	return &OnboardingController{engine: engine, notifier: notifier, baseURL: baseURL}
}

func newOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %v", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

const memberIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newMemberID() (string, error) {
	b := make([]byte, 8)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(memberIDAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate member id: %v", err)
		}
		b[i] = memberIDAlphabet[n.Int64()]
	}
	return "MBR-" + string(b), nil
}

type startRegistrationRequest struct {
	Email     string `json:"email" binding:"required"`
	Pin       string `json:"pin" binding:"required"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	City      string `json:"city"`
	Country   string `json:"country"`
	Language  string `json:"language"`
}

// StartRegistration stages a signup and emails the OTP. The PIN is derived
// immediately; the staged row never holds it in the clear.
func (ctl *OnboardingController) StartRegistration(c *gin.Context) {
	var req startRegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Email and PIN are required", err))
		return
	}

	email := utils.SanitizeEmail(req.Email)
	if ok, msg := utils.ValidateEmail(email); !ok {
		utils.Fail(c, utils.ValidationError(msg, nil))
		return
	}
	if !utils.ValidatePin(req.Pin) {
		utils.Fail(c, utils.ValidationError("PIN must be exactly 6 digits", nil))
		return
	}

	var existing models.Member
	err := ctl.engine.DB.Where("email = ?", email).First(&existing).Error
	if err == nil {
		utils.Fail(c, utils.ValidationError("Email is already registered", nil))
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Fail(c, err)
		return
	}

	otp, err := newOTP()
	if err != nil {
		utils.Fail(c, err)
		return
	}
	rec, err := ctl.engine.Vault.NewRecord(req.Pin)
	if err != nil {
		utils.Fail(c, err)
		return
	}

	pending := models.PendingRegistration{
		PendingID:      "reg_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Status:         models.RegistrationPending,
		Email:          email,
		PhoneE164:      utils.SanitizeString(req.Phone),
		FirstName:      utils.SanitizeString(req.FirstName),
		LastName:       utils.SanitizeString(req.LastName),
		City:           utils.SanitizeString(req.City),
		Country:        utils.SanitizeString(req.Country),
		Language:       utils.SanitizeString(req.Language),
		OTP:            otp,
		OtpExpiresAtMs: time.Now().Add(otpTTL).UnixMilli(),
		Credential:     rec,
	}
	if err := ctl.engine.DB.Create(&pending).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	if err := ctl.notifier.SendOTP(email, otp); err != nil {
		utils.LogError("Failed to send OTP to %s: %v", utils.MaskEmail(email), err)
		utils.Fail(c, utils.ValidationError("Could not send the verification email", nil))
		return
	}

	utils.LogInfo("Registration started for %s", utils.MaskEmail(email))
	utils.Created(c, "Verification code sent", gin.H{
		"pendingId": pending.PendingID,
		"email":     utils.MaskEmail(email),
	})
}

type verifyOTPRequest struct {
	PendingID string `json:"pendingId" binding:"required"`
	OTP       string `json:"otp" binding:"required"`
}

// VerifyOTP completes a staged registration and mints the member id.
func (ctl *OnboardingController) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Pending id and OTP are required", err))
		return
	}
	if !utils.ValidateOTP(req.OTP) {
		utils.Fail(c, utils.ValidationError("OTP must be 6 digits", nil))
		return
	}

	var pending models.PendingRegistration
	err := ctl.engine.DB.Where("pending_id = ?", req.PendingID).First(&pending).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Fail(c, utils.TokenError("Invalid or expired verification", nil))
		return
	}
	if err != nil {
		utils.Fail(c, err)
		return
	}
	if pending.Status != models.RegistrationPending ||
		pending.OtpExpiresAtMs <= time.Now().UnixMilli() {
		utils.Fail(c, utils.TokenError("Invalid or expired verification", nil))
		return
	}
	if subtle.ConstantTimeCompare([]byte(pending.OTP), []byte(req.OTP)) != 1 {
		utils.Fail(c, utils.TokenError("Incorrect verification code", nil))
		return
	}

	var member models.Member
	err = ctl.engine.DB.Transaction(func(tx *gorm.DB) error {
		memberID, err := newMemberID()
		if err != nil {
			return err
		}
		member = models.Member{
			Email:      pending.Email,
			MemberID:   memberID,
			FirstName:  pending.FirstName,
			LastName:   pending.LastName,
			PhoneE164:  pending.PhoneE164,
			City:       pending.City,
			Country:    pending.Country,
			Language:   pending.Language,
			IsVerified: true,
			Credential: pending.Credential,
		}
		if err := tx.Create(&member).Error; err != nil {
			return err
		}
		return tx.Model(&pending).Updates(map[string]interface{}{
			"status":          models.RegistrationCompleted,
			"member_id":       memberID,
			"otp":             "",
			"completed_at_ms": time.Now().UnixMilli(),
		}).Error
	})
	if err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.engine.Audit.Emit("member_registered", "member=%s", member.MemberID)
	utils.Created(c, "Registration complete", gin.H{
		"memberId": member.MemberID,
	})
}

type requestResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// RequestPinReset emails a one-time reset link. The response is identical
// whether or not the account exists.
func (ctl *OnboardingController) RequestPinReset(c *gin.Context) {
	var req requestResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Email is required", err))
		return
	}
	email := utils.SanitizeEmail(req.Email)
	if ok, msg := utils.ValidateEmail(email); !ok {
		utils.Fail(c, utils.ValidationError(msg, nil))
		return
	}

	var member models.Member
	err := ctl.engine.DB.Where("email = ?", email).First(&member).Error
	if err == nil && !member.IsBlocked {
		token := models.ResetToken{
			Token:       "RT-" + strings.ReplaceAll(uuid.New().String(), "-", ""),
			Email:       email,
			ExpiresAtMs: time.Now().Add(resetTokenTTL).UnixMilli(),
		}
		if err := ctl.engine.DB.Create(&token).Error; err != nil {
			utils.Fail(c, err)
			return
		}
		link := ctl.baseURL + "/reset?token=" + token.Token
		if err := ctl.notifier.SendResetLink(email, link); err != nil {
			utils.LogError("Failed to send reset link to %s: %v", utils.MaskEmail(email), err)
		}
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Fail(c, err)
		return
	}

	utils.Success(c, "If the account exists, a reset link has been sent", nil)
}

type confirmResetRequest struct {
	Token  string `json:"token" binding:"required"`
	NewPin string `json:"newPin" binding:"required"`
}

// ConfirmPinReset consumes a reset token and installs the new PIN. All of
// the member's sessions are revoked and the lockout state cleared.
func (ctl *OnboardingController) ConfirmPinReset(c *gin.Context) {
	var req confirmResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Token and new PIN are required", err))
		return
	}
	if !utils.ValidatePin(req.NewPin) {
		utils.Fail(c, utils.ValidationError("PIN must be exactly 6 digits", nil))
		return
	}

	nowMs := time.Now().UnixMilli()
	res := ctl.engine.DB.Model(&models.ResetToken{}).
		Where("token = ? AND used = ? AND expires_at_ms > ?", req.Token, false, nowMs).
		Updates(map[string]interface{}{"used": true, "verified_at_ms": nowMs})
	if res.Error != nil {
		utils.Fail(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		utils.Fail(c, utils.TokenError("Invalid or expired reset link", nil))
		return
	}

	var token models.ResetToken
	if err := ctl.engine.DB.Where("token = ?", req.Token).First(&token).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	var member models.Member
	if err := ctl.engine.DB.Where("email = ?", token.Email).First(&member).Error; err != nil {
		utils.Fail(c, utils.TokenError("Invalid or expired reset link", nil))
		return
	}

	rec, err := ctl.engine.Vault.NewRecord(req.NewPin)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	member.Credential = rec
	if err := ctl.engine.DB.Save(&member).Error; err != nil {
		utils.Fail(c, err)
		return
	}

	if err := ctl.engine.Lockouts.Clear(core.LockKey(core.RealmMember, member.Email)); err != nil {
		utils.LogError("Failed to clear lockout: %v", err)
	}
	if err := ctl.engine.DB.Where("realm = ? AND subject_id = ?",
		core.RealmMember, member.MemberID).Delete(&models.Session{}).Error; err != nil {
		utils.LogError("Failed to revoke sessions after reset: %v", err)
	}

	ctl.engine.Audit.Emit("member_pin_reset", "member=%s", member.MemberID)
	utils.Success(c, "PIN reset", nil)
}
