package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/middleware"
	"github.com/cashbeik/loyalty/utils"
)

// TokenController handles the member-device-to-till handoff: signed QR
// payloads, one-time link tokens and staged prefills.
type TokenController struct {
	engine *core.Engine
}

// NewTokenController creates the controller.
func NewTokenController(engine *core.Engine) *TokenController {
	return &TokenController{engine: engine}
}

// GetSignedQR issues a short-lived signed payload for the signed-in
// member. Mode is optional; empty leaves the choice to the till.
func (ctl *TokenController) GetSignedQR(c *gin.Context) {
	memberID := c.GetString(middleware.CtxMemberID)
	mode := utils.NormalizeMode(c.Query("mode"))
	if c.Query("mode") != "" && mode == "" {
		utils.Fail(c, utils.ValidationError("Mode must be COLLECT or REDEEM", nil))
		return
	}

	qr, err := ctl.engine.Tokens.IssueSignedQR(memberID, mode)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "QR issued", gin.H{
		"payload":    qr.Payload,
		"url":        qr.URL,
		"expiresAt":  qr.ExpiresAtMs,
		"ttlSeconds": qr.TTLSeconds,
	})
}

type createLinkRequest struct {
	Mode string `json:"mode"`
}

// CreateLink issues (or reuses) a one-time deep-link token.
func (ctl *TokenController) CreateLink(c *gin.Context) {
	var req createLinkRequest
	_ = c.ShouldBindJSON(&req)

	mode := utils.NormalizeMode(req.Mode)
	if req.Mode != "" && mode == "" {
		utils.Fail(c, utils.ValidationError("Mode must be COLLECT or REDEEM", nil))
		return
	}

	link, err := ctl.engine.Tokens.IssueLink(c.GetString(middleware.CtxMemberID), mode)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "Link token issued", gin.H{
		"token":     link.Token,
		"url":       link.URL,
		"expiresAt": link.ExpiresAtMs,
		"reused":    link.Reused,
	})
}

type stageRequest struct {
	Mode string `json:"mode"`
}

// Stage parks a prefill for the till to claim within a few minutes.
func (ctl *TokenController) Stage(c *gin.Context) {
	var req stageRequest
	_ = c.ShouldBindJSON(&req)

	mode := utils.NormalizeMode(req.Mode)
	if req.Mode != "" && mode == "" {
		utils.Fail(c, utils.ValidationError("Mode must be COLLECT or REDEEM", nil))
		return
	}

	id, expiresAt, err := ctl.engine.Stage.Stage(c.GetString(middleware.CtxMemberID), mode)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "Prefill staged", gin.H{
		"prefillId": id,
		"expiresAt": expiresAt,
	})
}

type resolveRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// Resolve turns any member-presented credential into a member id for the
// till: a one-time link token, a staged prefill handle or a signed QR
// payload. Link tokens and prefills are consumed by this call.
func (ctl *TokenController) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Payload is required", err))
		return
	}
	payload := strings.TrimSpace(req.Payload)

	var (
		memberID string
		mode     string
		err      error
	)
	switch {
	case strings.HasPrefix(payload, "LT-"):
		var claims *core.TokenClaims
		claims, err = ctl.engine.Tokens.ResolveLink(payload)
		if err == nil {
			memberID, mode = claims.MemberID, claims.Mode
		}
	case strings.HasPrefix(payload, "pf_"):
		var prefill *core.StagedPrefill
		prefill, err = ctl.engine.Stage.Claim(payload)
		if err == nil {
			memberID, mode = prefill.MemberID, prefill.Mode
		}
	default:
		var claims *core.TokenClaims
		claims, err = ctl.engine.Tokens.VerifySigned(payload)
		if err == nil {
			memberID, mode = claims.MemberID, claims.Mode
		}
	}
	if err != nil {
		utils.Fail(c, err)
		return
	}

	utils.Success(c, "Resolved", gin.H{
		"memberId": memberID,
		"mode":     mode,
	})
}
