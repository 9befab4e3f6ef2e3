package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/middleware"
	"github.com/cashbeik/loyalty/utils"
)

// TransactionController runs the till-side submit flow.
type TransactionController struct {
	engine *core.Engine
}

// NewTransactionController creates the controller.
func NewTransactionController(engine *core.Engine) *TransactionController {
	return &TransactionController{engine: engine}
}

type submitRequest struct {
	MemberID   string `json:"memberId"`
	Token      string `json:"token"`
	Mode       string `json:"mode" binding:"required"`
	Points     int64  `json:"points" binding:"required"`
	CouponCode string `json:"couponCode"`
}

// Submit records one points transaction. The member can be identified by
// a bare member id or by a token (link token, prefill handle or signed QR
// payload); a mode locked into the token must match the request.
func (ctl *TransactionController) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, utils.ValidationError("Mode and points are required", err))
		return
	}

	mode := utils.NormalizeMode(req.Mode)
	if mode == "" {
		utils.Fail(c, utils.ValidationError("Mode must be COLLECT or REDEEM", nil))
		return
	}

	memberID := utils.NormalizeMemberID(req.MemberID)
	if token := strings.TrimSpace(req.Token); token != "" {
		resolvedID, tokenMode, err := ctl.resolveToken(token)
		if err != nil {
			utils.Fail(c, err)
			return
		}
		if tokenMode != "" && tokenMode != mode {
			utils.Fail(c, utils.ValidationError("Token was issued for a different transaction type", nil))
			return
		}
		memberID = resolvedID
	}
	if memberID == "" {
		utils.Fail(c, utils.ValidationError("Member id or token is required", nil))
		return
	}

	result, err := ctl.engine.SubmitTransaction(core.SubmitRequest{
		MerchantID: c.GetString(middleware.CtxMerchantID),
		Staff:      c.GetString(middleware.CtxStaffName),
		MemberID:   memberID,
		Mode:       mode,
		Points:     req.Points,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		utils.Fail(c, err)
		return
	}

	utils.Success(c, "Transaction recorded", result)
}

func (ctl *TransactionController) resolveToken(token string) (string, string, error) {
	switch {
	case strings.HasPrefix(token, "LT-"):
		claims, err := ctl.engine.Tokens.ResolveLink(token)
		if err != nil {
			return "", "", err
		}
		return claims.MemberID, claims.Mode, nil
	case strings.HasPrefix(token, "pf_"):
		prefill, err := ctl.engine.Stage.Claim(token)
		if err != nil {
			return "", "", err
		}
		return prefill.MemberID, prefill.Mode, nil
	default:
		claims, err := ctl.engine.Tokens.VerifySigned(token)
		if err != nil {
			return "", "", err
		}
		return claims.MemberID, claims.Mode, nil
	}
}
