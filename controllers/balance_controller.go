package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/middleware"
	"github.com/cashbeik/loyalty/utils"
)

// BalanceController serves a member's own balance and history.
type BalanceController struct {
	engine *core.Engine
}

// NewBalanceController creates the controller.
func NewBalanceController(engine *core.Engine) *BalanceController {
	return &BalanceController{engine: engine}
}

// GetBalance returns the signed-in member's current balance.
func (ctl *BalanceController) GetBalance(c *gin.Context) {
	memberID := c.GetString(middleware.CtxMemberID)
	points, err := ctl.engine.Ledger.Balance(memberID)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "Balance", gin.H{
		"memberId": memberID,
		"points":   points,
	})
}

// GetHistory returns the member's most recent transactions.
func (ctl *BalanceController) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	rows, err := ctl.engine.Ledger.History(c.GetString(middleware.CtxMemberID), limit)
	if err != nil {
		utils.Fail(c, err)
		return
	}
	utils.Success(c, "Transactions", gin.H{
		"transactions": rows,
		"count":        len(rows),
	})
}
