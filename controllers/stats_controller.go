package controllers

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cashbeik/loyalty/core"
	"github.com/cashbeik/loyalty/middleware"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

const statsCacheTTL = 10 * time.Minute

// StatsController serves day-bucketed merchant totals. Results are cached
// per merchant for a few minutes; the numbers drive a dashboard, not
// billing, so slightly stale is fine.
type StatsController struct {
	engine *core.Engine

	mu    sync.Mutex
	cache map[string]statsEntry
}

type statsEntry struct {
	stats     merchantStats
	expiresAt time.Time
}

type dayBucket struct {
	Day       string `json:"day"` // YYYY-MM-DD
	Collected int64  `json:"collected"`
	Redeemed  int64  `json:"redeemed"`
	Count     int64  `json:"count"`
}

type merchantStats struct {
	MerchantID     string      `json:"merchantId"`
	Days           []dayBucket `json:"days"`
	TotalCollected int64       `json:"totalCollected"`
	TotalRedeemed  int64       `json:"totalRedeemed"`
	TotalCount     int64       `json:"totalCount"`
}

// NewStatsController creates the controller.
func NewStatsController(engine *core.Engine) *StatsController {
	return &StatsController{engine: engine, cache: make(map[string]statsEntry)}
}

// GetStats returns per-day totals for the staff member's merchant over the
// last N days (default 30, max 90).
func (ctl *StatsController) GetStats(c *gin.Context) {
	merchantID := c.GetString(middleware.CtxMerchantID)
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days <= 0 || days > 90 {
		days = 30
	}

	cacheKey := merchantID + ":" + strconv.Itoa(days)
	ctl.mu.Lock()
	if entry, ok := ctl.cache[cacheKey]; ok && time.Now().Before(entry.expiresAt) {
		stats := entry.stats
		ctl.mu.Unlock()
		utils.Success(c, "Merchant stats", stats)
		return
	}
	ctl.mu.Unlock()

	stats, err := ctl.compute(merchantID, days)
	if err != nil {
		utils.Fail(c, err)
		return
	}

	ctl.mu.Lock()
	ctl.cache[cacheKey] = statsEntry{stats: *stats, expiresAt: time.Now().Add(statsCacheTTL)}
	ctl.mu.Unlock()

	utils.Success(c, "Merchant stats", stats)
}

func (ctl *StatsController) compute(merchantID string, days int) (*merchantStats, error) {
	since := time.Now().AddDate(0, 0, -days).Truncate(24 * time.Hour)

	var rows []models.Transaction
	err := ctl.engine.DB.Where("merchant_id = ? AND at_ms >= ?", merchantID, since.UnixMilli()).
		Order("at_ms ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]*dayBucket)
	var order []string
	stats := &merchantStats{MerchantID: merchantID}

	for _, row := range rows {
		day := time.UnixMilli(row.AtMs).UTC().Format("2006-01-02")
		bucket, ok := buckets[day]
		if !ok {
			bucket = &dayBucket{Day: day}
			buckets[day] = bucket
			order = append(order, day)
		}
		bucket.Count++
		stats.TotalCount++
		if row.Type == models.ModeCollect {
			bucket.Collected += row.Points
			stats.TotalCollected += row.Points
		} else {
			bucket.Redeemed += -row.Points
			stats.TotalRedeemed += -row.Points
		}
	}

	stats.Days = make([]dayBucket, 0, len(order))
	for _, day := range order {
		stats.Days = append(stats.Days, *buckets[day])
	}
	return stats, nil
}
