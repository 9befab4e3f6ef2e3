package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/config"
	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// A permanent lock keeps a far-future timestamp in LockUntilMs so callers
// that only look at the time still behave.
const permanentLockHorizon = 365 * 24 * time.Hour

// LockoutGuard tracks authentication failures per credential key and
// imposes the progressive cooldown table. Keys are "<realm>:<identifier>"
// so the three realms never collide.
type LockoutGuard struct {
	db    *gorm.DB
	rules []config.LockRule
	locks *keyedMutex
	now   func() time.Time
}

// NewLockoutGuard creates a guard with the given rule table.
func NewLockoutGuard(db *gorm.DB, rules []config.LockRule) *LockoutGuard {
	if len(rules) == 0 {
		rules = config.DefaultLockRules()
	}
	return &LockoutGuard{
		db:    db,
		rules: rules,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// LockKey builds the realm-scoped key for an identifier.
func LockKey(realm, identifier string) string {
	return realm + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

// FailureState is returned by RecordFailure.
type FailureState struct {
	FailCount   int
	LockedUntil int64
	Permanent   bool
}

// LockStatus is the read-only view of a key.
type LockStatus struct {
	Locked     bool
	Permanent  bool
	UntilMs    int64
	FailCount  int
	NextTarget int
}

// RecordFailure increments the failure counter and applies the cooldown
// table. The rolling 24-hour counter resets once the first failure in the
// current window is more than 24 hours old.
func (g *LockoutGuard) RecordFailure(key string) (*FailureState, error) {
	unlock := g.locks.Lock(key)
	defer unlock()

	nowMs := g.now().UnixMilli()

	var rec models.LockoutRecord
	err := g.db.Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rec = models.LockoutRecord{
			Key:           key,
			FailCount:     1,
			FirstFailMs:   nowMs,
			TotalFails24h: 1,
		}
		if err := g.db.Create(&rec).Error; err != nil {
			return nil, fmt.Errorf("failed to create lockout record: %w", err)
		}
		return &FailureState{FailCount: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lockout record: %w", err)
	}

	rec.FailCount++
	if nowMs-rec.FirstFailMs > 24*time.Hour.Milliseconds() {
		rec.FirstFailMs = nowMs
		rec.TotalFails24h = 1
	} else {
		rec.TotalFails24h++
	}

	rule, crossed := g.ruleFor(rec.FailCount)
	if crossed {
		if rule.Permanent() {
			rec.Permanent = true
			rec.LockUntilMs = nowMs + permanentLockHorizon.Milliseconds()
			utils.LockoutsTotal.WithLabelValues("permanent").Inc()
		} else {
			rec.LockUntilMs = nowMs + rule.Cooldown.Milliseconds()
			utils.LockoutsTotal.WithLabelValues("cooldown").Inc()
		}
	}

	if err := g.db.Save(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to save lockout record: %w", err)
	}

	return &FailureState{
		FailCount:   rec.FailCount,
		LockedUntil: rec.LockUntilMs,
		Permanent:   rec.Permanent,
	}, nil
}

// Status reports whether a key is currently locked.
func (g *LockoutGuard) Status(key string) (*LockStatus, error) {
	var rec models.LockoutRecord
	err := g.db.Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &LockStatus{NextTarget: g.nextTarget(0)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lockout record: %w", err)
	}

	nowMs := g.now().UnixMilli()
	st := &LockStatus{
		Permanent:  rec.Permanent,
		UntilMs:    rec.LockUntilMs,
		FailCount:  rec.FailCount,
		NextTarget: g.nextTarget(rec.FailCount),
	}
	st.Locked = rec.Permanent || (rec.LockUntilMs > 0 && rec.LockUntilMs > nowMs)
	return st, nil
}

// Clear resets a key. Called on every successful authentication and by
// the admin reset endpoint.
func (g *LockoutGuard) Clear(key string) error {
	unlock := g.locks.Lock(key)
	defer unlock()

	if err := g.db.Where("key = ?", key).Delete(&models.LockoutRecord{}).Error; err != nil {
		return fmt.Errorf("failed to clear lockout record: %w", err)
	}
	return nil
}

// ruleFor returns the highest rule at or below failCount.
func (g *LockoutGuard) ruleFor(failCount int) (config.LockRule, bool) {
	var chosen config.LockRule
	found := false
	for _, r := range g.rules {
		if failCount >= r.Fails {
			chosen = r
			found = true
		}
	}
	return chosen, found
}

// nextTarget returns the next threshold to display ("2 / 5"); past the
// last rule it keeps reporting the last threshold.
func (g *LockoutGuard) nextTarget(failCount int) int {
	for _, r := range g.rules {
		if failCount < r.Fails {
			return r.Fails
		}
	}
	if len(g.rules) > 0 {
		return g.rules[len(g.rules)-1].Fails
	}
	return 0
}
