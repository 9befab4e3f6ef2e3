package core

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cashbeik/loyalty/utils"
)

// StagedPrefill is what a member device parks for the till to pick up.
type StagedPrefill struct {
	MemberID string
	Mode     string
	StagedAt time.Time
}

type stageEntry struct {
	prefill   StagedPrefill
	expiresAt time.Time
}

// StageCache holds short-lived prefill handoffs in memory. Entries are
// claimed exactly once; anything unclaimed simply ages out. Losing the
// cache on restart is fine, the member re-stages.
type StageCache struct {
	mu      sync.Mutex
	entries map[string]stageEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewStageCache creates a cache with the configured entry TTL.
func NewStageCache(ttl time.Duration) *StageCache {
	return &StageCache{
		entries: make(map[string]stageEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func newStageID() string {
	return "pf_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Stage parks a prefill and returns its handle and expiry.
func (c *StageCache) Stage(memberID, mode string) (string, int64, error) {
	memberID = utils.NormalizeMemberID(memberID)
	if !utils.ValidateMemberID(memberID) {
		return "", 0, utils.ValidationError("Invalid member id", nil)
	}

	id := newStageID()
	now := c.now()
	expires := now.Add(c.ttl)

	c.mu.Lock()
	c.sweepLocked(now)
	c.entries[id] = stageEntry{
		prefill:   StagedPrefill{MemberID: memberID, Mode: strings.ToUpper(mode), StagedAt: now},
		expiresAt: expires,
	}
	c.mu.Unlock()

	return id, expires.UnixMilli(), nil
}

// Claim removes and returns a staged prefill. A second claim of the same
// handle fails like an unknown one.
func (c *StageCache) Claim(id string) (*StagedPrefill, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, utils.TokenError("Invalid prefill id", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, utils.TokenError("Prefill not found or expired", nil)
	}
	delete(c.entries, id)

	if c.now().After(entry.expiresAt) {
		return nil, utils.TokenError("Prefill not found or expired", nil)
	}

	prefill := entry.prefill
	return &prefill, nil
}

// Len reports the live entry count, for the stats endpoint.
func (c *StageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(c.now())
	return len(c.entries)
}

func (c *StageCache) sweepLocked(now time.Time) {
	for id, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
}
