package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

func newTestStage(t *testing.T) (*StageCache, *testClock) {
	t.Helper()
	clock := newTestClock()
	cache := NewStageCache(5 * time.Minute)
	cache.now = clock.Now
	return cache, clock
}

func TestStageClaimOnce(t *testing.T) {
	cache, _ := newTestStage(t)

	id, expiresAt, err := cache.Stage("MBR-AAAA1111", models.ModeCollect)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "pf_"))
	assert.Greater(t, expiresAt, int64(0))

	prefill, err := cache.Claim(id)
	require.NoError(t, err)
	assert.Equal(t, "MBR-AAAA1111", prefill.MemberID)
	assert.Equal(t, models.ModeCollect, prefill.Mode)

	_, err = cache.Claim(id)
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonToken))
}

func TestStageExpiry(t *testing.T) {
	cache, clock := newTestStage(t)

	id, _, err := cache.Stage("MBR-AAAA1111", "")
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = cache.Claim(id)
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonToken))
	assert.Zero(t, cache.Len())
}

func TestStageInvalidMember(t *testing.T) {
	cache, _ := newTestStage(t)
	_, _, err := cache.Stage("not-a-member", "")
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonValidation))
}
