package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cashbeik/loyalty/utils"
)

func newTestSessions(t *testing.T) (*SessionManager, *testClock) {
	t.Helper()
	clock := newTestClock()
	mgr := NewSessionManager(newTestDB(t), 60*time.Second)
	mgr.now = clock.Now
	return mgr, clock
}

func TestSessionCreateAndValidate(t *testing.T) {
	mgr, _ := newTestSessions(t)

	sid, err := mgr.Create(RealmMember, "MBR-AAAA1111")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sid, "s_"))

	info, err := mgr.Validate(sid)
	require.NoError(t, err)
	assert.Equal(t, sid, info.SID)
	assert.Equal(t, RealmMember, info.Realm)
	assert.Equal(t, "MBR-AAAA1111", info.SubjectID)
}

func TestSessionSlidingWindow(t *testing.T) {
	mgr, clock := newTestSessions(t)

	sid, err := mgr.Create(RealmStaff, "till1")
	require.NoError(t, err)

	// Touches inside the idle window keep it alive indefinitely.
	for i := 0; i < 5; i++ {
		clock.Advance(50 * time.Second)
		_, err = mgr.Validate(sid)
		require.NoError(t, err)
	}

	clock.Advance(61 * time.Second)
	_, err = mgr.Validate(sid)
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonAuth))

	// The expired row was deleted on access.
	_, err = mgr.Validate(sid)
	require.Error(t, err)
}

func TestSessionStoredUnderSidColumn(t *testing.T) {
	mgr, _ := newTestSessions(t)

	sid, err := mgr.Create(RealmMember, "MBR-AAAA1111")
	require.NoError(t, err)

	// The handle column must be addressable as "sid"; every manager query
	// targets it by that name.
	var count int64
	require.NoError(t, mgr.db.Table("sessions").Where("sid = ?", sid).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSessionValidateEmpty(t *testing.T) {
	mgr, _ := newTestSessions(t)
	_, err := mgr.Validate("")
	require.Error(t, err)
	assert.True(t, utils.HasReason(err, utils.ReasonAuth))
}

func TestSessionRotate(t *testing.T) {
	mgr, _ := newTestSessions(t)

	sid, err := mgr.Create(RealmStaff, "till1")
	require.NoError(t, err)

	fresh, err := mgr.Rotate(sid)
	require.NoError(t, err)
	assert.NotEqual(t, sid, fresh)

	// Old id is dead, new one carries the subject.
	_, err = mgr.Validate(sid)
	require.Error(t, err)
	info, err := mgr.Validate(fresh)
	require.NoError(t, err)
	assert.Equal(t, "till1", info.SubjectID)
}

func TestSessionRevokeIdempotent(t *testing.T) {
	mgr, _ := newTestSessions(t)

	sid, err := mgr.Create(RealmMember, "MBR-AAAA1111")
	require.NoError(t, err)

	require.NoError(t, mgr.Revoke(sid))
	require.NoError(t, mgr.Revoke(sid))
	require.NoError(t, mgr.Revoke("s_unknown"))

	_, err = mgr.Validate(sid)
	require.Error(t, err)
}

func TestSessionPurge(t *testing.T) {
	mgr, clock := newTestSessions(t)

	_, err := mgr.Create(RealmMember, "MBR-AAAA1111")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)
	keep, err := mgr.Create(RealmMember, "MBR-BBBB2222")
	require.NoError(t, err)

	n, err := mgr.PurgeOlderThan(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = mgr.Validate(keep)
	require.NoError(t, err)
}
