package core

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/config"
)

var testDBSeq int64

// newTestDB opens a fresh in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:coretest%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, config.Migrate(db))
	return db
}

// testClock is a settable clock for components that take a now func.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() *config.Config {
	return &config.Config{
		PinIterations:  1000,
		SessionIdleTTL: 60 * time.Second,
		QRSigningKey:   []byte("0123456789abcdef0123456789abcdef"),
		QRTokenTTL:     180 * time.Second,
		LinkTokenTTL:   10 * time.Minute,
		StageTTL:       5 * time.Minute,
		LockRules:      config.DefaultLockRules(),
	}
}
