package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// Realm names used for session and lockout key namespacing.
const (
	RealmMember = "member"
	RealmStaff  = "staff"
	RealmAdmin  = "admin"
)

// SessionManager issues and validates opaque sliding-TTL session handles.
// Validation touches the row and returns the same id; rotation happens
// only on privilege-sensitive events via Rotate.
type SessionManager struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewSessionManager creates a manager with the configured idle TTL.
func NewSessionManager(db *gorm.DB, ttl time.Duration) *SessionManager {
	return &SessionManager{db: db, ttl: ttl, now: time.Now}
}

// SessionInfo is the resolved view of a valid session.
type SessionInfo struct {
	SID       string
	Realm     string
	SubjectID string
}

func newSID() string {
	return "s_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Create opens a session for a subject and returns the new id.
func (m *SessionManager) Create(realm, subjectID string) (string, error) {
	sid := newSID()
	session := models.Session{
		SID:        sid,
		Realm:      realm,
		SubjectID:  subjectID,
		LastSeenMs: m.now().UnixMilli(),
	}
	if err := m.db.Create(&session).Error; err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sid, nil
}

// Validate checks a session id and slides its idle window. Expired rows
// are deleted on access; there are no background timers.
func (m *SessionManager) Validate(sid string) (*SessionInfo, error) {
	if sid == "" {
		return nil, utils.AuthError("Please sign in", nil)
	}

	var session models.Session
	err := m.db.Where("sid = ?", sid).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.AuthError("Please sign in", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	nowMs := m.now().UnixMilli()
	if nowMs-session.LastSeenMs > m.ttl.Milliseconds() {
		m.db.Delete(&session)
		return nil, utils.AuthError("Session expired", nil)
	}

	// Touch only; the id is not rotated on renewal.
	if err := m.db.Model(&session).Update("last_seen_ms", nowMs).Error; err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}

	return &SessionInfo{SID: session.SID, Realm: session.Realm, SubjectID: session.SubjectID}, nil
}

// Rotate swaps the id of a live session, for privilege-sensitive events
// such as a PIN change. The old id stops working immediately.
func (m *SessionManager) Rotate(sid string) (string, error) {
	info, err := m.Validate(sid)
	if err != nil {
		return "", err
	}
	fresh := newSID()
	err = m.db.Model(&models.Session{}).Where("sid = ?", info.SID).Update("sid", fresh).Error
	if err != nil {
		return "", fmt.Errorf("failed to rotate session: %w", err)
	}
	return fresh, nil
}

// Revoke deletes a session. Idempotent; revoking an unknown id is fine.
func (m *SessionManager) Revoke(sid string) error {
	if sid == "" {
		return nil
	}
	if err := m.db.Where("sid = ?", sid).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// PurgeOlderThan removes sessions idle for longer than age. Maintenance
// only; Validate already drops expired rows lazily.
func (m *SessionManager) PurgeOlderThan(age time.Duration) (int64, error) {
	cutoff := m.now().UnixMilli() - age.Milliseconds()
	res := m.db.Where("last_seen_ms < ?", cutoff).Delete(&models.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}
