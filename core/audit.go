package core

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cashbeik/loyalty/models"
	"github.com/cashbeik/loyalty/utils"
)

// Auditor appends operational events to the audit table. Writes are best
// effort: a failed audit insert is logged and never fails the operation
// it describes.
type Auditor struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAuditor creates an auditor over the given database.
func NewAuditor(db *gorm.DB) *Auditor {
	return &Auditor{db: db, now: time.Now}
}

// Emit records one event.
func (a *Auditor) Emit(eventType, format string, args ...interface{}) {
	event := models.AuditEvent{
		AtMs:    a.now().UnixMilli(),
		Type:    eventType,
		Message: fmt.Sprintf(format, args...),
	}
	if err := a.db.Create(&event).Error; err != nil {
		utils.LogError("Failed to write audit event %s: %v", eventType, err)
	}
}

// Recent returns the newest events, for the admin console.
func (a *Auditor) Recent(limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []models.AuditEvent
	err := a.db.Order("at_ms DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load audit events: %w", err)
	}
	return events, nil
}
