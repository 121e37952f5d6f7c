package models

import (
	"time"
)

// AuditReminderJob is one durable row in the reminder queue. The payload is
// deliberately thin: session id, event and rendering hints only. Session
// state is always re-read at fire time.
type AuditReminderJob struct {
	ID             int                `gorm:"primary_key" json:"id"`
	OrganizationId string             `gorm:"index;not null" json:"organization_id"`
	AuditSessionId int                `gorm:"not null;uniqueIndex:idx_reminder_session_event" json:"audit_session_id"`
	EventType      AuditReminderEvent `gorm:"size:30;not null;uniqueIndex:idx_reminder_session_event" json:"event_type"`
	RunAt          time.Time          `gorm:"not null;index" json:"run_at"`
	Status         ReminderJobStatus  `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	Attempts       int                `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt  *time.Time         `gorm:"index" json:"next_attempt_at"`
	LockedAt       *time.Time         `json:"locked_at"`
	LockedBy       string             `gorm:"size:100" json:"locked_by"`
	LastError      string             `gorm:"type:text" json:"last_error"`
	Locale         string             `gorm:"size:16" json:"locale"`
	Timezone       string             `gorm:"size:50" json:"timezone"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}
