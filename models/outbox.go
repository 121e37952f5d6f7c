package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for AuditEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

type AuditEventAction string

const (
	AuditEventActionCreated   AuditEventAction = "CREATED"
	AuditEventActionCompleted AuditEventAction = "COMPLETED"
	AuditEventActionCancelled AuditEventAction = "CANCELLED"
)

// AuditEventRecord is a transactional outbox row: written inside the owning
// lifecycle transaction, published to Pub/Sub asynchronously by the outbox
// dispatcher after commit.
type AuditEventRecord struct {
	ID             int              `gorm:"primary_key;index:idx_audit_outbox_dispatch,priority:3" json:"id"`
	OrganizationId string           `gorm:"size:64;not null;index" json:"organization_id"`
	OccurredAt     time.Time        `gorm:"index;not null" json:"occurred_at"`
	ReferenceId    int              `gorm:"index" json:"reference_id"`
	ReferenceType  string           `gorm:"size:30;not null" json:"reference_type"`
	Action         AuditEventAction `gorm:"size:20;not null" json:"action"`
	Payload        []byte           `gorm:"type:blob" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_audit_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_audit_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishAuditEventRecord writes the outbox row inside the caller's
// transaction. It never talks to Pub/Sub itself.
func PublishAuditEventRecord(ctx context.Context, db *gorm.DB, organizationId string, session *AuditSession, action AuditEventAction) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	record := AuditEventRecord{
		OrganizationId: organizationId,
		OccurredAt:     time.Now().UTC(),
		ReferenceId:    session.ID,
		ReferenceType:  "AUDIT_SESSION",
		Action:         action,
		Payload:        payload,
		PublishStatus:  OutboxPublishStatusPending,
		CorrelationId:  correlationIdFromContextOrNew(ctx),
	}
	return db.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToPubSubMessage(record AuditEventRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:             record.ID,
		OrganizationId: record.OrganizationId,
		OccurredAt:     record.OccurredAt,
		ReferenceId:    record.ReferenceId,
		ReferenceType:  record.ReferenceType,
		Action:         string(record.Action),
		Payload:        record.Payload,
		CorrelationId:  record.CorrelationId,
	}
}
