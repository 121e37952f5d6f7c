package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/workflow"
	"gorm.io/gorm"
)

type publishedMessage struct {
	OrganizationId string
	Message        config.PubSubMessage
}

func newTestDispatcher(db *gorm.DB) (*workflow.OutboxDispatcher, *[]publishedMessage) {
	dispatcher := workflow.NewOutboxDispatcher(db, nil)
	published := &[]publishedMessage{}
	dispatcher.Publish = func(_ context.Context, organizationId string, msg config.PubSubMessage) (string, error) {
		*published = append(*published, publishedMessage{OrganizationId: organizationId, Message: msg})
		return fmt.Sprintf("msg-%d", msg.ID), nil
	}
	return dispatcher, published
}

func TestOutboxDispatchPublishesCommittedEvents(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	creator := seedUser(t, db, org.ID.String(), "creator", "Casey Creator", "casey@test.local")
	asset := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), creator)
	session, err := engine.CreateAuditSession(ctx, &models.NewAuditSession{
		Name: "Outbox Test", AssetIds: []int{asset.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.CompleteAuditSession(ctx, session.ID, ""); err != nil {
		t.Fatal(err)
	}

	dispatcher, published := newTestDispatcher(db)
	dispatcher.DispatchOnce(context.Background())

	if len(*published) != 2 {
		t.Fatalf("published = %d, want CREATED and COMPLETED", len(*published))
	}
	first := (*published)[0]
	if first.OrganizationId != org.ID.String() || first.Message.Action != string(models.AuditEventActionCreated) {
		t.Errorf("first message = %+v", first)
	}
	if first.Message.ReferenceId != session.ID || first.Message.ReferenceType != "AUDIT_SESSION" {
		t.Errorf("reference = %d/%s", first.Message.ReferenceId, first.Message.ReferenceType)
	}
	if first.Message.CorrelationId == "" {
		t.Error("correlation id missing from envelope")
	}
	if (*published)[1].Message.Action != string(models.AuditEventActionCompleted) {
		t.Errorf("second action = %s, want COMPLETED", (*published)[1].Message.Action)
	}

	var records []models.AuditEventRecord
	if err := db.Order("id").Find(&records).Error; err != nil {
		t.Fatal(err)
	}
	for _, rec := range records {
		if rec.PublishStatus != models.OutboxPublishStatusSent {
			t.Errorf("record %d status = %s, want SENT", rec.ID, rec.PublishStatus)
		}
		if rec.PublishedAt == nil || rec.PubSubMessageId == nil {
			t.Errorf("record %d missing publish bookkeeping", rec.ID)
		} else if *rec.PubSubMessageId != fmt.Sprintf("msg-%d", rec.ID) {
			t.Errorf("record %d message id = %s", rec.ID, *rec.PubSubMessageId)
		}
	}

	// Sent records are never republished.
	dispatcher.DispatchOnce(context.Background())
	if len(*published) != 2 {
		t.Errorf("published after second pass = %d, want 2", len(*published))
	}
}

func TestOutboxDispatchRetriesFailures(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	creator := seedUser(t, db, org.ID.String(), "creator", "Casey Creator", "casey@test.local")
	asset := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), creator)
	if _, err := engine.CreateAuditSession(ctx, &models.NewAuditSession{
		Name: "Retry Test", AssetIds: []int{asset.ID},
	}); err != nil {
		t.Fatal(err)
	}

	dispatcher := workflow.NewOutboxDispatcher(db, nil)
	dispatcher.MaxAttempts = 2
	attempts := 0
	dispatcher.Publish = func(context.Context, string, config.PubSubMessage) (string, error) {
		attempts++
		return "", errors.New("broker unavailable")
	}

	dispatcher.DispatchOnce(context.Background())
	var rec models.AuditEventRecord
	if err := db.First(&rec).Error; err != nil {
		t.Fatal(err)
	}
	if rec.PublishStatus != models.OutboxPublishStatusFailed {
		t.Fatalf("status after first failure = %s, want FAILED", rec.PublishStatus)
	}
	if rec.PublishAttempts != 1 || rec.NextAttemptAt == nil {
		t.Errorf("attempts/next = %d/%v, want 1 with backoff", rec.PublishAttempts, rec.NextAttemptAt)
	}
	if rec.LastPublishError == nil || *rec.LastPublishError != "broker unavailable" {
		t.Errorf("last error = %v", rec.LastPublishError)
	}

	// Not yet eligible: the backoff timestamp gates the retry.
	dispatcher.DispatchOnce(context.Background())
	if attempts != 1 {
		t.Fatalf("publish attempts before backoff elapsed = %d, want 1", attempts)
	}

	past := time.Now().Add(-time.Second)
	if err := db.Model(&models.AuditEventRecord{}).Where("id = ?", rec.ID).
		Update("next_attempt_at", &past).Error; err != nil {
		t.Fatal(err)
	}
	dispatcher.DispatchOnce(context.Background())
	if attempts != 2 {
		t.Fatalf("publish attempts after backoff = %d, want 2", attempts)
	}
	if err := db.First(&rec, rec.ID).Error; err != nil {
		t.Fatal(err)
	}
	if rec.PublishStatus != models.OutboxPublishStatusDead {
		t.Fatalf("status after max attempts = %s, want DEAD", rec.PublishStatus)
	}

	// Dead rows stay dead.
	if err := db.Model(&models.AuditEventRecord{}).Where("id = ?", rec.ID).
		Update("next_attempt_at", &past).Error; err != nil {
		t.Fatal(err)
	}
	dispatcher.DispatchOnce(context.Background())
	if attempts != 2 {
		t.Errorf("publish attempts for dead row = %d, want 2", attempts)
	}
}
