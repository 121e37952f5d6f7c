package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Offsets of each reminder stage from the session due date.
var reminderStageOffsets = map[models.AuditReminderEvent]time.Duration{
	models.ReminderEvent24h:     24 * time.Hour,
	models.ReminderEvent4h:      4 * time.Hour,
	models.ReminderEvent1h:      1 * time.Hour,
	models.ReminderEventOverdue: 0,
}

// successorStage maps each stage to the next link of the chain. The chain
// ends after the overdue notice; it never repeats.
func successorStage(event models.AuditReminderEvent) (models.AuditReminderEvent, bool) {
	switch event {
	case models.ReminderEvent24h:
		return models.ReminderEvent4h, true
	case models.ReminderEvent4h:
		return models.ReminderEvent1h, true
	case models.ReminderEvent1h:
		return models.ReminderEventOverdue, true
	case models.ReminderEventOverdue:
		return "", false
	default:
		return "", false
	}
}

// ReminderScheduler drives the durable reminder job chain: it claims due
// jobs from the audit_reminder_jobs table and runs them on a bounded worker
// pool. Claiming uses FOR UPDATE SKIP LOCKED on MySQL so several instances
// can poll the same table; stale PROCESSING rows are reclaimed after
// LockTimeout, giving at-least-once delivery.
type ReminderScheduler struct {
	DB          *gorm.DB
	Mailer      Mailer
	Logger      *logrus.Logger
	SchedulerID string

	Workers        int
	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration

	// Now is swappable in tests. Defaults to time.Now.
	Now func() time.Time
}

func NewReminderScheduler(db *gorm.DB, mailer Mailer, logger *logrus.Logger) *ReminderScheduler {
	return &ReminderScheduler{
		DB:             db,
		Mailer:         mailer,
		Logger:         logger,
		SchedulerID:    uuid.NewString(),
		Workers:        2,
		BatchSize:      20,
		PollInterval:   15 * time.Second,
		LockTimeout:    2 * time.Minute,
		MaxAttempts:    5,
		InitialBackoff: 30 * time.Second,
	}
}

func (s *ReminderScheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Enqueue inserts one job row. The unique (session, event) index makes
// enqueueing idempotent: re-enqueueing an existing stage is a no-op.
func (s *ReminderScheduler) Enqueue(db *gorm.DB, session *models.AuditSession, event models.AuditReminderEvent, runAt time.Time, locale, timezone string) error {
	if !event.IsValid() {
		return fmt.Errorf("unknown reminder event %q", event)
	}
	job := models.AuditReminderJob{
		OrganizationId: session.OrganizationId,
		AuditSessionId: session.ID,
		EventType:      event,
		RunAt:          runAt.UTC(),
		Status:         models.ReminderJobStatusPending,
		Locale:         locale,
		Timezone:       timezone,
	}
	if err := db.Create(&job).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil
		}
		return err
	}
	return nil
}

// ScheduleFirstReminder picks the first chain stage that still lies in the
// future relative to the due date and enqueues it. A session created less
// than an hour before its due date starts directly at the overdue notice.
func (s *ReminderScheduler) ScheduleFirstReminder(ctx context.Context, session *models.AuditSession) error {
	if session.DueDate == nil {
		return nil
	}
	due := session.DueDate.UTC()
	remaining := due.Sub(s.now())

	stage := models.ReminderEventOverdue
	switch {
	case remaining > 24*time.Hour:
		stage = models.ReminderEvent24h
	case remaining > 4*time.Hour:
		stage = models.ReminderEvent4h
	case remaining > 1*time.Hour:
		stage = models.ReminderEvent1h
	}

	locale, timezone := s.renderingHints(ctx, session)
	runAt := due.Add(-reminderStageOffsets[stage])
	return s.Enqueue(s.DB.WithContext(ctx), session, stage, runAt, locale, timezone)
}

func (s *ReminderScheduler) renderingHints(ctx context.Context, session *models.AuditSession) (string, string) {
	var org models.Organization
	err := s.DB.WithContext(ctx).
		Select("id", "locale", "timezone").
		Where("id = ?", session.OrganizationId).
		First(&org).Error
	if err != nil {
		return "", ""
	}
	return org.Locale, org.Timezone
}

// Run polls until the context is cancelled.
func (s *ReminderScheduler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.PollInterval):
		}
	}
}

// DispatchOnce claims one batch of due jobs and processes it on the worker
// pool. Exported so tests can step the scheduler deterministically.
func (s *ReminderScheduler) DispatchOnce(ctx context.Context) {
	if s.DB == nil {
		return
	}
	now := s.now()
	staleBefore := now.Add(-s.LockTimeout)

	var claimed []models.AuditReminderJob
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED, due, and ready to retry
		// - PROCESSING but lock is stale (worker crashed mid-job)
		q := tx.
			Where(`
				(
					status IN ? AND run_at <= ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []models.ReminderJobStatus{models.ReminderJobStatusPending, models.ReminderJobStatusFailed}, now, now,
				models.ReminderJobStatusProcessing, staleBefore).
			Order("run_at ASC, id ASC").
			Limit(s.BatchSize)
		if tx.Dialector.Name() == "mysql" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		for i := range claimed {
			// Poison jobs go terminal after MaxAttempts.
			if s.MaxAttempts > 0 && claimed[i].Attempts >= s.MaxAttempts {
				msg := fmt.Sprintf("max attempts exceeded (%d)", s.MaxAttempts)
				claimed[i].Status = models.ReminderJobStatusDead
				if err := tx.Model(&models.AuditReminderJob{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"status":          models.ReminderJobStatusDead,
					"last_error":      msg,
					"next_attempt_at": nil,
					"locked_at":       nil,
					"locked_by":       "",
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].Status = models.ReminderJobStatusProcessing
			claimed[i].Attempts = claimed[i].Attempts + 1
			if err := tx.Model(&models.AuditReminderJob{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"status":          models.ReminderJobStatusProcessing,
				"locked_at":       &now,
				"locked_by":       s.SchedulerID,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_error":      "",
				"next_attempt_at": nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		if err != nil && s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"field":        "ReminderScheduler",
				"scheduler_id": s.SchedulerID,
			}).Error("failed to claim reminder jobs: " + err.Error())
		}
		return
	}

	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for _, job := range claimed {
		if job.Status == models.ReminderJobStatusDead {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(job models.AuditReminderJob) {
			defer wg.Done()
			defer func() { <-sem }()
			// Handler panics must not take down the poll loop.
			defer func() {
				if r := recover(); r != nil {
					s.markFailed(ctx, &job, fmt.Errorf("panic: %v", r))
				}
			}()
			if err := s.handleJob(ctx, &job); err != nil {
				s.markFailed(ctx, &job, err)
				return
			}
			s.markSent(ctx, &job)
		}(job)
	}
	wg.Wait()
}

func (s *ReminderScheduler) markSent(ctx context.Context, job *models.AuditReminderJob) {
	_ = s.DB.WithContext(ctx).Model(&models.AuditReminderJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":          models.ReminderJobStatusSent,
			"locked_at":       nil,
			"locked_by":       "",
			"next_attempt_at": nil,
		}).Error
}

func (s *ReminderScheduler) markFailed(ctx context.Context, job *models.AuditReminderJob, jobErr error) {
	now := s.now()
	msg := jobErr.Error()

	if s.MaxAttempts > 0 && job.Attempts >= s.MaxAttempts {
		_ = s.DB.WithContext(ctx).Model(&models.AuditReminderJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":          models.ReminderJobStatusDead,
				"last_error":      msg,
				"next_attempt_at": nil,
				"locked_at":       nil,
				"locked_by":       "",
			}).Error
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"field":            "ReminderScheduler",
				"job_id":           job.ID,
				"audit_session_id": job.AuditSessionId,
				"event_type":       job.EventType,
				"attempt":          job.Attempts,
			}).Error("reminder job moved to DEAD after max attempts: " + msg)
		}
		return
	}

	backoff := s.InitialBackoff
	for i := 1; i < job.Attempts; i++ {
		backoff *= 2
		if backoff > 10*time.Minute {
			backoff = 10 * time.Minute
			break
		}
	}
	next := now.Add(backoff)
	_ = s.DB.WithContext(ctx).Model(&models.AuditReminderJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":          models.ReminderJobStatusFailed,
			"last_error":      msg,
			"next_attempt_at": &next,
			"locked_at":       nil,
			"locked_by":       "",
		}).Error

	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field":            "ReminderScheduler",
			"job_id":           job.ID,
			"audit_session_id": job.AuditSessionId,
			"event_type":       job.EventType,
			"attempt":          job.Attempts,
			"next_attempt_at":  next.Format(time.RFC3339Nano),
		}).Error("reminder job failed: " + msg)
	}
}
