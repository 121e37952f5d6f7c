package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// handleJob re-reads the session and dispatches on the event type. The
// switch is exhaustive over models.AuditReminderEvent: a new stage that
// reaches here without a case is a bug, not a silent skip.
func (s *ReminderScheduler) handleJob(ctx context.Context, job *models.AuditReminderJob) error {

	var session models.AuditSession
	err := s.DB.WithContext(ctx).
		Where("organization_id = ? AND id = ?", job.OrganizationId, job.AuditSessionId).
		First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// Session deleted since the job was queued. Nothing to do.
			s.logSkip(job, "session no longer exists")
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	// Jobs always re-check current state at fire time: a session that was
	// completed, cancelled or stripped of its due date since enqueue turns
	// the job into a silent no-op.
	if session.DueDate == nil {
		s.logSkip(job, "session has no due date")
		return nil
	}
	if session.Status.IsTerminal() {
		s.logSkip(job, "session reached terminal status")
		return nil
	}

	switch job.EventType {
	case models.ReminderEvent24h:
		return s.fireReminderStage(ctx, job, &session, "24 hours")
	case models.ReminderEvent4h:
		return s.fireReminderStage(ctx, job, &session, "4 hours")
	case models.ReminderEvent1h:
		return s.fireReminderStage(ctx, job, &session, "1 hour")
	case models.ReminderEventOverdue:
		return s.fireOverdueNotice(ctx, job, &session)
	default:
		return fmt.Errorf("unknown reminder event %q", job.EventType)
	}
}

// fireReminderStage sends the stage's reminder to all assignees and
// enqueues the successor stage at its offset from the due date.
func (s *ReminderScheduler) fireReminderStage(ctx context.Context, job *models.AuditReminderJob, session *models.AuditSession, timeframe string) error {

	recipients, err := assignmentRecipients(ctx, s.DB, session)
	if err != nil {
		return fmt.Errorf("load assignees: %w", err)
	}

	args := auditEmailArgs{Session: session, CreatorName: creatorName(ctx, s.DB, session)}
	heading := fmt.Sprintf("Audit due in %s", timeframe)
	subject := fmt.Sprintf("%s: %q - AssetDesk", heading, session.Name)
	text := auditReminderEmailContent(args, timeframe)
	html := auditEmailHTML(heading, text)

	for _, r := range recipients {
		if r.Email == "" {
			continue
		}
		if s.Mailer != nil {
			if sendErr := s.Mailer.Send([]string{r.Email}, subject, text, html); sendErr != nil {
				s.logSendFailure(job, r.Email, sendErr)
			}
		}
	}

	next, ok := successorStage(job.EventType)
	if !ok {
		return nil
	}
	runAt := session.DueDate.UTC().Add(-reminderStageOffsets[next])
	return s.Enqueue(s.DB.WithContext(ctx), session, next, runAt, job.Locale, job.Timezone)
}

// fireOverdueNotice mails creator plus assignees, de-duplicated by email.
// It never mutates session status (overdue is a derived read-time property)
// and it schedules nothing: the chain ends here.
func (s *ReminderScheduler) fireOverdueNotice(ctx context.Context, job *models.AuditReminderJob, session *models.AuditSession) error {

	recipients, err := overdueRecipients(ctx, s.DB, session)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	args := auditEmailArgs{Session: session, CreatorName: creatorName(ctx, s.DB, session)}
	heading := fmt.Sprintf("Audit overdue: %q", session.Name)
	subject := heading + " - AssetDesk"
	text := auditOverdueEmailContent(args)
	html := auditEmailHTML(heading, text)

	for _, r := range recipients {
		if s.Mailer != nil {
			if sendErr := s.Mailer.Send([]string{r.Email}, subject, text, html); sendErr != nil {
				s.logSendFailure(job, r.Email, sendErr)
			}
		}
	}
	return nil
}

func (s *ReminderScheduler) logSkip(job *models.AuditReminderJob, reason string) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"field":            "ReminderScheduler",
		"job_id":           job.ID,
		"audit_session_id": job.AuditSessionId,
		"event_type":       job.EventType,
	}).Info("reminder job skipped: " + reason)
}

func (s *ReminderScheduler) logSendFailure(job *models.AuditReminderJob, email string, err error) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"field":            "ReminderScheduler",
		"job_id":           job.ID,
		"audit_session_id": job.AuditSessionId,
		"event_type":       job.EventType,
		"email":            email,
	}).Error("failed to send reminder email: " + err.Error())
}
