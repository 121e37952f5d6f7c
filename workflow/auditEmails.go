package workflow

import (
	"context"
	"fmt"
	"html"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"gorm.io/gorm"
)

// Mailer is the narrow delivery surface the engine and the scheduler need.
// Delivery failures are logged by the caller, never propagated into the
// lifecycle transaction.
type Mailer interface {
	Send(to []string, subject, text, html string) error
}

const emailDateFormat = "Jan 2, 2006 3:04 PM"

type auditEmailArgs struct {
	Session     *models.AuditSession
	CreatorName string
}

func serverURL() string {
	if v := os.Getenv("SERVER_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	return "https://app.assetdesk.app"
}

// baseAuditEmailText wraps the event-specific line with the standard
// session summary block.
func baseAuditEmailText(args auditEmailArgs, emailContent string) string {
	s := args.Session

	var b strings.Builder
	b.WriteString("Howdy,\n\n")
	b.WriteString(emailContent)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s | %d %s\n\n", s.Name, s.ExpectedAssetCount, utils.Plural(s.ExpectedAssetCount, "asset"))
	fmt.Fprintf(&b, "Created by: %s\n", args.CreatorName)
	if s.DueDate != nil {
		fmt.Fprintf(&b, "Due date: %s\n", s.DueDate.Format(emailDateFormat))
	}
	if s.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", s.Description)
	}
	b.WriteString("To view the audit, follow the link below:\n")
	fmt.Fprintf(&b, "%s/audits/%d\n\n", serverURL(), s.ID)
	b.WriteString("Thanks,\nThe AssetDesk Team\n")
	return b.String()
}

func auditEmailHTML(heading string, text string) string {
	paragraphs := strings.Split(html.EscapeString(text), "\n\n")
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>%s</h2>", html.EscapeString(heading))
	for _, p := range paragraphs {
		fmt.Fprintf(&b, "<p>%s</p>", strings.ReplaceAll(p, "\n", "<br/>"))
	}
	b.WriteString("</body></html>")
	return b.String()
}

func auditAssignedEmailContent(args auditEmailArgs) string {
	return baseAuditEmailText(args, fmt.Sprintf("You've been assigned to audit: %q.", args.Session.Name))
}

func auditCancelledEmailContent(args auditEmailArgs) string {
	return baseAuditEmailText(args, fmt.Sprintf(
		"The audit %q has been cancelled by %s. This audit is no longer active.",
		args.Session.Name, args.CreatorName))
}

func auditCompletedEmailContent(args auditEmailArgs, completedAt time.Time, wasOverdue bool) string {
	statusMessage := fmt.Sprintf("The audit %q has been completed on %s.",
		args.Session.Name, completedAt.Format(emailDateFormat))
	if args.Session.DueDate != nil {
		if wasOverdue {
			statusMessage += fmt.Sprintf("\n\nThis audit was completed after the due date (%s).",
				args.Session.DueDate.Format(emailDateFormat))
		} else {
			statusMessage += fmt.Sprintf("\n\nThis audit was completed before the due date (%s).",
				args.Session.DueDate.Format(emailDateFormat))
		}
	}
	return baseAuditEmailText(args, statusMessage)
}

func auditReminderEmailContent(args auditEmailArgs, timeframe string) string {
	return baseAuditEmailText(args, fmt.Sprintf("Reminder: The audit %q is due in %s.", args.Session.Name, timeframe))
}

func auditOverdueEmailContent(args auditEmailArgs) string {
	return baseAuditEmailText(args, fmt.Sprintf(
		"The audit %q is now overdue. Please complete it as soon as possible.", args.Session.Name))
}

type auditRecipient struct {
	UserId int
	Name   string
	Email  string
}

// assignmentRecipients loads the assignees of a session with their emails.
func assignmentRecipients(ctx context.Context, db *gorm.DB, session *models.AuditSession) ([]auditRecipient, error) {
	var recipients []auditRecipient
	err := db.WithContext(ctx).
		Table("audit_assignments").
		Select("users.id AS user_id, users.name, users.email").
		Joins("JOIN users ON users.id = audit_assignments.user_id").
		Where("audit_assignments.audit_session_id = ?", session.ID).
		Scan(&recipients).Error
	if err != nil {
		return nil, err
	}
	return recipients, nil
}

// overdueRecipients is {creator} union assignees, de-duplicated by email.
func overdueRecipients(ctx context.Context, db *gorm.DB, session *models.AuditSession) ([]auditRecipient, error) {
	assignees, err := assignmentRecipients(ctx, db, session)
	if err != nil {
		return nil, err
	}

	var creator models.User
	if err := db.WithContext(ctx).
		Select("id", "name", "email").
		Where("id = ?", session.CreatedById).
		First(&creator).Error; err == nil {
		assignees = append([]auditRecipient{{UserId: creator.ID, Name: creator.Name, Email: creator.Email}}, assignees...)
	}

	seen := make(map[string]bool, len(assignees))
	var out []auditRecipient
	for _, r := range assignees {
		email := strings.ToLower(strings.TrimSpace(r.Email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, r)
	}
	return out, nil
}

func creatorName(ctx context.Context, db *gorm.DB, session *models.AuditSession) string {
	var creator models.User
	if err := db.WithContext(ctx).
		Select("id", "name").
		Where("id = ?", session.CreatedById).
		First(&creator).Error; err != nil {
		return "Unknown User"
	}
	return creator.Name
}

func (e *AuditEngine) sendMail(ctx context.Context, funcName string, to []string, subject, text string, heading string) {
	if e.Mailer == nil || len(to) == 0 {
		return
	}
	if err := e.Mailer.Send(to, subject, text, auditEmailHTML(heading, text)); err != nil {
		e.logError(funcName, "send email", map[string]any{"to": to, "subject": subject}, err)
	}
}

// notifyAssigned emails each explicit assignee after session creation.
func (e *AuditEngine) notifyAssigned(ctx context.Context, session *models.AuditSession, assigneeIds []int) {
	if e.Mailer == nil || len(assigneeIds) == 0 {
		return
	}
	recipients, err := assignmentRecipients(ctx, e.DB, session)
	if err != nil {
		e.logError("notifyAssigned", "load recipients", session.ID, err)
		return
	}
	args := auditEmailArgs{Session: session, CreatorName: creatorName(ctx, e.DB, session)}
	heading := fmt.Sprintf("You've been assigned to audit: %q", session.Name)
	subject := heading + " - AssetDesk"
	for _, r := range recipients {
		if r.UserId == session.CreatedById {
			continue
		}
		e.sendMail(ctx, "notifyAssigned", []string{r.Email}, subject, auditAssignedEmailContent(args), heading)
	}
}

// notifyCompleted emails every assignee once the session is completed.
func (e *AuditEngine) notifyCompleted(ctx context.Context, session *models.AuditSession, wasOverdue bool) {
	if e.Mailer == nil {
		return
	}
	recipients, err := assignmentRecipients(ctx, e.DB, session)
	if err != nil {
		e.logError("notifyCompleted", "load recipients", session.ID, err)
		return
	}
	completedAt := time.Now().UTC()
	if session.CompletedAt != nil {
		completedAt = *session.CompletedAt
	}
	args := auditEmailArgs{Session: session, CreatorName: creatorName(ctx, e.DB, session)}
	heading := fmt.Sprintf("Audit completed: %q", session.Name)
	subject := heading + " - AssetDesk"
	text := auditCompletedEmailContent(args, completedAt, wasOverdue)
	for _, r := range recipients {
		e.sendMail(ctx, "notifyCompleted", []string{r.Email}, subject, text, heading)
	}
}

// notifyCancelled emails assignees other than the canceller.
func (e *AuditEngine) notifyCancelled(ctx context.Context, session *models.AuditSession, cancelledById int) {
	if e.Mailer == nil {
		return
	}
	recipients, err := assignmentRecipients(ctx, e.DB, session)
	if err != nil {
		e.logError("notifyCancelled", "load recipients", session.ID, err)
		return
	}
	args := auditEmailArgs{Session: session, CreatorName: creatorName(ctx, e.DB, session)}
	heading := fmt.Sprintf("Audit cancelled: %q", session.Name)
	subject := heading + " - AssetDesk"
	text := auditCancelledEmailContent(args)
	for _, r := range recipients {
		if r.UserId == cancelledById {
			continue
		}
		e.sendMail(ctx, "notifyCancelled", []string{r.Email}, subject, text, heading)
	}
}
