package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
)

// AuditNote is the append-only narrative log of a session. The engine only
// ever inserts notes; it never edits or deletes them.
type AuditNote struct {
	ID             int           `gorm:"primary_key" json:"id"`
	OrganizationId string        `gorm:"index;not null" json:"organization_id"`
	AuditSessionId int           `gorm:"index;not null" json:"audit_session_id"`
	AuditAssetId   *int          `gorm:"index" json:"audit_asset_id"`
	UserId         int           `gorm:"index;not null" json:"user_id"`
	Type           AuditNoteType `gorm:"size:20;not null;default:UPDATE" json:"type"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

// NoteStore is the minimal surface the note helpers need from the owning
// transaction: identity lookups for link rendering plus the insert itself.
// Keeping it narrow lets the helpers run against a fake in tests.
type NoteStore interface {
	FindUserName(userId int) (string, bool)
	FindAssetTitle(assetId int) (string, bool)
	CreateNote(note *AuditNote) error
}

const noteDateFormat = "Jan 2, 2006 03:04 PM"

func userLink(name string) string { return "**" + name + "**" }
func assetLink(title string) string { return "**" + title + "**" }

// assetListLink renders one asset as a plain link and several as a count
// plus the full list.
func assetListLink(titles []string) string {
	links := make([]string, 0, len(titles))
	for _, title := range titles {
		links = append(links, assetLink(title))
	}
	if len(links) == 1 {
		return links[0]
	}
	return fmt.Sprintf("**%d** assets (%s)", len(links), strings.Join(links, ", "))
}

// Notes are best-effort narrative. Every helper silently skips when the
// referenced user or asset cannot be resolved, so the lifecycle mutation
// they document still commits.

func CreateAuditCreationNote(store NoteStore, organizationId string, sessionId int, createdById int, expectedAssetCount int) error {
	creator, ok := store.FindUserName(createdById)
	if !ok {
		return nil
	}
	content := fmt.Sprintf("%s created audit with **%d** expected %s.",
		userLink(creator), expectedAssetCount, utils.Plural(expectedAssetCount, "asset"))
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         createdById,
		Type:           AuditNoteTypeUpdate,
		Content:        content,
	})
}

func CreateAuditStartedNote(store NoteStore, organizationId string, sessionId int, userId int) error {
	starter, ok := store.FindUserName(userId)
	if !ok {
		return nil
	}
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        fmt.Sprintf("%s started the audit.", userLink(starter)),
	})
}

func CreateAssetScanNote(store NoteStore, organizationId string, sessionId int, assetId int, userId int, isExpected bool) error {
	title, okAsset := store.FindAssetTitle(assetId)
	scanner, okUser := store.FindUserName(userId)
	if !okAsset || !okUser {
		return nil
	}
	assetStatus := "expected"
	if !isExpected {
		assetStatus = "unexpected"
	}
	content := fmt.Sprintf("%s scanned %s asset %s.", userLink(scanner), assetStatus, assetLink(title))
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        content,
	})
}

func CreateAuditCompletedNote(store NoteStore, organizationId string, sessionId int, userId int, expectedCount, foundCount, missingCount, unexpectedCount int, completionNote string) error {
	if _, ok := store.FindUserName(userId); !ok {
		return nil
	}

	percentage := 0
	if expectedCount > 0 {
		percentage = int(float64(foundCount)/float64(expectedCount)*100 + 0.5)
	}

	content := fmt.Sprintf("Audit completed. Found **%d/%d** expected assets (**%d%%**), **%d** missing, **%d** unexpected.",
		foundCount, expectedCount, percentage, missingCount, unexpectedCount)

	if note := strings.TrimSpace(completionNote); note != "" {
		content += "\n\n**Completion note:**\n\n> " + strings.ReplaceAll(note, "\n", "\n> ")
	}

	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeComment,
		Content:        content,
	})
}

func CreateAuditCancelledNote(store NoteStore, organizationId string, sessionId int, userId int) error {
	canceller, ok := store.FindUserName(userId)
	if !ok {
		return nil
	}
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        fmt.Sprintf("%s cancelled the audit.", userLink(canceller)),
	})
}

// AuditFieldChange is one before/after pair recorded by an update note.
type AuditFieldChange struct {
	Field string
	From  string
	To    string
}

func CreateAuditUpdateNote(store NoteStore, organizationId string, sessionId int, userId int, changes []AuditFieldChange) error {
	updater, ok := store.FindUserName(userId)
	if !ok || len(changes) == 0 {
		return nil
	}
	lines := make([]string, 0, len(changes))
	for _, change := range changes {
		fieldLabel := change.Field
		if fieldLabel == "name" {
			fieldLabel = "audit name"
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %q -> %q", fieldLabel, change.From, change.To))
	}
	content := fmt.Sprintf("%s updated audit details:\n\n%s", userLink(updater), strings.Join(lines, "\n\n"))
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        content,
	})
}

func CreateDueDateChangedNote(store NoteStore, organizationId string, sessionId int, userId int, oldDate, newDate *time.Time) error {
	updater, ok := store.FindUserName(userId)
	if !ok {
		return nil
	}

	var content string
	switch {
	case oldDate == nil && newDate != nil:
		content = fmt.Sprintf("%s set due date to **%s**.", userLink(updater), newDate.Format(noteDateFormat))
	case oldDate != nil && newDate == nil:
		content = fmt.Sprintf("%s cleared the due date.", userLink(updater))
	case oldDate != nil && newDate != nil:
		content = fmt.Sprintf("%s changed due date from **%s** to **%s**.",
			userLink(updater), oldDate.Format(noteDateFormat), newDate.Format(noteDateFormat))
	default:
		return nil
	}

	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        content,
	})
}

func CreateAssigneeAddedNote(store NoteStore, organizationId string, sessionId int, userId, assigneeId int) error {
	updater, okUpdater := store.FindUserName(userId)
	assignee, okAssignee := store.FindUserName(assigneeId)
	if !okUpdater || !okAssignee {
		return nil
	}
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        fmt.Sprintf("%s added assignee: %s.", userLink(updater), userLink(assignee)),
	})
}

func CreateAssigneeRemovedNote(store NoteStore, organizationId string, sessionId int, userId, assigneeId int) error {
	updater, okUpdater := store.FindUserName(userId)
	assignee, okAssignee := store.FindUserName(assigneeId)
	if !okUpdater || !okAssignee {
		return nil
	}
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        fmt.Sprintf("%s removed assignee: %s.", userLink(updater), userLink(assignee)),
	})
}

func CreateAssetsAddedToAuditNote(store NoteStore, organizationId string, sessionId int, userId int, assetIds []int, skippedCount int) error {
	adder, ok := store.FindUserName(userId)
	if !ok {
		return nil
	}
	titles := make([]string, 0, len(assetIds))
	for _, assetId := range assetIds {
		if title, found := store.FindAssetTitle(assetId); found {
			titles = append(titles, title)
		}
	}
	if len(titles) == 0 {
		return nil
	}
	content := fmt.Sprintf("%s added %s to audit.", userLink(adder), assetListLink(titles))
	if skippedCount > 0 {
		content += fmt.Sprintf(" (**%d** %s skipped as already in audit)",
			skippedCount, utils.Plural(skippedCount, "asset"))
	}
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        content,
	})
}

func CreateAssetRemovedFromAuditNote(store NoteStore, organizationId string, sessionId int, userId int, assetId int) error {
	remover, okUser := store.FindUserName(userId)
	title, okAsset := store.FindAssetTitle(assetId)
	if !okUser || !okAsset {
		return nil
	}
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        fmt.Sprintf("%s removed %s from audit.", userLink(remover), assetLink(title)),
	})
}

func CreateAssetScanRemovedNote(store NoteStore, organizationId string, sessionId int, userId int, assetId int) error {
	remover, okUser := store.FindUserName(userId)
	title, okAsset := store.FindAssetTitle(assetId)
	if !okUser || !okAsset {
		return nil
	}
	return store.CreateNote(&AuditNote{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         userId,
		Type:           AuditNoteTypeUpdate,
		Content:        fmt.Sprintf("%s removed scanned asset %s.", userLink(remover), assetLink(title)),
	})
}

func GetAuditNotes(ctx context.Context, sessionId int) ([]*AuditNote, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}

	var notes []*AuditNote
	err := db.WithContext(ctx).
		Where("organization_id = ? AND audit_session_id = ?", organizationId, sessionId).
		Order("created_at DESC, id DESC").
		Find(&notes).Error
	if err != nil {
		return nil, utils.WrapError(err, "unable to load audit notes", nil)
	}
	return notes, nil
}
