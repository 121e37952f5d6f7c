package models_test

import (
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/models"
)

// fakeNoteStore resolves names from in-memory maps and collects the notes
// the helpers produce.
type fakeNoteStore struct {
	users  map[int]string
	assets map[int]string
	notes  []*models.AuditNote
}

func (f *fakeNoteStore) FindUserName(userId int) (string, bool) {
	name, ok := f.users[userId]
	return name, ok
}

func (f *fakeNoteStore) FindAssetTitle(assetId int) (string, bool) {
	title, ok := f.assets[assetId]
	return title, ok
}

func (f *fakeNoteStore) CreateNote(note *models.AuditNote) error {
	f.notes = append(f.notes, note)
	return nil
}

func (f *fakeNoteStore) last(t *testing.T) *models.AuditNote {
	t.Helper()
	if len(f.notes) == 0 {
		t.Fatal("no note recorded")
	}
	return f.notes[len(f.notes)-1]
}

func TestCreateAuditCreationNote(t *testing.T) {
	store := &fakeNoteStore{users: map[int]string{7: "Casey Creator"}}

	if err := models.CreateAuditCreationNote(store, "org-1", 42, 7, 3); err != nil {
		t.Fatal(err)
	}
	note := store.last(t)
	if want := "**Casey Creator** created audit with **3** expected assets."; note.Content != want {
		t.Errorf("content = %q, want %q", note.Content, want)
	}
	if note.Type != models.AuditNoteTypeUpdate || note.AuditSessionId != 42 || note.UserId != 7 {
		t.Errorf("note = %+v", note)
	}

	if err := models.CreateAuditCreationNote(store, "org-1", 42, 7, 1); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** created audit with **1** expected asset."; store.last(t).Content != want {
		t.Errorf("singular content = %q, want %q", store.last(t).Content, want)
	}
}

func TestNoteHelpersSkipUnresolvableReferences(t *testing.T) {
	store := &fakeNoteStore{users: map[int]string{}, assets: map[int]string{5: "Laptop"}}

	if err := models.CreateAuditCreationNote(store, "org-1", 42, 99, 3); err != nil {
		t.Fatal(err)
	}
	if err := models.CreateAuditStartedNote(store, "org-1", 42, 99); err != nil {
		t.Fatal(err)
	}
	if err := models.CreateAssetScanNote(store, "org-1", 42, 5, 99, true); err != nil {
		t.Fatal(err)
	}
	if err := models.CreateAuditCancelledNote(store, "org-1", 42, 99); err != nil {
		t.Fatal(err)
	}
	if len(store.notes) != 0 {
		t.Errorf("notes for unknown user = %d, want 0 (silent skip)", len(store.notes))
	}

	// Known user, unknown asset: scan note still skips.
	store.users[7] = "Casey Creator"
	if err := models.CreateAssetScanNote(store, "org-1", 42, 404, 7, true); err != nil {
		t.Fatal(err)
	}
	if len(store.notes) != 0 {
		t.Errorf("notes for unknown asset = %d, want 0", len(store.notes))
	}
}

func TestCreateAssetScanNote(t *testing.T) {
	store := &fakeNoteStore{
		users:  map[int]string{7: "Casey Creator"},
		assets: map[int]string{5: "Laptop"},
	}

	if err := models.CreateAssetScanNote(store, "org-1", 42, 5, 7, true); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** scanned expected asset **Laptop**."; store.last(t).Content != want {
		t.Errorf("expected scan note = %q, want %q", store.last(t).Content, want)
	}

	if err := models.CreateAssetScanNote(store, "org-1", 42, 5, 7, false); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** scanned unexpected asset **Laptop**."; store.last(t).Content != want {
		t.Errorf("unexpected scan note = %q, want %q", store.last(t).Content, want)
	}
}

func TestCreateAuditCompletedNote(t *testing.T) {
	store := &fakeNoteStore{users: map[int]string{7: "Casey Creator"}}

	if err := models.CreateAuditCompletedNote(store, "org-1", 42, 7, 3, 2, 1, 4, ""); err != nil {
		t.Fatal(err)
	}
	note := store.last(t)
	if want := "Audit completed. Found **2/3** expected assets (**67%**), **1** missing, **4** unexpected."; note.Content != want {
		t.Errorf("content = %q, want %q", note.Content, want)
	}
	if note.Type != models.AuditNoteTypeComment {
		t.Errorf("type = %s, want COMMENT", note.Type)
	}

	// Multi-line completion notes render as a blockquote.
	if err := models.CreateAuditCompletedNote(store, "org-1", 42, 7, 2, 2, 0, 0, "All clear.\nSecond line."); err != nil {
		t.Fatal(err)
	}
	content := store.last(t).Content
	if !strings.Contains(content, "(**100%**)") {
		t.Errorf("content = %q, want 100%%", content)
	}
	if !strings.Contains(content, "**Completion note:**\n\n> All clear.\n> Second line.") {
		t.Errorf("blockquote missing: %q", content)
	}

	// Zero expected assets must not divide by zero.
	if err := models.CreateAuditCompletedNote(store, "org-1", 42, 7, 0, 0, 0, 2, ""); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(store.last(t).Content, "Found **0/0** expected assets (**0%**)") {
		t.Errorf("content = %q", store.last(t).Content)
	}
}

func TestCreateAuditUpdateNote(t *testing.T) {
	store := &fakeNoteStore{users: map[int]string{7: "Casey Creator"}}

	if err := models.CreateAuditUpdateNote(store, "org-1", 42, 7, nil); err != nil {
		t.Fatal(err)
	}
	if len(store.notes) != 0 {
		t.Error("empty change list should not record a note")
	}

	changes := []models.AuditFieldChange{
		{Field: "name", From: "Old", To: "New"},
		{Field: "description", From: "", To: "now with details"},
	}
	if err := models.CreateAuditUpdateNote(store, "org-1", 42, 7, changes); err != nil {
		t.Fatal(err)
	}
	content := store.last(t).Content
	if !strings.HasPrefix(content, "**Casey Creator** updated audit details:") {
		t.Errorf("content = %q", content)
	}
	if !strings.Contains(content, `- **audit name**: "Old" -> "New"`) {
		t.Errorf("name change line missing: %q", content)
	}
	if !strings.Contains(content, `- **description**: "" -> "now with details"`) {
		t.Errorf("description change line missing: %q", content)
	}
}

func TestCreateAssigneeNotes(t *testing.T) {
	store := &fakeNoteStore{users: map[int]string{7: "Casey Creator", 8: "Riley Reviewer"}}

	if err := models.CreateAssigneeAddedNote(store, "org-1", 42, 7, 8); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** added assignee: **Riley Reviewer**."; store.last(t).Content != want {
		t.Errorf("added content = %q, want %q", store.last(t).Content, want)
	}
	if store.last(t).UserId != 7 {
		t.Errorf("note user = %d, want the updater", store.last(t).UserId)
	}

	if err := models.CreateAssigneeRemovedNote(store, "org-1", 42, 7, 8); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** removed assignee: **Riley Reviewer**."; store.last(t).Content != want {
		t.Errorf("removed content = %q, want %q", store.last(t).Content, want)
	}

	// Unknown assignee: silent skip, like every other helper.
	before := len(store.notes)
	if err := models.CreateAssigneeAddedNote(store, "org-1", 42, 7, 99); err != nil {
		t.Fatal(err)
	}
	if len(store.notes) != before {
		t.Error("unknown assignee should not record a note")
	}
}

func TestCreateAssetsAddedToAuditNote(t *testing.T) {
	store := &fakeNoteStore{
		users:  map[int]string{7: "Casey Creator"},
		assets: map[int]string{5: "Laptop", 6: "Monitor"},
	}

	if err := models.CreateAssetsAddedToAuditNote(store, "org-1", 42, 7, []int{5}, 0); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** added **Laptop** to audit."; store.last(t).Content != want {
		t.Errorf("single content = %q, want %q", store.last(t).Content, want)
	}

	if err := models.CreateAssetsAddedToAuditNote(store, "org-1", 42, 7, []int{5, 6}, 1); err != nil {
		t.Fatal(err)
	}
	want := "**Casey Creator** added **2** assets (**Laptop**, **Monitor**) to audit. (**1** asset skipped as already in audit)"
	if store.last(t).Content != want {
		t.Errorf("multi content = %q, want %q", store.last(t).Content, want)
	}

	if err := models.CreateAssetsAddedToAuditNote(store, "org-1", 42, 7, []int{5, 6}, 3); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(store.last(t).Content, "(**3** assets skipped as already in audit)") {
		t.Errorf("plural skipped suffix missing: %q", store.last(t).Content)
	}

	// No resolvable assets: nothing to narrate.
	before := len(store.notes)
	if err := models.CreateAssetsAddedToAuditNote(store, "org-1", 42, 7, []int{404}, 0); err != nil {
		t.Fatal(err)
	}
	if len(store.notes) != before {
		t.Error("unresolvable asset list should not record a note")
	}
}

func TestCreateAssetRemovalNotes(t *testing.T) {
	store := &fakeNoteStore{
		users:  map[int]string{7: "Casey Creator"},
		assets: map[int]string{5: "Laptop"},
	}

	if err := models.CreateAssetRemovedFromAuditNote(store, "org-1", 42, 7, 5); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** removed **Laptop** from audit."; store.last(t).Content != want {
		t.Errorf("removed content = %q, want %q", store.last(t).Content, want)
	}

	if err := models.CreateAssetScanRemovedNote(store, "org-1", 42, 7, 5); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** removed scanned asset **Laptop**."; store.last(t).Content != want {
		t.Errorf("scan-removed content = %q, want %q", store.last(t).Content, want)
	}

	before := len(store.notes)
	if err := models.CreateAssetScanRemovedNote(store, "org-1", 42, 7, 404); err != nil {
		t.Fatal(err)
	}
	if len(store.notes) != before {
		t.Error("unknown asset should not record a note")
	}
}

func TestCreateDueDateChangedNote(t *testing.T) {
	store := &fakeNoteStore{users: map[int]string{7: "Casey Creator"}}
	oldDate := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	newDate := time.Date(2026, 3, 12, 17, 30, 0, 0, time.UTC)

	if err := models.CreateDueDateChangedNote(store, "org-1", 42, 7, nil, &newDate); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** set due date to **Mar 12, 2026 05:30 PM**."; store.last(t).Content != want {
		t.Errorf("set content = %q, want %q", store.last(t).Content, want)
	}

	if err := models.CreateDueDateChangedNote(store, "org-1", 42, 7, &oldDate, &newDate); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** changed due date from **Mar 10, 2026 09:00 AM** to **Mar 12, 2026 05:30 PM**."; store.last(t).Content != want {
		t.Errorf("change content = %q, want %q", store.last(t).Content, want)
	}

	if err := models.CreateDueDateChangedNote(store, "org-1", 42, 7, &oldDate, nil); err != nil {
		t.Fatal(err)
	}
	if want := "**Casey Creator** cleared the due date."; store.last(t).Content != want {
		t.Errorf("clear content = %q, want %q", store.last(t).Content, want)
	}

	before := len(store.notes)
	if err := models.CreateDueDateChangedNote(store, "org-1", 42, 7, nil, nil); err != nil {
		t.Fatal(err)
	}
	if len(store.notes) != before {
		t.Error("nil-to-nil change should not record a note")
	}
}
