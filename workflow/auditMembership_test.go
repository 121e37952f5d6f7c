package workflow_test

import (
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"bitbucket.org/mmdatafocus/assets_backend/workflow"
)

func TestAddAndRemoveAuditAssignee(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	creator := seedUser(t, db, org.ID.String(), "creator", "Casey Creator", "casey@test.local")
	helper := seedUser(t, db, org.ID.String(), "helper", "Riley Reviewer", "riley@test.local")
	asset := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), creator)

	session, err := engine.CreateAuditSession(ctx, &models.NewAuditSession{
		Name: "Assignment Test", AssetIds: []int{asset.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	assignment, err := engine.AddAuditAssignee(ctx, session.ID, helper.ID)
	if err != nil {
		t.Fatalf("AddAuditAssignee: %v", err)
	}
	if assignment.UserId != helper.ID || assignment.Role != models.AuditAssignmentRoleBase {
		t.Errorf("assignment = %+v, want BASE for helper", assignment)
	}

	if _, err := engine.AddAuditAssignee(ctx, session.ID, helper.ID); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Errorf("duplicate assignee: kind = %v, want validation", utils.KindOf(err))
	}
	if _, err := engine.AddAuditAssignee(ctx, session.ID, 9999); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Errorf("unknown assignee: kind = %v, want validation", utils.KindOf(err))
	}

	// The lead stays for the session's whole life.
	if err := engine.RemoveAuditAssignee(ctx, session.ID, creator.ID); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Errorf("remove lead: kind = %v, want validation", utils.KindOf(err))
	}

	if err := engine.RemoveAuditAssignee(ctx, session.ID, helper.ID); err != nil {
		t.Fatalf("RemoveAuditAssignee: %v", err)
	}
	assignments, err := models.GetAuditAssignments(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(assignments) != 1 || assignments[0].UserId != creator.ID {
		t.Errorf("assignments after removal = %+v, want lead only", assignments)
	}
	if err := engine.RemoveAuditAssignee(ctx, session.ID, helper.ID); utils.KindOf(err) != utils.ErrorKindNotFound {
		t.Errorf("double removal: kind = %v, want not found", utils.KindOf(err))
	}

	notes, err := models.GetAuditNotes(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	var added, removed int
	for _, n := range notes {
		if n.Content == "**Casey Creator** added assignee: **Riley Reviewer**." {
			added++
		}
		if n.Content == "**Casey Creator** removed assignee: **Riley Reviewer**." {
			removed++
		}
	}
	if added != 1 || removed != 1 {
		t.Errorf("assignee notes added/removed = %d/%d, want 1/1", added, removed)
	}
}

func TestAddAuditAssetsGrowsExpectedSet(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	creator := seedUser(t, db, org.ID.String(), "creator", "Casey Creator", "casey@test.local")
	a1 := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")
	a2 := seedAsset(t, db, org.ID.String(), "Monitor", "300.00")
	a3 := seedAsset(t, db, org.ID.String(), "Chair", "150.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), creator)

	session, err := engine.CreateAuditSession(ctx, &models.NewAuditSession{
		Name: "Growing Audit", AssetIds: []int{a1.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := engine.AddAuditAssets(ctx, session.ID, []int{a2.ID, a3.ID, a1.ID})
	if err != nil {
		t.Fatalf("AddAuditAssets: %v", err)
	}
	if updated.ExpectedAssetCount != 3 || updated.MissingAssetCount != 3 {
		t.Errorf("expected/missing = %d/%d, want 3/3", updated.ExpectedAssetCount, updated.MissingAssetCount)
	}

	var auditAssets int64
	if err := db.Model(&models.AuditAsset{}).Where("audit_session_id = ?", session.ID).Count(&auditAssets).Error; err != nil {
		t.Fatal(err)
	}
	if auditAssets != 3 {
		t.Errorf("audit asset rows = %d, want 3", auditAssets)
	}

	notes, err := models.GetAuditNotes(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := "**Casey Creator** added **2** assets (**Monitor**, **Chair**) to audit. (**1** asset skipped as already in audit)"
	var found bool
	for _, n := range notes {
		if n.Content == want {
			found = true
		}
	}
	if !found {
		t.Errorf("assets-added note missing, want %q", want)
	}

	// Adding only known rows again is a no-op.
	same, err := engine.AddAuditAssets(ctx, session.ID, []int{a1.ID, a2.ID})
	if err != nil {
		t.Fatal(err)
	}
	if same.ExpectedAssetCount != 3 {
		t.Errorf("expected after no-op add = %d, want 3", same.ExpectedAssetCount)
	}

	if _, err := engine.AddAuditAssets(ctx, session.ID, []int{9999}); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Errorf("unknown asset: kind = %v, want validation", utils.KindOf(err))
	}

	if _, err := engine.CompleteAuditSession(ctx, session.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.AddAuditAssets(ctx, session.ID, []int{a2.ID}); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Errorf("add after completion: kind = %v, want validation", utils.KindOf(err))
	}
}

func TestRemoveAuditAssetRewindsCounters(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	creator := seedUser(t, db, org.ID.String(), "creator", "Casey Creator", "casey@test.local")
	a1 := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")
	a2 := seedAsset(t, db, org.ID.String(), "Monitor", "300.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), creator)

	session, err := engine.CreateAuditSession(ctx, &models.NewAuditSession{
		Name: "Shrinking Audit", AssetIds: []int{a1.ID, a2.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.RecordAuditScan(ctx, &workflow.NewAuditScan{
		AuditSessionId: session.ID, QrId: a1.QrId, AssetId: a1.ID, IsExpected: true,
	}); err != nil {
		t.Fatal(err)
	}

	// Removing a found asset takes its scan with it.
	updated, err := engine.RemoveAuditAsset(ctx, session.ID, a1.ID)
	if err != nil {
		t.Fatalf("RemoveAuditAsset: %v", err)
	}
	if updated.ExpectedAssetCount != 1 || updated.FoundAssetCount != 0 || updated.MissingAssetCount != 1 {
		t.Errorf("expected/found/missing = %d/%d/%d, want 1/0/1",
			updated.ExpectedAssetCount, updated.FoundAssetCount, updated.MissingAssetCount)
	}
	var scanRows int64
	if err := db.Model(&models.AuditScan{}).Where("audit_session_id = ?", session.ID).Count(&scanRows).Error; err != nil {
		t.Fatal(err)
	}
	if scanRows != 0 {
		t.Errorf("scan rows after removal = %d, want 0", scanRows)
	}

	// Removing a pending asset only shrinks the expected set.
	updated, err = engine.RemoveAuditAsset(ctx, session.ID, a2.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.ExpectedAssetCount != 0 || updated.MissingAssetCount != 0 {
		t.Errorf("expected/missing = %d/%d, want 0/0", updated.ExpectedAssetCount, updated.MissingAssetCount)
	}

	if _, err := engine.RemoveAuditAsset(ctx, session.ID, a2.ID); utils.KindOf(err) != utils.ErrorKindNotFound {
		t.Errorf("double removal: kind = %v, want not found", utils.KindOf(err))
	}

	notes, err := models.GetAuditNotes(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	var removalNotes int
	for _, n := range notes {
		if strings.Contains(n.Content, "removed **Laptop** from audit.") ||
			strings.Contains(n.Content, "removed **Monitor** from audit.") {
			removalNotes++
		}
	}
	if removalNotes != 2 {
		t.Errorf("removal notes = %d, want 2", removalNotes)
	}
}

func TestRemoveAuditScanRevertsState(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	creator := seedUser(t, db, org.ID.String(), "creator", "Casey Creator", "casey@test.local")
	expected := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")
	stray := seedAsset(t, db, org.ID.String(), "Projector", "800.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), creator)

	session, err := engine.CreateAuditSession(ctx, &models.NewAuditSession{
		Name: "Undo Test", AssetIds: []int{expected.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.RecordAuditScan(ctx, &workflow.NewAuditScan{
		AuditSessionId: session.ID, QrId: expected.QrId, AssetId: expected.ID, IsExpected: true,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.RecordAuditScan(ctx, &workflow.NewAuditScan{
		AuditSessionId: session.ID, QrId: stray.QrId, AssetId: stray.ID, IsExpected: false,
	}); err != nil {
		t.Fatal(err)
	}

	// Undoing an expected scan reverts the row to PENDING.
	updated, err := engine.RemoveAuditScan(ctx, session.ID, expected.ID)
	if err != nil {
		t.Fatalf("RemoveAuditScan: %v", err)
	}
	if updated.FoundAssetCount != 0 || updated.MissingAssetCount != 1 {
		t.Errorf("found/missing = %d/%d, want 0/1", updated.FoundAssetCount, updated.MissingAssetCount)
	}
	if updated.Status != models.AuditSessionStatusActive {
		t.Errorf("status = %s, want ACTIVE (undo does not rewind activation)", updated.Status)
	}
	var row models.AuditAsset
	if err := db.Where("audit_session_id = ? AND asset_id = ?", session.ID, expected.ID).First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.Status != models.AuditAssetStatusPending || row.ScannedAt != nil || row.ScannedById != nil {
		t.Errorf("audit asset after undo = %+v, want PENDING with cleared scan fields", row)
	}

	// The asset can be scanned fresh afterwards.
	rescanned, err := engine.RecordAuditScan(ctx, &workflow.NewAuditScan{
		AuditSessionId: session.ID, QrId: expected.QrId, AssetId: expected.ID, IsExpected: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rescanned.FoundAssetCount != 1 {
		t.Errorf("found after rescan = %d, want 1", rescanned.FoundAssetCount)
	}

	// Undoing an unexpected scan drops the row entirely.
	updated, err = engine.RemoveAuditScan(ctx, session.ID, stray.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.UnexpectedAssetCount != 0 {
		t.Errorf("unexpected after undo = %d, want 0", updated.UnexpectedAssetCount)
	}
	var strayRows int64
	if err := db.Model(&models.AuditAsset{}).
		Where("audit_session_id = ? AND asset_id = ?", session.ID, stray.ID).
		Count(&strayRows).Error; err != nil {
		t.Fatal(err)
	}
	if strayRows != 0 {
		t.Errorf("unexpected audit asset rows = %d, want 0", strayRows)
	}

	if _, err := engine.RemoveAuditScan(ctx, session.ID, stray.ID); utils.KindOf(err) != utils.ErrorKindNotFound {
		t.Errorf("undo without scan: kind = %v, want not found", utils.KindOf(err))
	}

	notes, err := models.GetAuditNotes(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	var undoNotes int
	for _, n := range notes {
		if strings.Contains(n.Content, "removed scanned asset") {
			undoNotes++
		}
	}
	if undoNotes != 2 {
		t.Errorf("scan-removed notes = %d, want 2", undoNotes)
	}

	if _, err := engine.CompleteAuditSession(ctx, session.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.RemoveAuditScan(ctx, session.ID, expected.ID); utils.KindOf(err) != utils.ErrorKindValidation {
		t.Errorf("undo after completion: kind = %v, want validation", utils.KindOf(err))
	}
}
