package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AuditEngine owns the session lifecycle state machine. All cross-operation
// safety is delegated to database transactions; the engine itself holds no
// in-process state.
type AuditEngine struct {
	DB     *gorm.DB
	Logger *logrus.Logger

	// Optional collaborators. A nil Reminders skips scheduling, a nil
	// Mailer skips notification sends. Both are best-effort from the
	// lifecycle's point of view.
	Reminders *ReminderScheduler
	Mailer    Mailer
}

func NewAuditEngine(db *gorm.DB, logger *logrus.Logger) *AuditEngine {
	return &AuditEngine{DB: db, Logger: logger}
}

type ScanResult struct {
	ScanId               int  `json:"scan_id"`
	AuditAssetId         *int `json:"audit_asset_id"`
	FoundAssetCount      int  `json:"found_asset_count"`
	UnexpectedAssetCount int  `json:"unexpected_asset_count"`
}

func (e *AuditEngine) logError(funcName string, contextMsg string, data any, err error) {
	if e.Logger != nil {
		config.LogError(e.Logger, "AuditEngine", funcName, contextMsg, data, err)
	}
}

// CreateAuditSession creates the session, its expected-asset rows, its
// assignments, the creation note and the outbox event in one transaction.
func (e *AuditEngine) CreateAuditSession(ctx context.Context, input *models.NewAuditSession) (*models.AuditSession, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	createdById, ok := utils.GetUserIdFromContext(ctx)
	if !ok || createdById <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}

	assetIds := utils.Dedupe(input.AssetIds)
	if len(assetIds) == 0 {
		return nil, utils.ValidationError("at least one asset is required", map[string]any{
			"organization_id": organizationId,
			"created_by_id":   createdById,
		})
	}
	if input.DueDate != nil && !input.DueDate.After(time.Now()) {
		return nil, utils.ValidationError("due date must be in the future", map[string]any{
			"due_date": input.DueDate,
		})
	}

	// Serialize the one-active-session-per-scope pre-check across processes.
	// The lock is best effort: with no redis available the pre-check alone
	// still catches everything except a same-millisecond race.
	if locker := config.GetRedisLock(); locker != nil {
		key := fmt.Sprintf("audit_scope:%s:%s:%s", organizationId, input.ScopeType, input.ScopeName)
		if lock, lockErr := locker.Obtain(ctx, key, 3*time.Second, nil); lockErr == nil {
			defer lock.Release(context.WithoutCancel(ctx))
		} else if lockErr == redislock.ErrNotObtained {
			return nil, utils.ValidationError("another audit is being created for this scope, please retry", map[string]any{
				"scope_type": input.ScopeType,
				"scope_name": input.ScopeName,
			})
		}
	}

	var openCount int64
	err := e.DB.WithContext(ctx).Model(&models.AuditSession{}).
		Where("organization_id = ? AND scope_type = ? AND scope_name = ? AND status IN ?",
			organizationId, input.ScopeType, input.ScopeName,
			[]models.AuditSessionStatus{models.AuditSessionStatusPending, models.AuditSessionStatusActive}).
		Count(&openCount).Error
	if err != nil {
		return nil, utils.WrapError(err, "unable to check for open audits", nil)
	}
	if openCount > 0 {
		return nil, utils.ValidationError("an audit is already in progress for this scope", map[string]any{
			"scope_type": input.ScopeType,
			"scope_name": input.ScopeName,
		})
	}

	missingAssets, err := e.findMissingAssetIds(ctx, organizationId, assetIds)
	if err != nil {
		return nil, utils.WrapError(err, "unable to validate assets", nil)
	}
	if len(missingAssets) > 0 {
		return nil, utils.ValidationError("some assets were not found in this organization", map[string]any{
			"missing_asset_ids": missingAssets,
			"organization_id":   organizationId,
			"created_by_id":     createdById,
		})
	}

	assigneeIds := utils.Dedupe(input.AssigneeIds)
	if len(assigneeIds) > 0 {
		users, err := models.GetUsersByIds(ctx, organizationId, assigneeIds)
		if err != nil {
			return nil, err
		}
		if len(users) != len(assigneeIds) {
			return nil, utils.ValidationError("some assignees were not found in this organization", map[string]any{
				"assignee_ids":    assigneeIds,
				"organization_id": organizationId,
			})
		}
	}

	session := models.AuditSession{
		OrganizationId:     organizationId,
		Name:               input.Name,
		Description:        input.Description,
		ScopeType:          input.ScopeType,
		ScopeName:          input.ScopeName,
		Status:             models.AuditSessionStatusPending,
		CreatedById:        createdById,
		DueDate:            input.DueDate,
		ExpectedAssetCount: len(assetIds),
		MissingAssetCount:  len(assetIds),
		MissingValueTotal:  decimal.Zero,
	}

	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return err
		}

		auditAssets := make([]models.AuditAsset, 0, len(assetIds))
		for _, assetId := range assetIds {
			auditAssets = append(auditAssets, models.AuditAsset{
				OrganizationId: organizationId,
				AuditSessionId: session.ID,
				AssetId:        assetId,
				Expected:       true,
				Status:         models.AuditAssetStatusPending,
			})
		}
		if err := tx.Create(&auditAssets).Error; err != nil {
			return err
		}

		assignments := []models.AuditAssignment{{
			OrganizationId: organizationId,
			AuditSessionId: session.ID,
			UserId:         createdById,
			Role:           models.AuditAssignmentRoleLead,
		}}
		for _, userId := range assigneeIds {
			if userId == createdById {
				continue
			}
			assignments = append(assignments, models.AuditAssignment{
				OrganizationId: organizationId,
				AuditSessionId: session.ID,
				UserId:         userId,
				Role:           models.AuditAssignmentRoleBase,
			})
		}
		if err := tx.Create(&assignments).Error; err != nil {
			return err
		}

		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}
		if err := models.CreateAuditCreationNote(store, organizationId, session.ID, createdById, len(assetIds)); err != nil {
			return err
		}

		return models.PublishAuditEventRecord(ctx, tx, organizationId, &session, models.AuditEventActionCreated)
	})
	if err != nil {
		e.logError("CreateAuditSession", "transaction", input, err)
		return nil, utils.WrapError(err, "failed to create audit session", map[string]any{
			"organization_id": organizationId,
			"created_by_id":   createdById,
		})
	}

	created, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, session.ID)
	if err != nil {
		return nil, utils.InternalError(err, "unable to load newly created session", map[string]any{
			"audit_session_id": session.ID,
		})
	}

	if created.DueDate != nil && e.Reminders != nil {
		if err := e.Reminders.ScheduleFirstReminder(ctx, created); err != nil {
			e.logError("CreateAuditSession", "schedule first reminder", created.ID, err)
		}
	}
	e.notifyAssigned(ctx, created, assigneeIds)

	return created, nil
}

func (e *AuditEngine) findMissingAssetIds(ctx context.Context, organizationId string, assetIds []int) ([]int, error) {
	var foundIds []int
	err := e.DB.WithContext(ctx).Model(&models.Asset{}).
		Where("organization_id = ? AND id IN ?", organizationId, assetIds).
		Pluck("id", &foundIds).Error
	if err != nil {
		return nil, err
	}
	found := make(map[int]bool, len(foundIds))
	for _, id := range foundIds {
		found[id] = true
	}
	var missing []int
	for _, id := range assetIds {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

type NewAuditScan struct {
	AuditSessionId int    `json:"audit_session_id" binding:"required"`
	QrId           string `json:"qr_id" binding:"required"`
	AssetId        int    `json:"asset_id" binding:"required"`
	IsExpected     bool   `json:"is_expected"`
}

// RecordAuditScan records one scan event. Repeat scans of the same asset in
// the same session are reads, not writes: the existing scan's data comes
// back and no counter moves.
func (e *AuditEngine) RecordAuditScan(ctx context.Context, input *NewAuditScan) (*ScanResult, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	session, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, input.AuditSessionId)
	if err != nil {
		return nil, utils.NotFoundError("audit session not found", map[string]any{
			"audit_session_id": input.AuditSessionId,
		})
	}
	if session.Status.IsTerminal() {
		return nil, utils.ValidationError("audit session is no longer active", map[string]any{
			"audit_session_id": session.ID,
			"status":           session.Status,
		})
	}

	// Idempotent fast path.
	if result, found, err := e.readExistingScan(ctx, organizationId, input.AuditSessionId, input.AssetId); err != nil {
		return nil, err
	} else if found {
		return result, nil
	}

	now := time.Now().UTC()
	var auditAssetId *int
	var scan models.AuditScan
	duplicate := false

	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}

		// First non-idempotent scan activates a pending session. The
		// status guard in the WHERE keeps the transition single-shot
		// under concurrent first scans.
		if session.Status == models.AuditSessionStatusPending {
			res := tx.Model(&models.AuditSession{}).
				Where("id = ? AND status = ?", session.ID, models.AuditSessionStatusPending).
				Updates(map[string]interface{}{
					"status":     models.AuditSessionStatusActive,
					"started_at": &now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				if err := models.CreateAuditStartedNote(store, organizationId, session.ID, userId); err != nil {
					return err
				}
			}
		}

		scan = models.AuditScan{
			OrganizationId: organizationId,
			AuditSessionId: session.ID,
			AssetId:        input.AssetId,
			Code:           input.QrId,
			ScannedById:    userId,
			ScannedAt:      now,
		}
		if err := tx.Create(&scan).Error; err != nil {
			if isDuplicateKeyErr(err) {
				// Lost the uniqueness race to a concurrent scan of the
				// same asset. Degrade to the idempotent read path.
				duplicate = true
				return nil
			}
			return err
		}

		if input.IsExpected {
			var auditAsset models.AuditAsset
			if err := tx.
				Where("audit_session_id = ? AND asset_id = ? AND expected = ?", session.ID, input.AssetId, true).
				First(&auditAsset).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.AuditAsset{}).
				Where("id = ?", auditAsset.ID).
				Updates(map[string]interface{}{
					"status":        models.AuditAssetStatusFound,
					"scanned_at":    &now,
					"scanned_by_id": userId,
				}).Error; err != nil {
				return err
			}
			auditAssetId = &auditAsset.ID

			if err := tx.Model(&models.AuditSession{}).
				Where("id = ?", session.ID).
				Updates(map[string]interface{}{
					"found_asset_count":   gorm.Expr("found_asset_count + 1"),
					"missing_asset_count": gorm.Expr("missing_asset_count - 1"),
				}).Error; err != nil {
				return err
			}
		} else {
			auditAsset := models.AuditAsset{
				OrganizationId: organizationId,
				AuditSessionId: session.ID,
				AssetId:        input.AssetId,
				Expected:       false,
				Status:         models.AuditAssetStatusUnexpected,
				ScannedAt:      &now,
				ScannedById:    &userId,
			}
			if err := tx.Create(&auditAsset).Error; err != nil {
				return err
			}
			auditAssetId = &auditAsset.ID

			if err := tx.Model(&models.AuditSession{}).
				Where("id = ?", session.ID).
				Update("unexpected_asset_count", gorm.Expr("unexpected_asset_count + 1")).Error; err != nil {
				return err
			}
		}

		return models.CreateAssetScanNote(store, organizationId, session.ID, input.AssetId, userId, input.IsExpected)
	})
	if err != nil {
		e.logError("RecordAuditScan", "transaction", input, err)
		return nil, utils.WrapError(err, "failed to record audit scan", map[string]any{
			"audit_session_id": input.AuditSessionId,
			"asset_id":         input.AssetId,
			"user_id":          userId,
		})
	}

	if duplicate {
		result, found, err := e.readExistingScan(ctx, organizationId, input.AuditSessionId, input.AssetId)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, utils.InternalError(nil, "failed to record audit scan", map[string]any{
				"audit_session_id": input.AuditSessionId,
				"asset_id":         input.AssetId,
			})
		}
		return result, nil
	}

	counters, err := e.readCounters(ctx, organizationId, session.ID)
	if err != nil {
		return nil, err
	}
	return &ScanResult{
		ScanId:               scan.ID,
		AuditAssetId:         auditAssetId,
		FoundAssetCount:      counters.FoundAssetCount,
		UnexpectedAssetCount: counters.UnexpectedAssetCount,
	}, nil
}

func (e *AuditEngine) readExistingScan(ctx context.Context, organizationId string, sessionId int, assetId int) (*ScanResult, bool, error) {
	var existing models.AuditScan
	err := e.DB.WithContext(ctx).
		Where("organization_id = ? AND audit_session_id = ? AND asset_id = ?", organizationId, sessionId, assetId).
		First(&existing).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, nil
		}
		return nil, false, utils.WrapError(err, "unable to read audit scan", nil)
	}
	counters, err := e.readCounters(ctx, organizationId, sessionId)
	if err != nil {
		return nil, false, err
	}
	return &ScanResult{
		ScanId:               existing.ID,
		AuditAssetId:         nil,
		FoundAssetCount:      counters.FoundAssetCount,
		UnexpectedAssetCount: counters.UnexpectedAssetCount,
	}, true, nil
}

func (e *AuditEngine) readCounters(ctx context.Context, organizationId string, sessionId int) (*models.AuditSession, error) {
	session, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.NotFoundError("audit session not found", map[string]any{"audit_session_id": sessionId})
	}
	return session, nil
}

// CompleteAuditSession flips every still-pending expected row to MISSING,
// recounts everything from the child rows and closes the session. The
// recount is authoritative: it self-heals any drift the incremental
// counters may have accumulated.
func (e *AuditEngine) CompleteAuditSession(ctx context.Context, sessionId int, completionNote string) (*models.AuditSession, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	session, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.NotFoundError("audit session not found", map[string]any{"audit_session_id": sessionId})
	}
	if session.Status == models.AuditSessionStatusCompleted {
		return nil, utils.ValidationError("audit session is already completed", map[string]any{
			"audit_session_id": sessionId,
		})
	}
	if session.Status == models.AuditSessionStatusCancelled {
		return nil, utils.ValidationError("audit session has been cancelled", map[string]any{
			"audit_session_id": sessionId,
		})
	}

	now := time.Now().UTC()
	wasOverdue := session.DueDate != nil && now.After(*session.DueDate)

	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AuditAsset{}).
			Where("audit_session_id = ? AND expected = ? AND status = ?",
				sessionId, true, models.AuditAssetStatusPending).
			Update("status", models.AuditAssetStatusMissing).Error; err != nil {
			return err
		}

		recount, err := recountAuditAssets(tx, sessionId)
		if err != nil {
			return err
		}

		missingValue, err := sumMissingAssetValue(tx, sessionId)
		if err != nil {
			return err
		}

		if err := tx.Model(&models.AuditSession{}).
			Where("id = ?", sessionId).
			Updates(map[string]interface{}{
				"status":                 models.AuditSessionStatusCompleted,
				"completed_at":           &now,
				"completion_note":        completionNote,
				"expected_asset_count":   recount.Expected,
				"found_asset_count":      recount.Found,
				"missing_asset_count":    recount.Missing,
				"unexpected_asset_count": recount.Unexpected,
				"missing_value_total":    missingValue,
			}).Error; err != nil {
			return err
		}

		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}
		if err := models.CreateAuditCompletedNote(store, organizationId, sessionId, userId,
			recount.Expected, recount.Found, recount.Missing, recount.Unexpected, completionNote); err != nil {
			return err
		}

		session.Status = models.AuditSessionStatusCompleted
		session.CompletedAt = &now
		return models.PublishAuditEventRecord(ctx, tx, organizationId, session, models.AuditEventActionCompleted)
	})
	if err != nil {
		e.logError("CompleteAuditSession", "transaction", sessionId, err)
		return nil, utils.WrapError(err, "failed to complete audit session", map[string]any{
			"audit_session_id": sessionId,
			"user_id":          userId,
		})
	}

	completed, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.InternalError(err, "unable to load completed session", map[string]any{
			"audit_session_id": sessionId,
		})
	}

	e.notifyCompleted(ctx, completed, wasOverdue)

	return completed, nil
}

type auditAssetRecount struct {
	Expected   int
	Found      int
	Missing    int
	Unexpected int
}

func recountAuditAssets(tx *gorm.DB, sessionId int) (*auditAssetRecount, error) {
	type statusCount struct {
		Expected bool
		Status   models.AuditAssetStatus
		Cnt      int
	}
	var rows []statusCount
	err := tx.Model(&models.AuditAsset{}).
		Select("expected, status, COUNT(*) AS cnt").
		Where("audit_session_id = ?", sessionId).
		Group("expected, status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	recount := auditAssetRecount{}
	for _, row := range rows {
		if row.Expected {
			recount.Expected += row.Cnt
		}
		switch row.Status {
		case models.AuditAssetStatusFound:
			recount.Found += row.Cnt
		case models.AuditAssetStatusMissing:
			recount.Missing += row.Cnt
		case models.AuditAssetStatusUnexpected:
			recount.Unexpected += row.Cnt
		}
	}
	return &recount, nil
}

func sumMissingAssetValue(tx *gorm.DB, sessionId int) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := tx.Model(&models.AuditAsset{}).
		Select("SUM(assets.value)").
		Joins("JOIN assets ON assets.id = audit_assets.asset_id").
		Where("audit_assets.audit_session_id = ? AND audit_assets.status = ?", sessionId, models.AuditAssetStatusMissing).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// CancelAuditSession marks a non-terminal session CANCELLED and drops any
// reminder jobs still queued for it.
func (e *AuditEngine) CancelAuditSession(ctx context.Context, sessionId int) (*models.AuditSession, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	session, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.NotFoundError("audit session not found", map[string]any{"audit_session_id": sessionId})
	}
	if session.Status.IsTerminal() {
		return nil, utils.ValidationError("audit session is already closed", map[string]any{
			"audit_session_id": sessionId,
			"status":           session.Status,
		})
	}

	now := time.Now().UTC()
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AuditSession{}).
			Where("id = ? AND status IN ?", sessionId,
				[]models.AuditSessionStatus{models.AuditSessionStatusPending, models.AuditSessionStatusActive}).
			Updates(map[string]interface{}{
				"status":       models.AuditSessionStatusCancelled,
				"cancelled_at": &now,
			}).Error; err != nil {
			return err
		}

		if err := tx.
			Where("audit_session_id = ? AND status IN ?", sessionId,
				[]models.ReminderJobStatus{models.ReminderJobStatusPending, models.ReminderJobStatusFailed}).
			Delete(&models.AuditReminderJob{}).Error; err != nil {
			return err
		}

		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}
		if err := models.CreateAuditCancelledNote(store, organizationId, sessionId, userId); err != nil {
			return err
		}

		session.Status = models.AuditSessionStatusCancelled
		session.CancelledAt = &now
		return models.PublishAuditEventRecord(ctx, tx, organizationId, session, models.AuditEventActionCancelled)
	})
	if err != nil {
		e.logError("CancelAuditSession", "transaction", sessionId, err)
		return nil, utils.WrapError(err, "failed to cancel audit session", map[string]any{
			"audit_session_id": sessionId,
			"user_id":          userId,
		})
	}

	cancelled, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.InternalError(err, "unable to load cancelled session", map[string]any{
			"audit_session_id": sessionId,
		})
	}

	e.notifyCancelled(ctx, cancelled, userId)

	return cancelled, nil
}

// UpdateAuditSession edits name, description and due date on a non-terminal
// session, recording change notes and rescheduling the reminder chain when
// the due date moves.
func (e *AuditEngine) UpdateAuditSession(ctx context.Context, sessionId int, input *models.UpdateAuditSessionInput) (*models.AuditSession, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	session, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.NotFoundError("audit session not found", map[string]any{"audit_session_id": sessionId})
	}
	if session.Status.IsTerminal() {
		return nil, utils.ValidationError("audit session is no longer editable", map[string]any{
			"audit_session_id": sessionId,
			"status":           session.Status,
		})
	}

	updates := map[string]interface{}{}
	var changes []models.AuditFieldChange

	if input.Name != nil && *input.Name != session.Name {
		if *input.Name == "" {
			return nil, utils.ValidationError("name cannot be empty", nil)
		}
		updates["name"] = *input.Name
		changes = append(changes, models.AuditFieldChange{Field: "name", From: session.Name, To: *input.Name})
	}
	if input.Description != nil && *input.Description != session.Description {
		updates["description"] = *input.Description
		changes = append(changes, models.AuditFieldChange{Field: "description", From: session.Description, To: *input.Description})
	}

	dueDateChanged := false
	var newDue *time.Time
	if input.ClearDue {
		if session.DueDate != nil {
			dueDateChanged = true
			updates["due_date"] = nil
		}
	} else if input.DueDate != nil {
		if !input.DueDate.After(time.Now()) {
			return nil, utils.ValidationError("due date must be in the future", map[string]any{
				"due_date": input.DueDate,
			})
		}
		if session.DueDate == nil || !session.DueDate.Equal(*input.DueDate) {
			dueDateChanged = true
			newDue = input.DueDate
			updates["due_date"] = input.DueDate
		}
	}

	if len(updates) == 0 {
		return session, nil
	}

	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AuditSession{}).
			Where("id = ?", sessionId).
			Updates(updates).Error; err != nil {
			return err
		}

		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}
		if len(changes) > 0 {
			if err := models.CreateAuditUpdateNote(store, organizationId, sessionId, userId, changes); err != nil {
				return err
			}
		}
		if dueDateChanged {
			if err := models.CreateDueDateChangedNote(store, organizationId, sessionId, userId, session.DueDate, newDue); err != nil {
				return err
			}
			// The whole chain belongs to the old due date, fired stages
			// included. SENT rows must go too or their unique
			// (session, event) index would turn the re-enqueue of that
			// stage into a silent no-op.
			if err := tx.
				Where("audit_session_id = ?", sessionId).
				Delete(&models.AuditReminderJob{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logError("UpdateAuditSession", "transaction", sessionId, err)
		return nil, utils.WrapError(err, "failed to update audit session", map[string]any{
			"audit_session_id": sessionId,
		})
	}

	updated, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.InternalError(err, "unable to load updated session", map[string]any{
			"audit_session_id": sessionId,
		})
	}

	if dueDateChanged && updated.DueDate != nil && e.Reminders != nil {
		if err := e.Reminders.ScheduleFirstReminder(ctx, updated); err != nil {
			e.logError("UpdateAuditSession", "reschedule reminders", sessionId, err)
		}
	}

	return updated, nil
}
