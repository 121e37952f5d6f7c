package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"gorm.io/gorm"
)

// Membership edits apply to non-terminal sessions only. Each one records an
// audit-trail note in the same transaction as the change itself.

func (e *AuditEngine) editableSession(ctx context.Context, organizationId string, sessionId int) (*models.AuditSession, error) {
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
	return session, nil
}

// AddAuditAssignee assigns another user to the session with the BASE role.
func (e *AuditEngine) AddAuditAssignee(ctx context.Context, sessionId int, assigneeId int) (*models.AuditAssignment, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	if _, err := e.editableSession(ctx, organizationId, sessionId); err != nil {
		return nil, err
	}

	users, err := models.GetUsersByIds(ctx, organizationId, []int{assigneeId})
	if err != nil {
		return nil, err
	}
	if len(users) != 1 {
		return nil, utils.ValidationError("assignee was not found in this organization", map[string]any{
			"assignee_id": assigneeId,
		})
	}

	assignment := models.AuditAssignment{
		OrganizationId: organizationId,
		AuditSessionId: sessionId,
		UserId:         assigneeId,
		Role:           models.AuditAssignmentRoleBase,
	}
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&assignment).Error; err != nil {
			if isDuplicateKeyErr(err) {
				return utils.ValidationError("user is already assigned to this audit", map[string]any{
					"assignee_id": assigneeId,
				})
			}
			return err
		}
		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}
		return models.CreateAssigneeAddedNote(store, organizationId, sessionId, userId, assigneeId)
	})
	if err != nil {
		e.logError("AddAuditAssignee", "transaction", sessionId, err)
		return nil, utils.WrapError(err, "failed to add audit assignee", map[string]any{
			"audit_session_id": sessionId,
			"assignee_id":      assigneeId,
		})
	}
	return &assignment, nil
}

// RemoveAuditAssignee unassigns a user. The lead assignment stays for the
// session's whole life.
func (e *AuditEngine) RemoveAuditAssignee(ctx context.Context, sessionId int, assigneeId int) error {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return utils.ValidationError("organization id is required", nil)
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return utils.ValidationError("user id is required", nil)
	}

	if _, err := e.editableSession(ctx, organizationId, sessionId); err != nil {
		return err
	}

	var assignment models.AuditAssignment
	err := e.DB.WithContext(ctx).
		Where("organization_id = ? AND audit_session_id = ? AND user_id = ?", organizationId, sessionId, assigneeId).
		First(&assignment).Error
	if err != nil {
		return utils.NotFoundError("assignment not found", map[string]any{
			"audit_session_id": sessionId,
			"assignee_id":      assigneeId,
		})
	}
	if assignment.Role == models.AuditAssignmentRoleLead {
		return utils.ValidationError("the audit lead cannot be removed", map[string]any{
			"assignee_id": assigneeId,
		})
	}

	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", assignment.ID).Delete(&models.AuditAssignment{}).Error; err != nil {
			return err
		}
		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}
		return models.CreateAssigneeRemovedNote(store, organizationId, sessionId, userId, assigneeId)
	})
	if err != nil {
		e.logError("RemoveAuditAssignee", "transaction", sessionId, err)
		return utils.WrapError(err, "failed to remove audit assignee", map[string]any{
			"audit_session_id": sessionId,
			"assignee_id":      assigneeId,
		})
	}
	return nil
}

// AddAuditAssets grows the expected set of an open session. Assets already
// in the audit are skipped; the note records how many.
func (e *AuditEngine) AddAuditAssets(ctx context.Context, sessionId int, assetIds []int) (*models.AuditSession, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	session, err := e.editableSession(ctx, organizationId, sessionId)
	if err != nil {
		return nil, err
	}

	assetIds = utils.Dedupe(assetIds)
	if len(assetIds) == 0 {
		return nil, utils.ValidationError("at least one asset is required", map[string]any{
			"audit_session_id": sessionId,
		})
	}
	missingAssets, err := e.findMissingAssetIds(ctx, organizationId, assetIds)
	if err != nil {
		return nil, utils.WrapError(err, "unable to validate assets", nil)
	}
	if len(missingAssets) > 0 {
		return nil, utils.ValidationError("some assets were not found in this organization", map[string]any{
			"missing_asset_ids": missingAssets,
		})
	}

	var existingIds []int
	err = e.DB.WithContext(ctx).Model(&models.AuditAsset{}).
		Where("organization_id = ? AND audit_session_id = ? AND asset_id IN ?", organizationId, sessionId, assetIds).
		Pluck("asset_id", &existingIds).Error
	if err != nil {
		return nil, utils.WrapError(err, "unable to load audit assets", nil)
	}
	existing := make(map[int]bool, len(existingIds))
	for _, id := range existingIds {
		existing[id] = true
	}
	added := make([]int, 0, len(assetIds))
	for _, id := range assetIds {
		if !existing[id] {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return session, nil
	}
	skipped := len(assetIds) - len(added)

	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		auditAssets := make([]models.AuditAsset, 0, len(added))
		for _, assetId := range added {
			auditAssets = append(auditAssets, models.AuditAsset{
				OrganizationId: organizationId,
				AuditSessionId: sessionId,
				AssetId:        assetId,
				Expected:       true,
				Status:         models.AuditAssetStatusPending,
			})
		}
		if err := tx.Create(&auditAssets).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AuditSession{}).
			Where("id = ?", sessionId).
			Updates(map[string]interface{}{
				"expected_asset_count": gorm.Expr("expected_asset_count + ?", len(added)),
				"missing_asset_count":  gorm.Expr("missing_asset_count + ?", len(added)),
			}).Error; err != nil {
			return err
		}
		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}
		return models.CreateAssetsAddedToAuditNote(store, organizationId, sessionId, userId, added, skipped)
	})
	if err != nil {
		e.logError("AddAuditAssets", "transaction", sessionId, err)
		return nil, utils.WrapError(err, "failed to add assets to audit", map[string]any{
			"audit_session_id": sessionId,
		})
	}

	updated, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.InternalError(err, "unable to load updated session", map[string]any{
			"audit_session_id": sessionId,
		})
	}
	return updated, nil
}

// RemoveAuditAsset drops one asset from an open session, along with any scan
// it already has, and walks the counters back.
func (e *AuditEngine) RemoveAuditAsset(ctx context.Context, sessionId int, assetId int) (*models.AuditSession, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	if _, err := e.editableSession(ctx, organizationId, sessionId); err != nil {
		return nil, err
	}

	var auditAsset models.AuditAsset
	err := e.DB.WithContext(ctx).
		Where("organization_id = ? AND audit_session_id = ? AND asset_id = ?", organizationId, sessionId, assetId).
		First(&auditAsset).Error
	if err != nil {
		return nil, utils.NotFoundError("asset is not part of this audit", map[string]any{
			"audit_session_id": sessionId,
			"asset_id":         assetId,
		})
	}

	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("audit_session_id = ? AND asset_id = ?", sessionId, assetId).
			Delete(&models.AuditScan{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", auditAsset.ID).Delete(&models.AuditAsset{}).Error; err != nil {
			return err
		}

		counters := map[string]interface{}{}
		switch {
		case !auditAsset.Expected:
			counters["unexpected_asset_count"] = gorm.Expr("unexpected_asset_count - 1")
		case auditAsset.Status == models.AuditAssetStatusFound:
			counters["expected_asset_count"] = gorm.Expr("expected_asset_count - 1")
			counters["found_asset_count"] = gorm.Expr("found_asset_count - 1")
		default:
			counters["expected_asset_count"] = gorm.Expr("expected_asset_count - 1")
			counters["missing_asset_count"] = gorm.Expr("missing_asset_count - 1")
		}
		if err := tx.Model(&models.AuditSession{}).
			Where("id = ?", sessionId).
			Updates(counters).Error; err != nil {
			return err
		}

		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}
		return models.CreateAssetRemovedFromAuditNote(store, organizationId, sessionId, userId, assetId)
	})
	if err != nil {
		e.logError("RemoveAuditAsset", "transaction", sessionId, err)
		return nil, utils.WrapError(err, "failed to remove asset from audit", map[string]any{
			"audit_session_id": sessionId,
			"asset_id":         assetId,
		})
	}

	updated, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.InternalError(err, "unable to load updated session", map[string]any{
			"audit_session_id": sessionId,
		})
	}
	return updated, nil
}

// RemoveAuditScan undoes one recorded scan. An expected asset reverts to
// PENDING and stays in the audit; an unexpected row leaves with its scan.
func (e *AuditEngine) RemoveAuditScan(ctx context.Context, sessionId int, assetId int) (*models.AuditSession, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	if _, err := e.editableSession(ctx, organizationId, sessionId); err != nil {
		return nil, err
	}

	var scan models.AuditScan
	err := e.DB.WithContext(ctx).
		Where("organization_id = ? AND audit_session_id = ? AND asset_id = ?", organizationId, sessionId, assetId).
		First(&scan).Error
	if err != nil {
		return nil, utils.NotFoundError("scan not found", map[string]any{
			"audit_session_id": sessionId,
			"asset_id":         assetId,
		})
	}

	var auditAsset models.AuditAsset
	err = e.DB.WithContext(ctx).
		Where("organization_id = ? AND audit_session_id = ? AND asset_id = ?", organizationId, sessionId, assetId).
		First(&auditAsset).Error
	if err != nil {
		return nil, utils.InternalError(err, "scan has no matching audit asset", map[string]any{
			"audit_session_id": sessionId,
			"asset_id":         assetId,
		})
	}

	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", scan.ID).Delete(&models.AuditScan{}).Error; err != nil {
			return err
		}

		if auditAsset.Expected {
			if err := tx.Model(&models.AuditAsset{}).
				Where("id = ?", auditAsset.ID).
				Updates(map[string]interface{}{
					"status":        models.AuditAssetStatusPending,
					"scanned_at":    nil,
					"scanned_by_id": nil,
				}).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.AuditSession{}).
				Where("id = ?", sessionId).
				Updates(map[string]interface{}{
					"found_asset_count":   gorm.Expr("found_asset_count - 1"),
					"missing_asset_count": gorm.Expr("missing_asset_count + 1"),
				}).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Where("id = ?", auditAsset.ID).Delete(&models.AuditAsset{}).Error; err != nil {
				return err
			}
			if err := tx.Model(&models.AuditSession{}).
				Where("id = ?", sessionId).
				Update("unexpected_asset_count", gorm.Expr("unexpected_asset_count - 1")).Error; err != nil {
				return err
			}
		}

		store := models.TxNoteStore{Tx: tx, OrganizationId: organizationId}
		return models.CreateAssetScanRemovedNote(store, organizationId, sessionId, userId, assetId)
	})
	if err != nil {
		e.logError("RemoveAuditScan", "transaction", sessionId, err)
		return nil, utils.WrapError(err, "failed to remove audit scan", map[string]any{
			"audit_session_id": sessionId,
			"asset_id":         assetId,
		})
	}

	updated, err := utils.FetchModel[models.AuditSession](e.DB.WithContext(ctx), organizationId, sessionId)
	if err != nil {
		return nil, utils.InternalError(err, "unable to load updated session", map[string]any{
			"audit_session_id": sessionId,
		})
	}
	return updated, nil
}
