package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
)

type AuditAssignment struct {
	ID             int                 `gorm:"primary_key" json:"id"`
	OrganizationId string              `gorm:"index;not null" json:"organization_id"`
	AuditSessionId int                 `gorm:"not null;uniqueIndex:idx_audit_assignment_session_user" json:"audit_session_id"`
	UserId         int                 `gorm:"not null;uniqueIndex:idx_audit_assignment_session_user" json:"user_id"`
	Role           AuditAssignmentRole `gorm:"size:20;not null;default:BASE" json:"role"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
}

func GetAuditAssignments(ctx context.Context, sessionId int) ([]*AuditAssignment, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}

	var assignments []*AuditAssignment
	err := db.WithContext(ctx).
		Where("organization_id = ? AND audit_session_id = ?", organizationId, sessionId).
		Order("role DESC, id ASC").
		Find(&assignments).Error
	if err != nil {
		return nil, utils.WrapError(err, "unable to load audit assignments", nil)
	}
	return assignments, nil
}
