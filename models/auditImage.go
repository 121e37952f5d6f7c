package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
)

// Quotas for evidence photos. Checked before any object storage call.
const (
	MaxImagesPerAuditAsset = 3
	MaxGeneralAuditImages  = 5
)

// AuditImage is an evidence photo, either tied to one audit asset row
// (AuditAssetId set) or general to the session (AuditAssetId nil).
type AuditImage struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"index;not null" json:"organization_id"`
	AuditSessionId int       `gorm:"index;not null" json:"audit_session_id"`
	AuditAssetId   *int      `gorm:"index" json:"audit_asset_id"`
	ImageUrl       string    `gorm:"not null" json:"image_url"`
	ThumbnailUrl   string    `gorm:"not null" json:"thumbnail_url"`
	Description    string    `gorm:"type:text" json:"description"`
	UploadedById   int       `gorm:"index;not null" json:"uploaded_by_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetAuditImages(ctx context.Context, sessionId int, auditAssetId *int) ([]*AuditImage, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}

	dbCtx := db.WithContext(ctx).
		Where("organization_id = ? AND audit_session_id = ?", organizationId, sessionId)
	if auditAssetId != nil {
		dbCtx = dbCtx.Where("audit_asset_id = ?", *auditAssetId)
	}

	var images []*AuditImage
	err := dbCtx.Order("created_at ASC, id ASC").Find(&images).Error
	if err != nil {
		return nil, utils.WrapError(err, "unable to load audit images", nil)
	}
	return images, nil
}
