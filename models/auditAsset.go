package models

import (
	"time"
)

// AuditAsset joins a session to one inventory asset and carries its per-audit
// status. Expected rows are bulk-inserted at creation; unexpected rows are
// created on the fly when an unknown asset is scanned. Rows are never mutated
// once the session reaches a terminal status.
type AuditAsset struct {
	ID             int              `gorm:"primary_key" json:"id"`
	OrganizationId string           `gorm:"index;not null" json:"organization_id"`
	AuditSessionId int              `gorm:"not null;uniqueIndex:idx_audit_asset_session_asset" json:"audit_session_id"`
	AssetId        int              `gorm:"not null;uniqueIndex:idx_audit_asset_session_asset" json:"asset_id"`
	Expected       bool             `gorm:"not null;default:false" json:"expected"`
	Status         AuditAssetStatus `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	ScannedAt      *time.Time       `json:"scanned_at"`
	ScannedById    *int             `json:"scanned_by_id"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}
