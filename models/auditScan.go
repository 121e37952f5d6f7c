package models

import (
	"time"
)

// AuditScan is the append-only event log of successful scans. The unique
// (audit_session_id, asset_id) index backs the idempotency guarantee: a
// repeat scan of the same asset inside one session is a read, not a write.
type AuditScan struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"index;not null" json:"organization_id"`
	AuditSessionId int       `gorm:"not null;uniqueIndex:idx_audit_scan_session_asset" json:"audit_session_id"`
	AssetId        int       `gorm:"not null;uniqueIndex:idx_audit_scan_session_asset" json:"asset_id"`
	Code           string    `gorm:"size:64;not null" json:"code"`
	ScannedById    int       `gorm:"index;not null" json:"scanned_by_id"`
	ScannedAt      time.Time `gorm:"not null" json:"scanned_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
