package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AuditSession struct {
	ID             int                `gorm:"primary_key" json:"id"`
	OrganizationId string             `gorm:"index;not null" json:"organization_id"`
	Name           string             `gorm:"size:255;not null" json:"name" binding:"required"`
	Description    string             `gorm:"type:text" json:"description"`
	ScopeType      string             `gorm:"size:50" json:"scope_type"`
	ScopeName      string             `gorm:"size:255" json:"scope_name"`
	Status         AuditSessionStatus `gorm:"size:20;not null;default:PENDING;index" json:"status"`
	CreatedById    int                `gorm:"index;not null" json:"created_by_id"`
	DueDate        *time.Time         `json:"due_date"`
	StartedAt      *time.Time         `json:"started_at"`
	CompletedAt    *time.Time         `json:"completed_at"`
	CancelledAt    *time.Time         `json:"cancelled_at"`
	CompletionNote string             `gorm:"type:text" json:"completion_note"`

	// Denormalized counters, kept exact by atomic increments during
	// scanning and an authoritative recount at completion.
	ExpectedAssetCount   int `gorm:"not null;default:0" json:"expected_asset_count"`
	FoundAssetCount      int `gorm:"not null;default:0" json:"found_asset_count"`
	MissingAssetCount    int `gorm:"not null;default:0" json:"missing_asset_count"`
	UnexpectedAssetCount int `gorm:"not null;default:0" json:"unexpected_asset_count"`

	MissingValueTotal decimal.Decimal `gorm:"type:decimal(20,8)" json:"missing_value_total"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsOverdue is a read-time derivation, never a stored state.
func (s *AuditSession) IsOverdue(now time.Time) bool {
	return s.DueDate != nil && now.After(*s.DueDate) && !s.Status.IsTerminal()
}

type NewAuditSession struct {
	Name        string     `json:"name" binding:"required"`
	Description string     `json:"description"`
	ScopeType   string     `json:"scope_type"`
	ScopeName   string     `json:"scope_name"`
	AssetIds    []int      `json:"asset_ids" binding:"required"`
	AssigneeIds []int      `json:"assignee_ids"`
	DueDate     *time.Time `json:"due_date"`
}

type UpdateAuditSessionInput struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	ClearDue    bool       `json:"clear_due_date"`
}

func GetAuditSession(ctx context.Context, id int) (*AuditSession, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	session, err := utils.FetchModel[AuditSession](db.WithContext(ctx), organizationId, id)
	if err != nil {
		return nil, utils.NotFoundError("audit session not found", map[string]any{"audit_session_id": id})
	}
	return session, nil
}

func GetAuditSessions(ctx context.Context, status *AuditSessionStatus, limit int, offset int) ([]*AuditSession, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}

	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}

	dbCtx := db.WithContext(ctx).Where("organization_id = ?", organizationId)
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}

	var sessions []*AuditSession
	err := dbCtx.Order("created_at DESC").Limit(limit).Offset(offset).Find(&sessions).Error
	if err != nil {
		return nil, utils.WrapError(err, "unable to list audit sessions", nil)
	}
	return sessions, nil
}

type ExpectedAssetRow struct {
	AuditAsset
	AssetTitle string          `json:"asset_title"`
	AssetQrId  string          `json:"asset_qr_id"`
	AssetValue decimal.Decimal `json:"asset_value"`
}

type ExpectedAssetPage struct {
	Rows       []*ExpectedAssetRow `json:"rows"`
	TotalCount int64               `json:"total_count"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

// GetExpectedAssets lists a session's audit rows joined with asset identity,
// filtered by an optional title search and an optional per-row status.
func GetExpectedAssets(ctx context.Context, sessionId int, search string, status *AuditAssetStatus, limit int, offset int) (*ExpectedAssetPage, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}

	// Scope check first so a foreign session id reads as absent.
	if err := utils.ValidateResourceId[AuditSession](db.WithContext(ctx), organizationId, sessionId); err != nil {
		return nil, utils.NotFoundError("audit session not found", map[string]any{"audit_session_id": sessionId})
	}

	if limit <= 0 || limit > 100 {
		limit = config.SearchLimit
	}
	if offset < 0 {
		offset = 0
	}

	search = strings.TrimSpace(search)
	baseQuery := func() *gorm.DB {
		q := db.WithContext(ctx).
			Table("audit_assets").
			Joins("JOIN assets ON assets.id = audit_assets.asset_id").
			Where("audit_assets.audit_session_id = ?", sessionId)
		if search != "" {
			q = q.Where("assets.title LIKE ?", "%"+search+"%")
		}
		if status != nil && *status != "" {
			q = q.Where("audit_assets.status = ?", *status)
		}
		return q
	}

	var total int64
	if err := baseQuery().Count(&total).Error; err != nil {
		return nil, utils.WrapError(err, "unable to count expected assets", nil)
	}

	var rows []*ExpectedAssetRow
	err := baseQuery().
		Select("audit_assets.*, assets.title AS asset_title, assets.qr_id AS asset_qr_id, assets.value AS asset_value").
		Order("assets.title ASC, audit_assets.id ASC").
		Limit(limit).Offset(offset).
		Scan(&rows).Error
	if err != nil {
		return nil, utils.WrapError(err, "unable to list expected assets", nil)
	}

	return &ExpectedAssetPage{Rows: rows, TotalCount: total, Limit: limit, Offset: offset}, nil
}
