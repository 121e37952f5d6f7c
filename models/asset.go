package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Asset struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"index;not null" json:"organization_id"`
	Title          string          `gorm:"size:255;not null" json:"title" binding:"required"`
	Description    string          `gorm:"type:text" json:"description"`
	Value          decimal.Decimal `gorm:"type:decimal(20,8)" json:"value"`
	QrId           string          `gorm:"size:64;uniqueIndex" json:"qr_id"`
	MainImageUrl   string          `json:"main_image_url"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAsset struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Value       decimal.Decimal `json:"value"`
}

func CreateAsset(ctx context.Context, input *NewAsset) (*Asset, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}

	asset := Asset{
		OrganizationId: organizationId,
		Title:          input.Title,
		Description:    input.Description,
		Value:          input.Value,
		QrId:           uuid.NewString(),
	}
	if err := db.WithContext(ctx).Create(&asset).Error; err != nil {
		return nil, utils.WrapError(err, "unable to create asset", nil)
	}
	return &asset, nil
}

func GetAsset(ctx context.Context, id int) (*Asset, error) {

	db := config.GetDB()
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	asset, err := utils.FetchModel[Asset](db.WithContext(ctx), organizationId, id)
	if err != nil {
		return nil, utils.NotFoundError("asset not found", map[string]any{"asset_id": id})
	}
	return asset, nil
}

func GetAssetsByIds(ctx context.Context, organizationId string, ids []int) ([]*Asset, error) {

	db := config.GetDB()
	var assets []*Asset
	if len(ids) == 0 {
		return assets, nil
	}
	err := db.WithContext(ctx).
		Where("organization_id = ? AND id IN ?", organizationId, ids).
		Find(&assets).Error
	if err != nil {
		return nil, utils.WrapError(err, "unable to load assets", nil)
	}
	return assets, nil
}
