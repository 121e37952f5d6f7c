package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type assetReader struct {
	db *gorm.DB
}

func (r *assetReader) getAssets(ctx context.Context, ids []int) []*dataloader.Result[*models.Asset] {
	var results []*models.Asset
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Asset](len(ids), err)
	}

	resultMap := make(map[int]*models.Asset, len(results))
	for _, result := range results {
		resultMap[result.ID] = result
	}

	loaderResults := make([]*dataloader.Result[*models.Asset], 0, len(ids))
	for _, id := range ids {
		result := resultMap[id]
		if result == nil {
			result = &models.Asset{ID: id}
		}
		loaderResults = append(loaderResults, &dataloader.Result[*models.Asset]{Data: result})
	}
	return loaderResults
}

func GetLoadedAsset(ctx context.Context, id int) (*models.Asset, error) {
	loaders := For(ctx)
	if loaders == nil {
		return nil, ErrNoLoaders
	}
	return loaders.assetLoader.Load(ctx, id)()
}

func GetLoadedAssets(ctx context.Context, ids []int) ([]*models.Asset, []error) {
	loaders := For(ctx)
	if loaders == nil {
		return nil, []error{ErrNoLoaders}
	}
	return loaders.assetLoader.LoadMany(ctx, ids)()
}
