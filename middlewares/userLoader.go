package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type userReader struct {
	db *gorm.DB
}

func (r *userReader) getUsers(ctx context.Context, ids []int) []*dataloader.Result[*models.User] {
	var results []*models.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.User](len(ids), err)
	}

	resultMap := make(map[int]*models.User, len(results))
	for _, result := range results {
		resultMap[result.ID] = result
	}

	loaderResults := make([]*dataloader.Result[*models.User], 0, len(ids))
	for _, id := range ids {
		result := resultMap[id]
		if result == nil {
			result = &models.User{ID: id}
		}
		loaderResults = append(loaderResults, &dataloader.Result[*models.User]{Data: result})
	}
	return loaderResults
}

func GetLoadedUser(ctx context.Context, id int) (*models.User, error) {
	loaders := For(ctx)
	if loaders == nil {
		return nil, ErrNoLoaders
	}
	return loaders.userLoader.Load(ctx, id)()
}

func GetLoadedUsers(ctx context.Context, ids []int) ([]*models.User, []error) {
	loaders := For(ctx)
	if loaders == nil {
		return nil, []error{ErrNoLoaders}
	}
	return loaders.userLoader.LoadMany(ctx, ids)()
}
