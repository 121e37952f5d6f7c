package middlewares

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const loadersKey = ctxKey("dataloaders")

// Loaders batch per-request lookups so list endpoints that hydrate many
// rows hit the database once per entity type.
type Loaders struct {
	userLoader  *dataloader.Loader[int, *models.User]
	assetLoader *dataloader.Loader[int, *models.Asset]
}

func NewLoaders(conn *gorm.DB) *Loaders {
	userReader := &userReader{db: conn}
	assetReader := &assetReader{db: conn}
	return &Loaders{
		userLoader: dataloader.NewBatchedLoader(
			func(ctx context.Context, ids []int) []*dataloader.Result[*models.User] {
				return userReader.getUsers(ctx, ids)
			},
			dataloader.WithWait[int, *models.User](time.Millisecond),
		),
		assetLoader: dataloader.NewBatchedLoader(
			func(ctx context.Context, ids []int) []*dataloader.Result[*models.Asset] {
				return assetReader.getAssets(ctx, ids)
			},
			dataloader.WithWait[int, *models.Asset](time.Millisecond),
		),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ErrNoLoaders is returned when a handler reads loaders off a request that
// never went through LoaderMiddleware.
var ErrNoLoaders = errors.New("request context carries no dataloaders")

// For returns the request's loaders, or nil when the middleware did not run.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(loadersKey).(*Loaders)
	return loaders
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}
