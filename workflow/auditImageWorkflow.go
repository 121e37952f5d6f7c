package workflow

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ObjectStorage is the file-storage collaborator the image guard delegates
// to once the cheap checks have passed.
type ObjectStorage interface {
	Upload(ctx context.Context, objectKey string, data []byte, contentType string) error
	Remove(ctx context.Context, objectKey string) error
	AccessURL(objectKey string) string
}

const maxImageWidth = 1200
const thumbnailSize = 108

// ImageGuard enforces the evidence-photo quotas and owns the resize +
// thumbnail pipeline in front of object storage.
type ImageGuard struct {
	DB      *gorm.DB
	Storage ObjectStorage
	Logger  *logrus.Logger
}

func NewImageGuard(db *gorm.DB, storage ObjectStorage, logger *logrus.Logger) *ImageGuard {
	return &ImageGuard{DB: db, Storage: storage, Logger: logger}
}

type NewAuditImage struct {
	AuditSessionId int    `json:"audit_session_id" binding:"required"`
	AuditAssetId   *int   `json:"audit_asset_id"`
	Description    string `json:"description"`
	FileName       string `json:"file_name"`
	Data           []byte `json:"-"`
}

// UploadAuditImage validates the quota for the relevant scope before doing
// any expensive work, then resizes, thumbnails, stores and records the
// image. The quota check races benignly with concurrent uploads; the caps
// are soft limits.
func (g *ImageGuard) UploadAuditImage(ctx context.Context, input *NewAuditImage) (*models.AuditImage, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ValidationError("organization id is required", nil)
	}
	uploadedById, ok := utils.GetUserIdFromContext(ctx)
	if !ok || uploadedById <= 0 {
		return nil, utils.ValidationError("user id is required", nil)
	}

	if len(input.Data) == 0 {
		return nil, utils.ValidationError("no image file found in the request", map[string]any{
			"audit_session_id": input.AuditSessionId,
		})
	}

	if err := utils.ValidateResourceId[models.AuditSession](g.DB.WithContext(ctx), organizationId, input.AuditSessionId); err != nil {
		return nil, utils.NotFoundError("audit session not found", map[string]any{
			"audit_session_id": input.AuditSessionId,
		})
	}

	if input.AuditAssetId != nil {
		var count int64
		err := g.DB.WithContext(ctx).Model(&models.AuditAsset{}).
			Where("organization_id = ? AND audit_session_id = ? AND id = ?",
				organizationId, input.AuditSessionId, *input.AuditAssetId).
			Count(&count).Error
		if err != nil {
			return nil, utils.WrapError(err, "unable to validate audit asset", nil)
		}
		if count == 0 {
			return nil, utils.NotFoundError("audit asset not found", map[string]any{
				"audit_asset_id": *input.AuditAssetId,
			})
		}
	}

	if err := g.validateImageLimits(ctx, organizationId, input.AuditSessionId, input.AuditAssetId); err != nil {
		return nil, err
	}

	original, thumbnail, err := processImage(input.Data)
	if err != nil {
		return nil, utils.ValidationError("unsupported image file", map[string]any{
			"file_name": input.FileName,
		})
	}

	baseName := uuid.NewString() + ".jpg"
	dir := fmt.Sprintf("organizations/%s/audits/%d", organizationId, input.AuditSessionId)
	imageKey := path.Join(dir, baseName)
	thumbnailKey := path.Join(dir, "thumbnails", baseName)

	if err := g.Storage.Upload(ctx, imageKey, original, "image/jpeg"); err != nil {
		return nil, utils.InternalError(err, "failed to upload audit image", map[string]any{
			"audit_session_id": input.AuditSessionId,
		})
	}
	if err := g.Storage.Upload(ctx, thumbnailKey, thumbnail, "image/jpeg"); err != nil {
		return nil, utils.InternalError(err, "failed to upload audit image thumbnail", map[string]any{
			"audit_session_id": input.AuditSessionId,
		})
	}

	image := models.AuditImage{
		OrganizationId: organizationId,
		AuditSessionId: input.AuditSessionId,
		AuditAssetId:   input.AuditAssetId,
		ImageUrl:       g.Storage.AccessURL(imageKey),
		ThumbnailUrl:   g.Storage.AccessURL(thumbnailKey),
		Description:    input.Description,
		UploadedById:   uploadedById,
	}
	if err := g.DB.WithContext(ctx).Create(&image).Error; err != nil {
		return nil, utils.WrapError(err, "failed to record audit image", map[string]any{
			"audit_session_id": input.AuditSessionId,
		})
	}
	return &image, nil
}

func (g *ImageGuard) validateImageLimits(ctx context.Context, organizationId string, sessionId int, auditAssetId *int) error {
	db := g.DB.WithContext(ctx).Model(&models.AuditImage{}).
		Where("organization_id = ? AND audit_session_id = ?", organizationId, sessionId)

	if auditAssetId != nil {
		var assetImageCount int64
		if err := db.Where("audit_asset_id = ?", *auditAssetId).Count(&assetImageCount).Error; err != nil {
			return utils.WrapError(err, "unable to count audit images", nil)
		}
		if assetImageCount >= models.MaxImagesPerAuditAsset {
			return utils.ValidationError(
				fmt.Sprintf("maximum of %d images per asset exceeded", models.MaxImagesPerAuditAsset),
				map[string]any{
					"audit_session_id": sessionId,
					"audit_asset_id":   *auditAssetId,
					"current_count":    assetImageCount,
				})
		}
		return nil
	}

	var generalImageCount int64
	if err := db.Where("audit_asset_id IS NULL").Count(&generalImageCount).Error; err != nil {
		return utils.WrapError(err, "unable to count audit images", nil)
	}
	if generalImageCount >= models.MaxGeneralAuditImages {
		return utils.ValidationError(
			fmt.Sprintf("maximum of %d general images per audit exceeded", models.MaxGeneralAuditImages),
			map[string]any{
				"audit_session_id": sessionId,
				"current_count":    generalImageCount,
			})
	}
	return nil
}

// processImage bounds the original to maxImageWidth without enlarging and
// renders a square thumbnail, both as JPEG.
func processImage(data []byte) (original []byte, thumbnail []byte, err error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, nil, err
	}

	if img.Bounds().Dx() > maxImageWidth {
		img = imaging.Resize(img, maxImageWidth, 0, imaging.Lanczos)
	}

	var originalBuf bytes.Buffer
	if err := imaging.Encode(&originalBuf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, nil, err
	}

	thumb := imaging.Thumbnail(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	var thumbBuf bytes.Buffer
	if err := imaging.Encode(&thumbBuf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, nil, err
	}

	return originalBuf.Bytes(), thumbBuf.Bytes(), nil
}

// DeleteAuditImage removes the original and thumbnail objects, then the
// row. A cross-tenant id reads as absent; existence is never confirmed
// across organizations.
func (g *ImageGuard) DeleteAuditImage(ctx context.Context, imageId int) (bool, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return false, utils.ValidationError("organization id is required", nil)
	}

	var image models.AuditImage
	err := g.DB.WithContext(ctx).
		Where("organization_id = ? AND id = ?", organizationId, imageId).
		First(&image).Error
	if err != nil {
		return false, utils.NotFoundError("image not found or you don't have permission to delete it", map[string]any{
			"image_id": imageId,
		})
	}

	if key := utils.ExtractObjectKeyFromURL(image.ImageUrl); key != "" {
		if err := g.Storage.Remove(ctx, key); err != nil {
			return false, utils.InternalError(err, "failed to delete audit image", map[string]any{
				"image_id": imageId,
			})
		}
	}
	if key := utils.ExtractObjectKeyFromURL(image.ThumbnailUrl); key != "" {
		if err := g.Storage.Remove(ctx, key); err != nil {
			return false, utils.InternalError(err, "failed to delete audit image thumbnail", map[string]any{
				"image_id": imageId,
			})
		}
	}

	if err := g.DB.WithContext(ctx).Delete(&image).Error; err != nil {
		return false, utils.WrapError(err, "failed to delete audit image record", map[string]any{
			"image_id": imageId,
		})
	}
	return true, nil
}

// CountAuditImages returns how many images exist in the given scope.
func (g *ImageGuard) CountAuditImages(ctx context.Context, sessionId int, auditAssetId *int) (int64, error) {

	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return 0, utils.ValidationError("organization id is required", nil)
	}

	db := g.DB.WithContext(ctx).Model(&models.AuditImage{}).
		Where("organization_id = ? AND audit_session_id = ?", organizationId, sessionId)
	if auditAssetId != nil {
		db = db.Where("audit_asset_id = ?", *auditAssetId)
	} else {
		db = db.Where("audit_asset_id IS NULL")
	}

	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, utils.WrapError(err, "unable to count audit images", nil)
	}
	return count, nil
}
