package workflow_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/assets_backend/models"
	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"bitbucket.org/mmdatafocus/assets_backend/workflow"
)

type storedObject struct {
	Key         string
	Data        []byte
	ContentType string
}

// fakeStorage records uploads and removals. AccessURL returns the raw
// object key, which the delete path resolves back to the same key.
type fakeStorage struct {
	mu       sync.Mutex
	Uploads  []storedObject
	Removals []string
}

func (f *fakeStorage) Upload(_ context.Context, objectKey string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads = append(f.Uploads, storedObject{Key: objectKey, Data: data, ContentType: contentType})
	return nil
}

func (f *fakeStorage) Remove(_ context.Context, objectKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removals = append(f.Removals, objectKey)
	return nil
}

func (f *fakeStorage) AccessURL(objectKey string) string { return objectKey }

func makeJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func seedAuditWithAsset(t *testing.T, ctx context.Context, engine *workflow.AuditEngine, assetId int, name string) (*models.AuditSession, *models.AuditAsset) {
	t.Helper()
	session, err := engine.CreateAuditSession(ctx, &models.NewAuditSession{
		Name: name, ScopeName: name, AssetIds: []int{assetId},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	var auditAsset models.AuditAsset
	if err := engine.DB.Where("audit_session_id = ? AND asset_id = ?", session.ID, assetId).
		First(&auditAsset).Error; err != nil {
		t.Fatalf("load audit asset: %v", err)
	}
	return session, &auditAsset
}

func TestUploadAuditImageStoresOriginalAndThumbnail(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	user := seedUser(t, db, org.ID.String(), "uploader", "Uma Uploader", "uma@test.local")
	asset := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), user)
	session, _ := seedAuditWithAsset(t, ctx, engine, asset.ID, "Photo Audit")

	storage := &fakeStorage{}
	guard := workflow.NewImageGuard(db, storage, nil)

	img, err := guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
		AuditSessionId: session.ID,
		Description:    "shelf overview",
		FileName:       "overview.jpg",
		Data:           makeJPEG(t, 640, 480),
	})
	if err != nil {
		t.Fatalf("UploadAuditImage: %v", err)
	}

	if img.AuditAssetId != nil {
		t.Error("general image should not carry an audit asset id")
	}
	if img.UploadedById != user.ID || img.Description != "shelf overview" {
		t.Errorf("row = %+v", img)
	}
	prefix := fmt.Sprintf("organizations/%s/audits/%d/", org.ID.String(), session.ID)
	if !strings.HasPrefix(img.ImageUrl, prefix) || !strings.HasSuffix(img.ImageUrl, ".jpg") {
		t.Errorf("image url = %q, want %s<uuid>.jpg", img.ImageUrl, prefix)
	}
	if !strings.HasPrefix(img.ThumbnailUrl, prefix+"thumbnails/") {
		t.Errorf("thumbnail url = %q, want under %sthumbnails/", img.ThumbnailUrl, prefix)
	}

	if len(storage.Uploads) != 2 {
		t.Fatalf("uploads = %d, want original plus thumbnail", len(storage.Uploads))
	}
	for _, up := range storage.Uploads {
		if up.ContentType != "image/jpeg" {
			t.Errorf("content type = %q, want image/jpeg", up.ContentType)
		}
	}
	thumb, _, err := image.Decode(bytes.NewReader(storage.Uploads[1].Data))
	if err != nil {
		t.Fatalf("decode stored thumbnail: %v", err)
	}
	if thumb.Bounds().Dx() != 108 || thumb.Bounds().Dy() != 108 {
		t.Errorf("thumbnail = %dx%d, want 108x108", thumb.Bounds().Dx(), thumb.Bounds().Dy())
	}

	count, err := guard.CountAuditImages(ctx, session.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("general image count = %d, want 1", count)
	}
}

func TestUploadAuditImageBoundsWidth(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	user := seedUser(t, db, org.ID.String(), "uploader", "Uma Uploader", "uma@test.local")
	asset := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), user)
	session, _ := seedAuditWithAsset(t, ctx, engine, asset.ID, "Wide Photo Audit")

	storage := &fakeStorage{}
	guard := workflow.NewImageGuard(db, storage, nil)

	if _, err := guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
		AuditSessionId: session.ID,
		FileName:       "panorama.jpg",
		Data:           makeJPEG(t, 2400, 600),
	}); err != nil {
		t.Fatalf("UploadAuditImage: %v", err)
	}

	original, _, err := image.Decode(bytes.NewReader(storage.Uploads[0].Data))
	if err != nil {
		t.Fatalf("decode stored original: %v", err)
	}
	if original.Bounds().Dx() != 1200 {
		t.Errorf("stored width = %d, want 1200", original.Bounds().Dx())
	}
	if original.Bounds().Dy() != 300 {
		t.Errorf("stored height = %d, want 300 (aspect preserved)", original.Bounds().Dy())
	}
}

func TestUploadAuditImageQuotas(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	user := seedUser(t, db, org.ID.String(), "uploader", "Uma Uploader", "uma@test.local")
	asset := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), user)
	session, auditAsset := seedAuditWithAsset(t, ctx, engine, asset.ID, "Quota Audit")

	storage := &fakeStorage{}
	guard := workflow.NewImageGuard(db, storage, nil)
	data := makeJPEG(t, 320, 240)

	for i := 0; i < models.MaxImagesPerAuditAsset; i++ {
		if _, err := guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
			AuditSessionId: session.ID,
			AuditAssetId:   &auditAsset.ID,
			Data:           data,
		}); err != nil {
			t.Fatalf("per-asset upload %d: %v", i, err)
		}
	}
	uploadsBefore := len(storage.Uploads)

	_, err := guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
		AuditSessionId: session.ID,
		AuditAssetId:   &auditAsset.ID,
		Data:           data,
	})
	if utils.KindOf(err) != utils.ErrorKindValidation {
		t.Fatalf("over-quota kind = %v, want validation", utils.KindOf(err))
	}
	if !strings.Contains(err.Error(), "maximum of 3 images per asset exceeded") {
		t.Errorf("error = %q", err.Error())
	}
	if len(storage.Uploads) != uploadsBefore {
		t.Error("rejected upload still reached storage")
	}

	// Per-asset and general quotas are independent pools.
	for i := 0; i < models.MaxGeneralAuditImages; i++ {
		if _, err := guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
			AuditSessionId: session.ID,
			Data:           data,
		}); err != nil {
			t.Fatalf("general upload %d: %v", i, err)
		}
	}
	_, err = guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
		AuditSessionId: session.ID,
		Data:           data,
	})
	if utils.KindOf(err) != utils.ErrorKindValidation {
		t.Fatalf("general over-quota kind = %v, want validation", utils.KindOf(err))
	}
	if !strings.Contains(err.Error(), "maximum of 5 general images per audit exceeded") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestUploadAuditImageValidation(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	user := seedUser(t, db, org.ID.String(), "uploader", "Uma Uploader", "uma@test.local")
	asset := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), user)
	session, _ := seedAuditWithAsset(t, ctx, engine, asset.ID, "Validation Audit")

	storage := &fakeStorage{}
	guard := workflow.NewImageGuard(db, storage, nil)

	_, err := guard.UploadAuditImage(ctx, &workflow.NewAuditImage{AuditSessionId: session.ID})
	if utils.KindOf(err) != utils.ErrorKindValidation {
		t.Errorf("empty data: kind = %v, want validation", utils.KindOf(err))
	}

	_, err = guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
		AuditSessionId: 9999, Data: makeJPEG(t, 10, 10),
	})
	if utils.KindOf(err) != utils.ErrorKindNotFound {
		t.Errorf("unknown session: kind = %v, want not found", utils.KindOf(err))
	}

	ghost := 9999
	_, err = guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
		AuditSessionId: session.ID, AuditAssetId: &ghost, Data: makeJPEG(t, 10, 10),
	})
	if utils.KindOf(err) != utils.ErrorKindNotFound {
		t.Errorf("unknown audit asset: kind = %v, want not found", utils.KindOf(err))
	}

	_, err = guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
		AuditSessionId: session.ID, FileName: "notes.txt", Data: []byte("not an image"),
	})
	if utils.KindOf(err) != utils.ErrorKindValidation {
		t.Errorf("non-image data: kind = %v, want validation", utils.KindOf(err))
	}
	if len(storage.Uploads) != 0 {
		t.Error("no upload should reach storage from the rejection paths")
	}
}

func TestDeleteAuditImage(t *testing.T) {
	db := newTestDB(t)
	org := seedOrganization(t, db)
	user := seedUser(t, db, org.ID.String(), "uploader", "Uma Uploader", "uma@test.local")
	asset := seedAsset(t, db, org.ID.String(), "Laptop", "1200.00")

	engine := workflow.NewAuditEngine(db, nil)
	ctx := testCtx(org.ID.String(), user)
	session, _ := seedAuditWithAsset(t, ctx, engine, asset.ID, "Delete Audit")

	storage := &fakeStorage{}
	guard := workflow.NewImageGuard(db, storage, nil)

	img, err := guard.UploadAuditImage(ctx, &workflow.NewAuditImage{
		AuditSessionId: session.ID, Data: makeJPEG(t, 100, 100),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Another tenant never sees the image, let alone deletes it.
	otherOrg := seedOrganization(t, db)
	otherUser := seedUser(t, db, otherOrg.ID.String(), "intruder", "Iva Intruder", "iva@test.local")
	if _, err := guard.DeleteAuditImage(testCtx(otherOrg.ID.String(), otherUser), img.ID); utils.KindOf(err) != utils.ErrorKindNotFound {
		t.Errorf("cross-tenant delete: kind = %v, want not found", utils.KindOf(err))
	}

	deleted, err := guard.DeleteAuditImage(ctx, img.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteAuditImage = %v, %v", deleted, err)
	}
	if len(storage.Removals) != 2 {
		t.Fatalf("removals = %d, want original plus thumbnail", len(storage.Removals))
	}
	removed := map[string]bool{storage.Removals[0]: true, storage.Removals[1]: true}
	if !removed[img.ImageUrl] || !removed[img.ThumbnailUrl] {
		t.Errorf("removed keys = %v, want %q and %q", storage.Removals, img.ImageUrl, img.ThumbnailUrl)
	}

	var count int64
	if err := db.Model(&models.AuditImage{}).Where("id = ?", img.ID).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("image row still present after delete")
	}

	if _, err := guard.DeleteAuditImage(ctx, img.ID); utils.KindOf(err) != utils.ErrorKindNotFound {
		t.Errorf("double delete: kind = %v, want not found", utils.KindOf(err))
	}
}
