package utils

import (
	"context"
	"errors"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client.
// Prefer ADC (service account / GOOGLE_APPLICATION_CREDENTIALS). If you need
// to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// GetGCSClient exposes the shared Google Cloud Storage client.
func GetGCSClient(ctx context.Context) (*storage.Client, error) {
	return getGoogleClient(ctx)
}

func gcsBucketName() (string, error) {
	bucket := strings.TrimSpace(os.Getenv("GCS_BUCKET"))
	if bucket == "" {
		return "", errors.New("GCS_BUCKET is required")
	}
	return bucket, nil
}

func UploadBytesToGCS(ctx context.Context, objectKey string, data []byte, contentType string) error {
	bucket, err := gcsBucketName()
	if err != nil {
		return err
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	wc := client.Bucket(bucket).Object(objectKey).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		return err
	}
	return wc.Close()
}

func RemoveObjectFromGCS(ctx context.Context, objectKey string) error {
	bucket, err := gcsBucketName()
	if err != nil {
		return err
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	err = client.Bucket(bucket).Object(objectKey).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		// Already gone; delete flows stay idempotent.
		return nil
	}
	return err
}

// GCSStorage adapts the bucket helpers to the object-storage interface the
// image workflows consume.
type GCSStorage struct{}

func (GCSStorage) Upload(ctx context.Context, objectKey string, data []byte, contentType string) error {
	return UploadBytesToGCS(ctx, objectKey, data, contentType)
}

func (GCSStorage) Remove(ctx context.Context, objectKey string) error {
	return RemoveObjectFromGCS(ctx, objectKey)
}

func (GCSStorage) AccessURL(objectKey string) string {
	return BuildObjectAccessURL(objectKey)
}
