package s3storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/dropwatch/internal/config"
)

// Storage wraps MinIO/S3 presigning for the upload bucket. It is the
// direct-to-bucket alternative to the hosted presign endpoint.
type Storage struct {
	client *minio.Client
	bucket string
	region string
	ttl    time.Duration
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.S3Bucket,
		region: cfg.S3Region,
		ttl:    cfg.SignedURLTTL,
	}, nil
}

// EnsureBucket makes sure the upload bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// PresignPut returns a signed PUT URL for objectKey.
func (s *Storage) PresignPut(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, s.ttl)
	if err != nil {
		return "", fmt.Errorf("presign upload object: %w", err)
	}
	return u.String(), nil
}

// ObjectKey builds the storage key for an upload. The "<millis>_" prefix on
// the base name matches what the hosted presign endpoint produces, so job
// matching treats both modes the same way.
func ObjectKey(userID, widgetID, fileName string, at time.Time) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "" || base == "." || base == "/" {
		base = "upload"
	}
	return fmt.Sprintf("uploads/%s/%s/%d_%s", widgetID, userID, at.UnixMilli(), base)
}
