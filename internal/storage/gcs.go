package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"db-backup-runner/internal/config"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
)

// GCSStore implements ObjectStore against Google Cloud Storage. Credentials
// come from the configured service-account file, or from ambient application
// default credentials when no file is set.
type GCSStore struct {
	client *gcs.Client
	bucket string
	log    *logging.Logger
}

func NewGCSStore(ctx context.Context, cfg *config.StorageConfig, log *logging.Logger) (*GCSStore, error) {
	var client *gcs.Client
	var err error

	if cfg.GCSCredentialsPath != "" {
		client, err = gcs.NewClient(ctx, option.WithCredentialsFile(cfg.GCSCredentialsPath))
	} else {
		client, err = gcs.NewClient(ctx)
	}
	if err != nil {
		return nil, joberr.ConfigInvalid("failed to create GCS client", err)
	}

	return &GCSStore{client: client, bucket: cfg.Bucket, log: log}, nil
}

func (g *GCSStore) Upload(ctx context.Context, localPath, key string) (*StorageObject, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, joberr.UploadFailed("failed to open artifact for upload", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, joberr.UploadFailed("failed to stat artifact", err)
	}

	start := time.Now()
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return nil, joberr.UploadFailed("failed to write object to GCS", err).
			WithContext("key", key)
	}
	if err := w.Close(); err != nil {
		return nil, joberr.UploadFailed("failed to finalize GCS upload", err).
			WithContext("key", key)
	}

	g.log.LogUpload(g.bucket, key, info.Size(), "gcs", time.Since(start), nil)
	return &StorageObject{Bucket: g.bucket, Key: key, Size: info.Size()}, nil
}

func (g *GCSStore) Download(ctx context.Context, key, localPath string) error {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return joberr.DownloadFailed("failed to open GCS object", err).
			WithContext("key", key)
	}
	defer r.Close()

	if err := writeBodyTo(localPath, r); err != nil {
		return joberr.DownloadFailed("failed to save GCS object", err).
			WithContext("key", key)
	}
	return nil
}

func (g *GCSStore) Exists(ctx context.Context, key string) (bool, int64, error) {
	attrs, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, 0, nil
		}
		return false, 0, joberr.DownloadFailed("failed to stat GCS object", err).
			WithContext("key", key)
	}
	return true, attrs.Size, nil
}

// EnsureBucket verifies the bucket exists. Creating GCS buckets needs a
// project ID the job environment does not carry, so a missing bucket is a
// configuration problem rather than something to fix here.
func (g *GCSStore) EnsureBucket(ctx context.Context) error {
	_, err := g.client.Bucket(g.bucket).Attrs(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return joberr.ConfigInvalid(fmt.Sprintf("GCS bucket %s does not exist", g.bucket), err)
	}
	return joberr.UploadFailed("failed to stat GCS bucket", err)
}
