// Package storage provides the object-storage client used to ship archives
// to and from the configured bucket. The S3 client tries an SDK transport
// first and falls back to raw signed HTTP, because some test and sandbox
// endpoints reject one or the other. GCS and Azure Blob backends implement
// the same interface for deployments that target those clouds.
package storage

import (
	"context"
	"fmt"

	"db-backup-runner/internal/config"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
)

// StorageObject is the remote counterpart of an uploaded artifact. It is
// produced by a successful upload and never mutated locally; verification
// re-queries its existence and size.
type StorageObject struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag,omitempty"`
}

// ObjectStore abstracts the storage backends the pipeline can write to.
type ObjectStore interface {
	// Upload stores the file at localPath under key and returns the
	// resulting object.
	Upload(ctx context.Context, localPath, key string) (*StorageObject, error)

	// Download fetches key into localPath.
	Download(ctx context.Context, key, localPath string) error

	// Exists reports whether key is present, and its size when it is.
	Exists(ctx context.Context, key string) (bool, int64, error)

	// EnsureBucket creates the bucket if it does not exist. A bucket that
	// already exists is success, not failure.
	EnsureBucket(ctx context.Context) error
}

// NewObjectStore selects the backend for the configured storage type.
func NewObjectStore(ctx context.Context, cfg *config.JobConfig, log *logging.Logger) (ObjectStore, error) {
	if log == nil {
		log = logging.NewDefaultLogger()
	}

	switch cfg.Storage.Type {
	case config.StorageTypeS3, config.StorageTypeMinio:
		return NewS3Client(&cfg.Storage, cfg.NetworkTimeout, log)
	case config.StorageTypeGCS:
		return NewGCSStore(ctx, &cfg.Storage, log)
	case config.StorageTypeAzure:
		return NewAzureStore(&cfg.Storage, log)
	default:
		return nil, joberr.ConfigInvalid(fmt.Sprintf("unsupported storage type: %s", cfg.Storage.Type), nil)
	}
}
