package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"db-backup-runner/internal/config"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
)

// AzureStore implements ObjectStore against Azure Blob Storage using
// shared-key authentication. The configured bucket name maps to a blob
// container.
type AzureStore struct {
	container azblob.ContainerURL
	bucket    string
	log       *logging.Logger
}

func NewAzureStore(cfg *config.StorageConfig, log *logging.Logger) (*AzureStore, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.AzureAccountName, cfg.AzureAccountKey)
	if err != nil {
		return nil, joberr.ConfigInvalid("invalid Azure storage credentials", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccountName)
	}
	serviceURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, joberr.ConfigInvalid("invalid Azure storage endpoint", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	service := azblob.NewServiceURL(*serviceURL, pipeline)

	return &AzureStore{
		container: service.NewContainerURL(cfg.Bucket),
		bucket:    cfg.Bucket,
		log:       log,
	}, nil
}

func (a *AzureStore) Upload(ctx context.Context, localPath, key string) (*StorageObject, error) {
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
	blob := a.container.NewBlockBlobURL(key)
	_, err = azblob.UploadFileToBlockBlob(ctx, f, blob, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 4,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return nil, joberr.UploadFailed("failed to upload blob to Azure", err).
			WithContext("key", key)
	}

	a.log.LogUpload(a.bucket, key, info.Size(), "azure", time.Since(start), nil)
	return &StorageObject{Bucket: a.bucket, Key: key, Size: info.Size()}, nil
}

func (a *AzureStore) Download(ctx context.Context, key, localPath string) error {
	blob := a.container.NewBlockBlobURL(key)
	resp, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return joberr.DownloadFailed("failed to download blob from Azure", err).
			WithContext("key", key)
	}

	body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	if err := writeBodyTo(localPath, body); err != nil {
		return joberr.DownloadFailed("failed to save Azure blob", err).
			WithContext("key", key)
	}
	return nil
}

func (a *AzureStore) Exists(ctx context.Context, key string) (bool, int64, error) {
	blob := a.container.NewBlockBlobURL(key)
	props, err := blob.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return false, 0, nil
		}
		return false, 0, joberr.DownloadFailed("failed to stat Azure blob", err).
			WithContext("key", key)
	}
	return true, props.ContentLength(), nil
}

func (a *AzureStore) EnsureBucket(ctx context.Context) error {
	_, err := a.container.Create(ctx, azblob.Metadata{}, azblob.PublicAccessNone)
	if err != nil {
		if stgErr, ok := err.(azblob.StorageError); ok &&
			stgErr.ServiceCode() == azblob.ServiceCodeContainerAlreadyExists {
			return nil
		}
		return joberr.UploadFailed(fmt.Sprintf("failed to create Azure container %s", a.bucket), err)
	}
	return nil
}

func isAzureNotFound(err error) bool {
	if stgErr, ok := err.(azblob.StorageError); ok {
		return stgErr.Response() != nil && stgErr.Response().StatusCode == 404
	}
	return false
}
