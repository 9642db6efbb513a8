package storage

import (
	"context"
	"fmt"
	"time"

	"db-backup-runner/internal/config"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
	"db-backup-runner/internal/retry"
)

// transportStrategy is one concrete way of performing S3-compatible storage
// operations. Strategies are tried in order; each failure is logged so
// operators can diagnose endpoint incompatibility from logs alone.
type transportStrategy interface {
	name() string
	upload(ctx context.Context, localPath, key string) (*StorageObject, error)
	download(ctx context.Context, key, localPath string) error
	head(ctx context.Context, key string) (bool, int64, error)
	ensureBucket(ctx context.Context) error
}

// S3Client talks to S3-compatible storage through an ordered list of
// transport strategies: the managed SDK path first, then raw signed HTTP.
type S3Client struct {
	strategies []transportStrategy
	bucket     string
	log        *logging.Logger
	netPolicy  retry.Policy
}

// NewS3Client builds the client with both transport strategies armed.
func NewS3Client(cfg *config.StorageConfig, networkTimeout time.Duration, log *logging.Logger) (*S3Client, error) {
	sdk, err := newSDKStrategy(cfg)
	if err != nil {
		return nil, err
	}
	signed := newSignedStrategy(cfg, networkTimeout)

	return &S3Client{
		strategies: []transportStrategy{sdk, signed},
		bucket:     cfg.Bucket,
		log:        log,
		netPolicy: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}, nil
}

// newS3ClientWithStrategies wires explicit strategies; used by tests.
func newS3ClientWithStrategies(bucket string, log *logging.Logger, strategies ...transportStrategy) *S3Client {
	return &S3Client{
		strategies: strategies,
		bucket:     bucket,
		log:        log,
		netPolicy:  retry.Policy{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	}
}

// Upload stores the file at localPath under key, falling through the
// strategy list on failure. A retry re-sends identical bytes to the same
// key, so repeating a PUT is safe.
func (c *S3Client) Upload(ctx context.Context, localPath, key string) (*StorageObject, error) {
	var obj *StorageObject
	err := retry.Do(ctx, c.netPolicy, joberr.IsRetryable, func(ctx context.Context) error {
		var err error
		obj, err = c.tryUpload(ctx, localPath, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (c *S3Client) tryUpload(ctx context.Context, localPath, key string) (*StorageObject, error) {
	var lastErr error
	var attempted []string

	for _, s := range c.strategies {
		start := time.Now()
		obj, err := s.upload(ctx, localPath, key)
		if err == nil {
			c.log.LogUpload(c.bucket, key, obj.Size, s.name(), time.Since(start), nil)
			return obj, nil
		}
		c.log.LogUpload(c.bucket, key, 0, s.name(), time.Since(start), err)
		attempted = append(attempted, fmt.Sprintf("%s: %v", s.name(), err))
		lastErr = err
	}

	return nil, joberr.UploadFailed("all transport strategies exhausted", lastErr).
		WithContext("key", key).
		WithContext("strategies", attempted)
}

// Download fetches key into localPath with bounded retry (idempotent GET).
func (c *S3Client) Download(ctx context.Context, key, localPath string) error {
	return retry.Do(ctx, c.netPolicy, joberr.IsRetryable, func(ctx context.Context) error {
		var lastErr error
		var attempted []string

		for _, s := range c.strategies {
			err := s.download(ctx, key, localPath)
			if err == nil {
				return nil
			}
			c.log.WithFields(map[string]interface{}{
				"strategy": s.name(),
				"key":      key,
				"error":    err.Error(),
			}).Warn("Download attempt failed")
			attempted = append(attempted, fmt.Sprintf("%s: %v", s.name(), err))
			lastErr = err
		}

		return joberr.DownloadFailed("all transport strategies exhausted", lastErr).
			WithContext("key", key).
			WithContext("strategies", attempted)
	})
}

// Exists reports whether key is present, and its byte size when it is
// (bounded retry, idempotent HEAD).
func (c *S3Client) Exists(ctx context.Context, key string) (bool, int64, error) {
	var found bool
	var size int64

	err := retry.Do(ctx, c.netPolicy, joberr.IsRetryable, func(ctx context.Context) error {
		var lastErr error
		for _, s := range c.strategies {
			ok, n, err := s.head(ctx, key)
			if err == nil {
				found, size = ok, n
				return nil
			}
			c.log.WithFields(map[string]interface{}{
				"strategy": s.name(),
				"key":      key,
				"error":    err.Error(),
			}).Warn("Existence check attempt failed")
			lastErr = err
		}
		return joberr.DownloadFailed("existence check failed on all transport strategies", lastErr).
			WithContext("key", key)
	})
	if err != nil {
		return false, 0, err
	}
	return found, size, nil
}

// EnsureBucket creates the bucket if needed. Called once before the first
// upload of a session; "already exists" is success.
func (c *S3Client) EnsureBucket(ctx context.Context) error {
	var lastErr error
	for _, s := range c.strategies {
		err := s.ensureBucket(ctx)
		if err == nil {
			return nil
		}
		c.log.WithFields(map[string]interface{}{
			"strategy": s.name(),
			"bucket":   c.bucket,
			"error":    err.Error(),
		}).Warn("Bucket provisioning attempt failed")
		lastErr = err
	}
	return joberr.UploadFailed(fmt.Sprintf("failed to ensure bucket %s", c.bucket), lastErr)
}
