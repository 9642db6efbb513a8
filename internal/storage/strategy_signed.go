package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"db-backup-runner/internal/config"
	"db-backup-runner/internal/sigv4"
)

// signedStrategy talks to the storage endpoint with plain HTTP requests
// signed by the sigv4 package. It exists so a backup still lands somewhere
// when the SDK transport cannot be constructed or keeps failing against a
// non-standard S3 implementation.
type signedStrategy struct {
	endpoint  string
	bucket    string
	region    string
	accessKey string
	secretKey string
	client    *http.Client

	// now is stubbed in tests to pin signature timestamps.
	now func() time.Time
}

func newSignedStrategy(cfg *config.StorageConfig, networkTimeout time.Duration) *signedStrategy {
	endpoint := strings.TrimSuffix(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.Region)
	}
	return &signedStrategy{
		endpoint:  endpoint,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		accessKey: cfg.AccessKeyID,
		secretKey: cfg.SecretAccessKey,
		client:    &http.Client{Timeout: networkTimeout},
		now:       time.Now,
	}
}

func (s *signedStrategy) name() string { return "signed-http" }

// objectPath returns the path-style URI path for key, URI-encoded the way
// the signature expects.
func (s *signedStrategy) objectPath(key string) string {
	return "/" + sigv4.EncodePath(s.bucket) + "/" + sigv4.EncodePath(key)
}

func (s *signedStrategy) bucketPath() string {
	return "/" + sigv4.EncodePath(s.bucket)
}

// newSignedRequest builds an HTTP request with Host, X-Amz-Date,
// X-Amz-Content-Sha256 and Authorization headers covering the payload hash.
func (s *signedStrategy) newSignedRequest(ctx context.Context, method, path, payloadHash string, body io.Reader, contentLength int64) (*http.Request, error) {
	u, err := url.Parse(s.endpoint + path)
	if err != nil {
		return nil, fmt.Errorf("invalid storage endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if contentLength > 0 {
		req.ContentLength = contentLength
	}

	sig := sigv4.Sign(sigv4.Request{
		Method: method,
		Path:   path,
		Query:  u.RawQuery,
		Headers: map[string]string{
			"host":                 u.Host,
			"x-amz-content-sha256": payloadHash,
		},
		PayloadHash: payloadHash,
		AccessKey:   s.accessKey,
		SecretKey:   s.secretKey,
		Region:      s.region,
		Service:     sigv4.ServiceS3,
		Time:        s.now(),
	})

	req.Header.Set("X-Amz-Date", sig.AmzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	req.Header.Set("Authorization", sig.Authorization)
	return req, nil
}

func (s *signedStrategy) upload(ctx context.Context, localPath, key string) (*StorageObject, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", localPath, err)
	}

	req, err := s.newSignedRequest(ctx, http.MethodPut, s.objectPath(key),
		sigv4.PayloadHash(data), bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signed put failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("signed put failed: %s", responseError(resp))
	}

	obj := &StorageObject{Bucket: s.bucket, Key: key, Size: int64(len(data))}
	obj.ETag = strings.Trim(resp.Header.Get("ETag"), `"`)
	return obj, nil
}

func (s *signedStrategy) download(ctx context.Context, key, localPath string) error {
	req, err := s.newSignedRequest(ctx, http.MethodGet, s.objectPath(key),
		sigv4.EmptyPayloadHash, nil, 0)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("signed get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signed get failed: %s", responseError(resp))
	}
	return writeBodyTo(localPath, resp.Body)
}

func (s *signedStrategy) head(ctx context.Context, key string) (bool, int64, error) {
	req, err := s.newSignedRequest(ctx, http.MethodHead, s.objectPath(key),
		sigv4.EmptyPayloadHash, nil, 0)
	if err != nil {
		return false, 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("signed head failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, resp.ContentLength, nil
	case http.StatusNotFound:
		return false, 0, nil
	default:
		return false, 0, fmt.Errorf("signed head failed: status %d", resp.StatusCode)
	}
}

func (s *signedStrategy) ensureBucket(ctx context.Context) error {
	req, err := s.newSignedRequest(ctx, http.MethodHead, s.bucketPath(),
		sigv4.EmptyPayloadHash, nil, 0)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("signed head bucket failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("signed head bucket failed: status %d", resp.StatusCode)
	}

	req, err = s.newSignedRequest(ctx, http.MethodPut, s.bucketPath(),
		sigv4.EmptyPayloadHash, nil, 0)
	if err != nil {
		return err
	}

	resp, err = s.client.Do(req)
	if err != nil {
		return fmt.Errorf("signed create bucket failed: %w", err)
	}
	defer resp.Body.Close()

	// 409 means the bucket raced into existence, which is fine.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("signed create bucket failed: %s", responseError(resp))
	}
	return nil
}

// responseError summarizes a non-2xx response, keeping at most the first
// kilobyte of the body so XML error payloads stay readable in logs.
func responseError(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", resp.StatusCode, trimmed)
}
