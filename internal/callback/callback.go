// Package callback posts job lifecycle notifications to the scheduler's
// callback endpoint. Delivery is best effort: a job that backed up and
// uploaded successfully must not be marked failed because the control plane
// was down, so every error here is logged and swallowed by the caller.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
	"db-backup-runner/internal/retry"
)

// Job terminal and progress statuses reported to the scheduler.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// statusPayload is the body posted to the callback URL.
type statusPayload struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// metadataPayload is the body posted to the /metadata sub-path after a
// successful upload.
type metadataPayload struct {
	JobID     string                 `json:"job_id"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp string                 `json:"timestamp"`
}

// Reporter delivers status and metadata callbacks for one job.
type Reporter struct {
	url    string
	secret string
	jobID  string
	client *http.Client
	log    *logging.Logger

	policy retry.Policy
	now    func() time.Time
}

// New returns a Reporter, or nil when no callback URL is configured. A nil
// Reporter is valid and silently drops every report.
func New(url, secret, jobID string, log *logging.Logger) *Reporter {
	if url == "" {
		return nil
	}
	return &Reporter{
		url:    url,
		secret: secret,
		jobID:  jobID,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
		policy: retry.Policy{
			MaxAttempts:  2,
			InitialDelay: time.Second,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		now: time.Now,
	}
}

// ReportStatus posts a status transition. The returned error is informational
// and safe to ignore; callers log it and move on.
func (r *Reporter) ReportStatus(ctx context.Context, status, message string) error {
	if r == nil {
		return nil
	}
	payload := statusPayload{
		JobID:     r.jobID,
		Status:    status,
		Message:   message,
		Timestamp: r.now().UTC().Format(time.RFC3339),
	}
	err := r.post(ctx, r.url, payload)
	r.log.LogCallback(r.url, status, err)
	return err
}

// ReportMetadata posts backup result details (object key, size, checksum) to
// the metadata sub-path.
func (r *Reporter) ReportMetadata(ctx context.Context, metadata map[string]interface{}) error {
	if r == nil {
		return nil
	}
	payload := metadataPayload{
		JobID:     r.jobID,
		Metadata:  metadata,
		Timestamp: r.now().UTC().Format(time.RFC3339),
	}
	url := r.url + "/metadata"
	err := r.post(ctx, url, payload)
	r.log.LogCallback(url, "metadata", err)
	return err
}

func (r *Reporter) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return joberr.CallbackUnreachable("failed to encode callback payload", err)
	}

	return retry.Do(ctx, r.policy, joberr.IsRetryable, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return joberr.CallbackUnreachable("failed to build callback request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if r.secret != "" {
			req.Header.Set("Authorization", "Bearer "+r.secret)
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return joberr.CallbackUnreachable("callback endpoint unreachable", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return joberr.CallbackUnreachable(
				fmt.Sprintf("callback endpoint returned status %d", resp.StatusCode), nil)
		}
		return nil
	})
}
