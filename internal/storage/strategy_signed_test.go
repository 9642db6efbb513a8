package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-backup-runner/internal/config"
)

// fakeObjectServer is a minimal in-memory S3 lookalike: it stores PUT bodies
// by path and records the headers of every request for assertions.
type fakeObjectServer struct {
	mu       sync.Mutex
	objects  map[string][]byte
	requests []*http.Request
}

func newFakeObjectServer() *fakeObjectServer {
	return &fakeObjectServer{objects: map[string][]byte{}}
}

func (f *fakeObjectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r.Clone(r.Context()))

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.Header().Set("ETag", `"d41d8cd98f"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(body)
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeObjectServer) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestSignedStrategy(t *testing.T, endpoint string) *signedStrategy {
	t.Helper()
	s := newSignedStrategy(&config.StorageConfig{
		Endpoint:        endpoint,
		Bucket:          "backups",
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY",
	}, 5*time.Second)
	s.now = func() time.Time {
		return time.Date(2015, 8, 30, 12, 36, 0, 0, time.UTC)
	}
	return s
}

func TestSignedUploadRoundTrip(t *testing.T) {
	server := newFakeObjectServer()
	ts := httptest.NewServer(server)
	defer ts.Close()

	local := filepath.Join(t.TempDir(), "dump.sql.gz")
	require.NoError(t, os.WriteFile(local, []byte("dump contents"), 0o600))

	s := newTestSignedStrategy(t, ts.URL)
	obj, err := s.upload(context.Background(), local, "job-1/dump.sql.gz")
	require.NoError(t, err)
	assert.Equal(t, int64(len("dump contents")), obj.Size)
	assert.Equal(t, "d41d8cd98f", obj.ETag)

	req := server.lastRequest()
	assert.Equal(t, "/backups/job-1/dump.sql.gz", req.URL.Path)

	auth := req.Header.Get("Authorization")
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"), auth)
	assert.Contains(t, auth, "SignedHeaders=")
	assert.Contains(t, auth, "Signature=")
	assert.Equal(t, "20150830T123600Z", req.Header.Get("X-Amz-Date"))
	assert.NotEmpty(t, req.Header.Get("X-Amz-Content-Sha256"))
}

func TestSignedDownloadRoundTrip(t *testing.T) {
	server := newFakeObjectServer()
	server.objects["/backups/job-1/dump.sql.gz"] = []byte("dump contents")
	ts := httptest.NewServer(server)
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "restored.sql.gz")
	s := newTestSignedStrategy(t, ts.URL)
	require.NoError(t, s.download(context.Background(), "job-1/dump.sql.gz", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "dump contents", string(data))
}

func TestSignedDownloadMissingObject(t *testing.T) {
	ts := httptest.NewServer(newFakeObjectServer())
	defer ts.Close()

	s := newTestSignedStrategy(t, ts.URL)
	err := s.download(context.Background(), "missing", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSignedHeadDistinguishesMissing(t *testing.T) {
	server := newFakeObjectServer()
	server.objects["/backups/present"] = []byte("x")
	ts := httptest.NewServer(server)
	defer ts.Close()

	s := newTestSignedStrategy(t, ts.URL)

	found, _, err := s.head(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, found)

	found, _, err = s.head(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSignedEnsureBucketCreatesOnMissing(t *testing.T) {
	var createdBucket bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/backups" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			createdBucket = true
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	s := newTestSignedStrategy(t, ts.URL)
	require.NoError(t, s.ensureBucket(context.Background()))
	assert.True(t, createdBucket)
}

func TestSignedEnsureBucketTreatsConflictAsSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			w.WriteHeader(http.StatusConflict)
		}
	}))
	defer ts.Close()

	s := newTestSignedStrategy(t, ts.URL)
	require.NoError(t, s.ensureBucket(context.Background()))
}

func TestSignedObjectPathEncodesKeySegments(t *testing.T) {
	s := newTestSignedStrategy(t, "https://s3.example.com")
	assert.Equal(t, "/backups/job%201/dump.sql.gz", s.objectPath("job 1/dump.sql.gz"))
}
