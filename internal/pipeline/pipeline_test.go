package pipeline

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db-backup-runner/internal/archive"
	"db-backup-runner/internal/artifact"
	"db-backup-runner/internal/callback"
	"db-backup-runner/internal/config"
	"db-backup-runner/internal/engine"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
	"db-backup-runner/internal/storage"
)

// fakeAdapter produces a canned dump file (or directory) and records restore
// invocations.
type fakeAdapter struct {
	kind       string
	shape      artifact.Shape
	dumpErr    error
	restoreErr error

	// cancelDuringDump simulates the job being interrupted while the dump
	// tool is running.
	cancelDuringDump context.CancelFunc

	restoredPaths []string
}

func (f *fakeAdapter) Kind() string { return f.kind }
func (f *fakeAdapter) Shape() artifact.Shape { return f.shape }

func (f *fakeAdapter) RestoreSemantics() engine.RestoreSemantics { return engine.RestoreReplace }

func (f *fakeAdapter) Dump(ctx context.Context, _ *config.ConnectionConfig, destDir string) (*artifact.Artifact, error) {
	if f.cancelDuringDump != nil {
		f.cancelDuringDump()
		return nil, joberr.Canceled("mysqldump was interrupted", ctx.Err())
	}
	if f.dumpErr != nil {
		return nil, f.dumpErr
	}
	path := filepath.Join(destDir, "appdb.sql")
	if err := os.WriteFile(path, []byte("SELECT 1;\n"), 0o600); err != nil {
		return nil, err
	}
	return &artifact.Artifact{Path: path, Shape: artifact.ShapeFile, Stage: artifact.StageDump}, nil
}

func (f *fakeAdapter) Restore(_ context.Context, _ *config.ConnectionConfig, a *artifact.Artifact) error {
	f.restoredPaths = append(f.restoredPaths, a.Path)
	return f.restoreErr
}

// fakeStore keeps objects in memory and records which operations ran.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   []string

	uploadErr   error
	downloadErr error
	sizeDelta   int64 // reported size offset, to force verification mismatch
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeStore) Upload(_ context.Context, localPath, key string) (*storage.StorageObject, error) {
	f.record("upload")
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
	return &storage.StorageObject{Bucket: "backups", Key: key, Size: int64(len(data))}, nil
}

func (f *fakeStore) Download(_ context.Context, key, localPath string) error {
	f.record("download")
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return joberr.DownloadFailed("object not found", nil).WithContext("key", key)
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (f *fakeStore) Exists(_ context.Context, key string) (bool, int64, error) {
	f.record("exists")
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return false, 0, nil
	}
	return true, int64(len(data)) + f.sizeDelta, nil
}

func (f *fakeStore) EnsureBucket(_ context.Context) error {
	f.record("ensureBucket")
	return nil
}

// statusRecorder collects the callback traffic a pipeline run produces.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
	messages []string
	metadata []map[string]interface{}
}

func (sr *statusRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		json.Unmarshal(body, &payload)

		sr.mu.Lock()
		defer sr.mu.Unlock()
		if r.URL.Path == "/metadata" {
			if md, ok := payload["metadata"].(map[string]interface{}); ok {
				sr.metadata = append(sr.metadata, md)
			}
		} else {
			sr.statuses = append(sr.statuses, fmt.Sprint(payload["status"]))
			sr.messages = append(sr.messages, fmt.Sprint(payload["message"]))
		}
		w.WriteHeader(http.StatusOK)
	})
}

func (sr *statusRecorder) lastStatus() string {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if len(sr.statuses) == 0 {
		return ""
	}
	return sr.statuses[len(sr.statuses)-1]
}

func testJobConfig(callbackURL string) *config.JobConfig {
	return &config.JobConfig{
		JobID: "job-1",
		Connection: config.ConnectionConfig{
			Engine:   "mysql",
			Host:     "db.internal",
			Port:     3306,
			Database: "appdb",
			Username: "backup",
			Password: "s3cret",
		},
		CallbackURL:    callbackURL,
		CallbackSecret: "cb-secret",
		Compression:    "gzip",
		DumpTimeout:    time.Minute,
		NetworkTimeout: 30 * time.Second,
	}
}

func newTestPipeline(t *testing.T, cfg *config.JobConfig, adapter *fakeAdapter, store *fakeStore) *Pipeline {
	t.Helper()

	log := logging.NewDefaultLogger()
	log.SetOutput(io.Discard)

	archiver, err := archive.New(cfg.Compression, cfg.EncryptionKey, log)
	require.NoError(t, err)

	return &Pipeline{
		cfg:      cfg,
		log:      log,
		adapter:  adapter,
		store:    store,
		archiver: archiver,
		reporter: callback.New(cfg.CallbackURL, cfg.CallbackSecret, cfg.JobID, log),
		state:    StateInitialized,
	}
}

func TestRunCompletesAndCleansUp(t *testing.T) {
	recorder := &statusRecorder{}
	ts := httptest.NewServer(recorder.handler())
	defer ts.Close()

	adapter := &fakeAdapter{kind: "mysql", shape: artifact.ShapeFile}
	store := newFakeStore()
	p := newTestPipeline(t, testJobConfig(ts.URL), adapter, store)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, p.State())

	assert.Equal(t, "job-1/appdb.sql.gz", result.ObjectKey)
	assert.Equal(t, "backups", result.Bucket)
	assert.NotEmpty(t, result.Checksum)
	assert.Greater(t, result.SizeBytes, int64(0))

	_, ok := store.objects[result.ObjectKey]
	assert.True(t, ok, "uploaded object missing from store")
	assert.Equal(t, []string{"ensureBucket", "upload", "exists"}, store.calls)

	_, statErr := os.Stat(p.workRoot)
	assert.True(t, os.IsNotExist(statErr), "work root not removed")

	assert.Equal(t, []string{"running", "completed"}, recorder.statuses)
	require.Len(t, recorder.metadata, 1)
	assert.Equal(t, result.ObjectKey, recorder.metadata[0]["object_key"])
	assert.Equal(t, result.Checksum, recorder.metadata[0]["checksum"])
}

func TestRunHonorsConfiguredObjectKey(t *testing.T) {
	cfg := testJobConfig("")
	cfg.ObjectKey = "prod/appdb/2026-08-26.sql.gz"

	adapter := &fakeAdapter{kind: "mysql", shape: artifact.ShapeFile}
	store := newFakeStore()
	p := newTestPipeline(t, cfg, adapter, store)

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "prod/appdb/2026-08-26.sql.gz", result.ObjectKey)
}

func TestRunDumpFailureCleansUpAndReports(t *testing.T) {
	recorder := &statusRecorder{}
	ts := httptest.NewServer(recorder.handler())
	defer ts.Close()

	adapter := &fakeAdapter{
		kind:    "mysql",
		shape:   artifact.ShapeFile,
		dumpErr: joberr.DumpFailed("mysqldump failed", assert.AnError),
	}
	store := newFakeStore()
	p := newTestPipeline(t, testJobConfig(ts.URL), adapter, store)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, joberr.KindDumpFailed, joberr.KindOf(err))
	assert.Equal(t, StateFailed, p.State())

	// Storage must never have been touched.
	assert.Empty(t, store.calls)

	_, statErr := os.Stat(p.workRoot)
	assert.True(t, os.IsNotExist(statErr))

	assert.Equal(t, "failed", recorder.lastStatus())
	assert.Contains(t, recorder.messages[len(recorder.messages)-1], "DUMP_FAILED")
}

func TestRunUploadFailure(t *testing.T) {
	adapter := &fakeAdapter{kind: "mysql", shape: artifact.ShapeFile}
	store := newFakeStore()
	store.uploadErr = joberr.UploadFailed("all transport strategies exhausted", assert.AnError)
	p := newTestPipeline(t, testJobConfig(""), adapter, store)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, joberr.KindUploadFailed, joberr.KindOf(err))
	assert.Equal(t, StateFailed, p.State())

	_, statErr := os.Stat(p.workRoot)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunVerificationMismatchIsDistinctFromUploadFailure(t *testing.T) {
	recorder := &statusRecorder{}
	ts := httptest.NewServer(recorder.handler())
	defer ts.Close()

	adapter := &fakeAdapter{kind: "mysql", shape: artifact.ShapeFile}
	store := newFakeStore()
	store.sizeDelta = -1
	p := newTestPipeline(t, testJobConfig(ts.URL), adapter, store)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, joberr.KindVerificationFailed, joberr.KindOf(err))
	assert.NotEqual(t, joberr.KindUploadFailed, joberr.KindOf(err))

	assert.Equal(t, "failed", recorder.lastStatus())
	assert.Contains(t, recorder.messages[len(recorder.messages)-1], "VERIFICATION_FAILED")
}

func TestRunNotImplementedEngineFailsBeforeStorage(t *testing.T) {
	adapter := &fakeAdapter{
		kind:    "cassandra",
		shape:   artifact.ShapeFile,
		dumpErr: joberr.NotImplemented("cassandra backup is not implemented"),
	}
	store := newFakeStore()
	p := newTestPipeline(t, testJobConfig(""), adapter, store)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, joberr.KindNotImplemented, joberr.KindOf(err))
	assert.Empty(t, store.calls)
}

func TestRunRestoreRoundTrip(t *testing.T) {
	// Seed the store by running a backup first.
	adapter := &fakeAdapter{kind: "mysql", shape: artifact.ShapeFile}
	store := newFakeStore()
	backup := newTestPipeline(t, testJobConfig(""), adapter, store)

	result, err := backup.Run(context.Background())
	require.NoError(t, err)

	cfg := testJobConfig("")
	cfg.ObjectKey = result.ObjectKey
	restore := newTestPipeline(t, cfg, adapter, store)

	require.NoError(t, restore.RunRestore(context.Background()))
	assert.Equal(t, StateCompleted, restore.State())

	require.Len(t, adapter.restoredPaths, 1)
	// The restored artifact is the extracted dump, not the archive.
	assert.NotContains(t, adapter.restoredPaths[0], ".gz")

	_, statErr := os.Stat(restore.workRoot)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunCanceledMidDumpFailsAndCleansUp(t *testing.T) {
	recorder := &statusRecorder{}
	ts := httptest.NewServer(recorder.handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := &fakeAdapter{kind: "mysql", shape: artifact.ShapeFile, cancelDuringDump: cancel}
	store := newFakeStore()
	p := newTestPipeline(t, testJobConfig(ts.URL), adapter, store)

	_, err := p.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, joberr.KindCanceled, joberr.KindOf(err))
	assert.Equal(t, StateFailed, p.State())

	assert.Empty(t, store.calls)
	_, statErr := os.Stat(p.workRoot)
	assert.True(t, os.IsNotExist(statErr))

	// The failure callback still goes out after the job context died.
	assert.Equal(t, "failed", recorder.lastStatus())
	assert.Contains(t, recorder.messages[len(recorder.messages)-1], "CANCELED")
}

func TestRunRestoreCorruptArchiveNeverReachesEngine(t *testing.T) {
	recorder := &statusRecorder{}
	ts := httptest.NewServer(recorder.handler())
	defer ts.Close()

	// A valid gzip stream with the trailer chopped off, as a partial upload
	// would leave behind.
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("SELECT 1;\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	data := buf.Bytes()

	adapter := &fakeAdapter{kind: "mysql", shape: artifact.ShapeFile}
	store := newFakeStore()
	store.objects["prod/appdb.sql.gz"] = data[:len(data)-8]

	cfg := testJobConfig(ts.URL)
	cfg.ObjectKey = "prod/appdb.sql.gz"
	p := newTestPipeline(t, cfg, adapter, store)

	err = p.RunRestore(context.Background())
	require.Error(t, err)
	assert.Equal(t, joberr.KindArchiveCorrupt, joberr.KindOf(err))
	assert.Equal(t, StateFailed, p.State())

	// The engine tool must never have been invoked with a bad archive.
	assert.Empty(t, adapter.restoredPaths)

	_, statErr := os.Stat(p.workRoot)
	assert.True(t, os.IsNotExist(statErr))

	assert.Equal(t, "failed", recorder.lastStatus())
	assert.Contains(t, recorder.messages[len(recorder.messages)-1], "ARCHIVE_CORRUPT")
}

func TestRunRestoreWithoutObjectKeyFails(t *testing.T) {
	adapter := &fakeAdapter{kind: "mysql", shape: artifact.ShapeFile}
	p := newTestPipeline(t, testJobConfig(""), adapter, newFakeStore())

	err := p.RunRestore(context.Background())
	require.Error(t, err)
	assert.Equal(t, joberr.KindConfigInvalid, joberr.KindOf(err))
}

func TestRunRestoreDownloadFailure(t *testing.T) {
	adapter := &fakeAdapter{kind: "mysql", shape: artifact.ShapeFile}
	store := newFakeStore()
	cfg := testJobConfig("")
	cfg.ObjectKey = "missing/archive.sql.gz"
	p := newTestPipeline(t, cfg, adapter, store)

	err := p.RunRestore(context.Background())
	require.Error(t, err)
	assert.Equal(t, joberr.KindDownloadFailed, joberr.KindOf(err))
	assert.Equal(t, StateFailed, p.State())
}

func TestStateMachineRejectsSkippedStages(t *testing.T) {
	assert.True(t, canTransition(StateInitialized, StateDumping))
	assert.True(t, canTransition(StateDumping, StateFailed))
	assert.False(t, canTransition(StateDumping, StateUploading))
	assert.False(t, canTransition(StateCompleted, StateFailed))
	assert.False(t, canTransition(StateFailed, StateFailed))
	assert.True(t, canTransition(StateInitialized, StateDownloading))
	assert.False(t, canTransition(StateDownloading, StateRestoring))
}
