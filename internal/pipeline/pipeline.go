// Package pipeline orchestrates one backup or restore job from start to
// finish: dump, archive, upload, verify, report for backups; download,
// extract, load for restores. The pipeline owns every temporary artifact it
// creates and removes all of them on every exit path, success or failure.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"db-backup-runner/internal/archive"
	"db-backup-runner/internal/artifact"
	"db-backup-runner/internal/callback"
	"db-backup-runner/internal/config"
	"db-backup-runner/internal/engine"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
	"db-backup-runner/internal/storage"
)

// Result summarizes a completed backup for the CLI and the metadata
// callback.
type Result struct {
	JobID     string        `json:"job_id"`
	ObjectKey string        `json:"object_key"`
	Bucket    string        `json:"bucket"`
	SizeBytes int64         `json:"size_bytes"`
	Checksum  string        `json:"checksum"`
	Engine    string        `json:"engine"`
	Duration  time.Duration `json:"duration"`
}

// Pipeline runs one job. It is single-use: construct, Run or RunRestore
// once, discard.
type Pipeline struct {
	cfg      *config.JobConfig
	log      *logging.Logger
	adapter  engine.Adapter
	store    storage.ObjectStore
	archiver *archive.Archiver
	reporter *callback.Reporter

	state     State
	workRoot  string
	artifacts []*artifact.Artifact
}

// New wires a pipeline from configuration: engine adapter, storage backend,
// archiver, and callback reporter.
func New(ctx context.Context, cfg *config.JobConfig, log *logging.Logger) (*Pipeline, error) {
	if log == nil {
		log = logging.NewDefaultLogger()
	}

	adapter, err := engine.New(cfg.Connection.Engine, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewObjectStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	archiver, err := archive.New(cfg.Compression, cfg.EncryptionKey, log)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		log:      log,
		adapter:  adapter,
		store:    store,
		archiver: archiver,
		reporter: callback.New(cfg.CallbackURL, cfg.CallbackSecret, cfg.JobID, log),
		state:    StateInitialized,
	}, nil
}

// State returns the pipeline's current state.
func (p *Pipeline) State() State { return p.state }

// Run executes the backup flow. The returned error carries a joberr kind
// describing the failing stage; temporary artifacts are removed regardless.
func (p *Pipeline) Run(ctx context.Context) (result *Result, err error) {
	start := time.Now()
	jobLog := p.log.ForJob(p.cfg.JobID)

	if err := p.prepareWorkRoot(); err != nil {
		return nil, p.fail(ctx, err)
	}
	defer p.cleanup()

	p.notify(ctx, callback.StatusRunning, "backup started")

	// Dump
	if err := p.transition(StateDumping); err != nil {
		return nil, p.fail(ctx, err)
	}
	dumpCtx, cancel := context.WithTimeout(ctx, p.cfg.DumpTimeout)
	dump, err := p.adapter.Dump(dumpCtx, &p.cfg.Connection, p.workRoot)
	cancel()
	if err != nil {
		return nil, p.fail(ctx, err)
	}
	p.track(dump)

	// Archive
	if err := p.transition(StateArchiving); err != nil {
		return nil, p.fail(ctx, err)
	}
	arch, err := p.archiver.Compress(ctx, dump, p.workRoot)
	if err != nil {
		return nil, p.fail(ctx, err)
	}
	p.track(arch)

	archSize, err := arch.Size()
	if err != nil {
		return nil, p.fail(ctx, joberr.ArchiveCorrupt("failed to stat archive", err))
	}
	checksum, err := fileChecksum(arch.Path)
	if err != nil {
		return nil, p.fail(ctx, joberr.ArchiveCorrupt("failed to checksum archive", err))
	}

	// Upload
	if err := p.transition(StateUploading); err != nil {
		return nil, p.fail(ctx, err)
	}
	if err := p.store.EnsureBucket(ctx); err != nil {
		return nil, p.fail(ctx, err)
	}
	key := p.objectKey(arch)
	obj, err := p.store.Upload(ctx, arch.Path, key)
	if err != nil {
		return nil, p.fail(ctx, err)
	}

	// Verify
	if err := p.transition(StateVerifying); err != nil {
		return nil, p.fail(ctx, err)
	}
	if err := p.verify(ctx, obj, archSize); err != nil {
		return nil, p.fail(ctx, err)
	}

	// Report
	if err := p.transition(StateReporting); err != nil {
		return nil, p.fail(ctx, err)
	}
	result = &Result{
		JobID:     p.cfg.JobID,
		ObjectKey: obj.Key,
		Bucket:    obj.Bucket,
		SizeBytes: archSize,
		Checksum:  checksum,
		Engine:    p.adapter.Kind(),
		Duration:  time.Since(start),
	}
	p.reportMetadata(ctx, result, obj)
	p.notify(ctx, callback.StatusCompleted, "backup uploaded and verified")

	if err := p.transition(StateCompleted); err != nil {
		return nil, p.fail(ctx, err)
	}
	jobLog.WithField("duration", result.Duration.String()).Info("Backup completed")
	return result, nil
}

// RunRestore executes the restore flow: download the archive, extract it,
// and load it with the engine adapter.
func (p *Pipeline) RunRestore(ctx context.Context) (err error) {
	jobLog := p.log.ForJob(p.cfg.JobID)

	if err := p.prepareWorkRoot(); err != nil {
		return p.fail(ctx, err)
	}
	defer p.cleanup()

	p.notify(ctx, callback.StatusRunning,
		fmt.Sprintf("restore started (%s semantics)", p.adapter.RestoreSemantics()))

	// Download
	if err := p.transition(StateDownloading); err != nil {
		return p.fail(ctx, err)
	}
	key := p.cfg.ObjectKey
	if key == "" {
		return p.fail(ctx, joberr.ConfigInvalid("restore requires BACKUP_PATH to locate the archive", nil))
	}
	archPath := filepath.Join(p.workRoot, filepath.Base(key))
	if err := p.store.Download(ctx, key, archPath); err != nil {
		return p.fail(ctx, err)
	}
	arch := &artifact.Artifact{Path: archPath, Shape: artifact.ShapeFile, Stage: artifact.StageArchive}
	p.track(arch)

	// Extract
	if err := p.transition(StateExtracting); err != nil {
		return p.fail(ctx, err)
	}
	extracted, err := p.archiver.Extract(ctx, arch, p.workRoot)
	if err != nil {
		return p.fail(ctx, err)
	}
	p.track(extracted)

	// Restore
	if err := p.transition(StateRestoring); err != nil {
		return p.fail(ctx, err)
	}
	restoreCtx, cancel := context.WithTimeout(ctx, p.cfg.DumpTimeout)
	err = p.adapter.Restore(restoreCtx, &p.cfg.Connection, extracted)
	cancel()
	if err != nil {
		return p.fail(ctx, err)
	}

	// Report
	if err := p.transition(StateReporting); err != nil {
		return p.fail(ctx, err)
	}
	p.notify(ctx, callback.StatusCompleted, "restore completed")

	if err := p.transition(StateCompleted); err != nil {
		return p.fail(ctx, err)
	}
	jobLog.Info("Restore completed")
	return nil
}

// transition moves the state machine and logs the move.
func (p *Pipeline) transition(to State) error {
	if !canTransition(p.state, to) {
		return invalidTransitionError(p.state, to)
	}
	p.log.LogStateTransition(p.cfg.JobID, p.state.String(), to.String())
	p.state = to
	return nil
}

// fail moves into the Failed state, posts the failure callback, and returns
// the original error unchanged.
func (p *Pipeline) fail(ctx context.Context, cause error) error {
	if canTransition(p.state, StateFailed) {
		p.log.LogStateTransition(p.cfg.JobID, p.state.String(), StateFailed.String())
		p.state = StateFailed
	}
	p.notify(ctx, callback.StatusFailed, cause.Error())
	return cause
}

// notify posts a status callback. Callback failure never fails the job.
func (p *Pipeline) notify(ctx context.Context, status, message string) {
	// Failure callbacks still go out when the job context is already
	// canceled, so give them their own deadline.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if err := p.reporter.ReportStatus(ctx, status, message); err != nil {
		p.log.WithField("error", err.Error()).Warn("Status callback not delivered")
	}
}

func (p *Pipeline) reportMetadata(ctx context.Context, result *Result, obj *storage.StorageObject) {
	metadata := map[string]interface{}{
		"object_key": obj.Key,
		"bucket":     obj.Bucket,
		"size_bytes": result.SizeBytes,
		"checksum":   result.Checksum,
		"engine":     result.Engine,
	}
	if obj.ETag != "" {
		metadata["etag"] = obj.ETag
	}
	if p.cfg.RetentionDays > 0 {
		metadata["retention_days"] = p.cfg.RetentionDays
	}
	if err := p.reporter.ReportMetadata(ctx, metadata); err != nil {
		p.log.WithField("error", err.Error()).Warn("Metadata callback not delivered")
	}
}

// verify re-queries the uploaded object and checks it is present with the
// expected size. A backend that does not report sizes returns a negative
// size, which skips the comparison.
func (p *Pipeline) verify(ctx context.Context, obj *storage.StorageObject, wantSize int64) error {
	found, remoteSize, err := p.store.Exists(ctx, obj.Key)
	if err != nil {
		return joberr.VerificationFailed("failed to query uploaded object", err).
			WithContext("key", obj.Key)
	}
	if !found {
		return joberr.VerificationFailed("uploaded object not found in bucket", nil).
			WithContext("key", obj.Key)
	}
	if remoteSize >= 0 && remoteSize != wantSize {
		return joberr.VerificationFailed(
			fmt.Sprintf("uploaded object size %d does not match local archive size %d", remoteSize, wantSize), nil).
			WithContext("key", obj.Key)
	}
	return nil
}

// objectKey returns the remote key: the configured BACKUP_PATH when set,
// otherwise jobID/archive-name.
func (p *Pipeline) objectKey(arch *artifact.Artifact) string {
	if p.cfg.ObjectKey != "" {
		return p.cfg.ObjectKey
	}
	return p.cfg.JobID + "/" + filepath.Base(arch.Path)
}

func (p *Pipeline) prepareWorkRoot() error {
	root := filepath.Join(os.TempDir(), "dbjob-"+uuid.NewString())
	if err := os.MkdirAll(root, 0o700); err != nil {
		return joberr.ConfigInvalid("failed to create job work directory", err)
	}
	p.workRoot = root
	return nil
}

func (p *Pipeline) track(a *artifact.Artifact) {
	p.artifacts = append(p.artifacts, a)
}

// cleanup removes every tracked artifact and the work root. Best effort:
// failures are logged, never returned.
func (p *Pipeline) cleanup() {
	for _, a := range p.artifacts {
		p.log.LogCleanup(a.Path, a.Remove())
	}
	if p.workRoot != "" {
		p.log.LogCleanup(p.workRoot, os.RemoveAll(p.workRoot))
	}
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
