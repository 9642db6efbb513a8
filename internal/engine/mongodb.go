package engine

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"db-backup-runner/internal/artifact"
	"db-backup-runner/internal/config"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
)

func init() {
	Register("mongodb", newMongoAdapter)
	Register("mongo", newMongoAdapter)
}

// mongoAdapter dumps with mongodump, which writes a directory tree of BSON
// collections plus metadata. The archive stage tars that tree. Restore runs
// mongorestore without --drop, so restored documents merge into whatever the
// target already holds.
type mongoAdapter struct {
	run *commandRunner
}

func newMongoAdapter(log *logging.Logger) Adapter {
	return &mongoAdapter{run: newCommandRunner(log)}
}

func (m *mongoAdapter) Kind() string { return "mongodb" }
func (m *mongoAdapter) Shape() artifact.Shape { return artifact.ShapeDir }
func (m *mongoAdapter) RestoreSemantics() RestoreSemantics { return RestoreMerge }

func (m *mongoAdapter) Dump(ctx context.Context, conn *config.ConnectionConfig, destDir string) (*artifact.Artifact, error) {
	outDir := filepath.Join(destDir, conn.Database)
	args := []string{
		"--host=" + conn.Host,
		"--port=" + strconv.Itoa(conn.Port),
		"--db=" + conn.Database,
		"--out=" + destDir,
	}
	if conn.Username != "" {
		args = append(args,
			"--username="+conn.Username,
			"--password="+conn.Password,
			"--authenticationDatabase=admin")
	}

	stderr, err := m.run.run(ctx, commandSpec{Name: "mongodump", Args: args})
	if err != nil {
		os.RemoveAll(outDir)
		return nil, dumpError(ctx, "mongodump", stderr, err)
	}

	if _, err := os.Stat(outDir); err != nil {
		return nil, joberr.DumpFailed("mongodump reported success but produced no output directory", err)
	}
	return &artifact.Artifact{Path: outDir, Shape: artifact.ShapeDir, Stage: artifact.StageDump}, nil
}

func (m *mongoAdapter) Restore(ctx context.Context, conn *config.ConnectionConfig, a *artifact.Artifact) error {
	args := []string{
		"--host=" + conn.Host,
		"--port=" + strconv.Itoa(conn.Port),
		"--db=" + conn.Database,
		"--dir=" + a.Path,
	}
	if conn.Username != "" {
		args = append(args,
			"--username="+conn.Username,
			"--password="+conn.Password,
			"--authenticationDatabase=admin")
	}

	stderr, err := m.run.run(ctx, commandSpec{Name: "mongorestore", Args: args})
	if err != nil {
		return restoreError(ctx, "mongorestore", stderr, err)
	}
	return nil
}
