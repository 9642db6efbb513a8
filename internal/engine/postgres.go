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
	Register("postgresql", newPostgresAdapter)
	Register("postgres", newPostgresAdapter)
}

// postgresAdapter dumps in pg_dump custom format and restores with
// pg_restore --clean, dropping and recreating objects in the target.
type postgresAdapter struct {
	run *commandRunner
}

func newPostgresAdapter(log *logging.Logger) Adapter {
	return &postgresAdapter{run: newCommandRunner(log)}
}

func (p *postgresAdapter) Kind() string { return "postgresql" }
func (p *postgresAdapter) Shape() artifact.Shape { return artifact.ShapeFile }
func (p *postgresAdapter) RestoreSemantics() RestoreSemantics { return RestoreReplace }

func (p *postgresAdapter) Dump(ctx context.Context, conn *config.ConnectionConfig, destDir string) (*artifact.Artifact, error) {
	outPath := filepath.Join(destDir, conn.Database+".dump")

	stderr, err := p.run.run(ctx, commandSpec{
		Name: "pg_dump",
		Args: []string{
			"--host=" + conn.Host,
			"--port=" + strconv.Itoa(conn.Port),
			"--username=" + conn.Username,
			"--format=custom",
			"--file=" + outPath,
			conn.Database,
		},
		Env: []string{"PGPASSWORD=" + conn.Password},
	})
	if err != nil {
		os.Remove(outPath)
		return nil, dumpError(ctx, "pg_dump", stderr, err)
	}

	if _, err := os.Stat(outPath); err != nil {
		return nil, joberr.DumpFailed("pg_dump reported success but produced no file", err)
	}
	return &artifact.Artifact{Path: outPath, Shape: artifact.ShapeFile, Stage: artifact.StageDump}, nil
}

func (p *postgresAdapter) Restore(ctx context.Context, conn *config.ConnectionConfig, a *artifact.Artifact) error {
	stderr, err := p.run.run(ctx, commandSpec{
		Name: "pg_restore",
		Args: []string{
			"--host=" + conn.Host,
			"--port=" + strconv.Itoa(conn.Port),
			"--username=" + conn.Username,
			"--dbname=" + conn.Database,
			"--clean",
			"--if-exists",
			"--no-owner",
			a.Path,
		},
		Env: []string{"PGPASSWORD=" + conn.Password},
	})
	if err != nil {
		return restoreError(ctx, "pg_restore", stderr, err)
	}
	return nil
}
