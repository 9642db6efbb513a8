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
	Register("redis", newRedisAdapter)
}

// redisAdapter snapshots the keyspace with redis-cli --rdb. Loading an RDB
// file back requires replacing the server's data file on its own host, which
// this runner cannot reach, so Restore is not offered.
type redisAdapter struct {
	run *commandRunner
}

func newRedisAdapter(log *logging.Logger) Adapter {
	return &redisAdapter{run: newCommandRunner(log)}
}

func (r *redisAdapter) Kind() string { return "redis" }
func (r *redisAdapter) Shape() artifact.Shape { return artifact.ShapeFile }
func (r *redisAdapter) RestoreSemantics() RestoreSemantics { return RestoreReplace }

func (r *redisAdapter) Dump(ctx context.Context, conn *config.ConnectionConfig, destDir string) (*artifact.Artifact, error) {
	outPath := filepath.Join(destDir, "dump.rdb")
	args := []string{
		"-h", conn.Host,
		"-p", strconv.Itoa(conn.Port),
		"--rdb", outPath,
	}

	var env []string
	if conn.Password != "" {
		env = append(env, "REDISCLI_AUTH="+conn.Password)
	}

	stderr, err := r.run.run(ctx, commandSpec{Name: "redis-cli", Args: args, Env: env})
	if err != nil {
		os.Remove(outPath)
		return nil, dumpError(ctx, "redis-cli", stderr, err)
	}

	if _, err := os.Stat(outPath); err != nil {
		return nil, joberr.DumpFailed("redis-cli reported success but produced no RDB file", err)
	}
	return &artifact.Artifact{Path: outPath, Shape: artifact.ShapeFile, Stage: artifact.StageDump}, nil
}

func (r *redisAdapter) Restore(ctx context.Context, _ *config.ConnectionConfig, _ *artifact.Artifact) error {
	return joberr.NotImplemented("redis restore requires filesystem access to the server data directory")
}
