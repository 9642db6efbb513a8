package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"db-backup-runner/internal/artifact"
	"db-backup-runner/internal/config"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
)

func init() {
	Register("mysql", newMySQLAdapter)
	Register("mariadb", newMySQLAdapter)
}

// mysqlAdapter dumps with mysqldump and restores by streaming the dump file
// into the mysql client. A driver-level ping runs before the dump so an
// unreachable server fails fast with a clear error instead of a tool
// stderr blob.
type mysqlAdapter struct {
	run    *commandRunner
	log    *logging.Logger
	openDB func(dsn string) (*sql.DB, error)
}

func newMySQLAdapter(log *logging.Logger) Adapter {
	return &mysqlAdapter{
		run: newCommandRunner(log),
		log: log,
		openDB: func(dsn string) (*sql.DB, error) {
			return sql.Open("mysql", dsn)
		},
	}
}

func (m *mysqlAdapter) Kind() string { return "mysql" }
func (m *mysqlAdapter) Shape() artifact.Shape { return artifact.ShapeFile }
func (m *mysqlAdapter) RestoreSemantics() RestoreSemantics { return RestoreReplace }

func (m *mysqlAdapter) Dump(ctx context.Context, conn *config.ConnectionConfig, destDir string) (*artifact.Artifact, error) {
	if err := m.preflight(ctx, conn); err != nil {
		return nil, err
	}

	outPath := filepath.Join(destDir, conn.Database+".sql")
	out, err := os.Create(outPath)
	if err != nil {
		return nil, joberr.DumpFailed("failed to create dump file", err)
	}
	defer out.Close()

	stderr, err := m.run.run(ctx, commandSpec{
		Name: "mysqldump",
		Args: []string{
			"--host=" + conn.Host,
			"--port=" + strconv.Itoa(conn.Port),
			"--user=" + conn.Username,
			"--single-transaction",
			"--routines",
			"--triggers",
			conn.Database,
		},
		Env:    []string{"MYSQL_PWD=" + conn.Password},
		Stdout: out,
	})
	if err != nil {
		os.Remove(outPath)
		return nil, dumpError(ctx, "mysqldump", stderr, err)
	}
	if err := out.Close(); err != nil {
		return nil, joberr.DumpFailed("failed to flush dump file", err)
	}

	return &artifact.Artifact{Path: outPath, Shape: artifact.ShapeFile, Stage: artifact.StageDump}, nil
}

func (m *mysqlAdapter) Restore(ctx context.Context, conn *config.ConnectionConfig, a *artifact.Artifact) error {
	in, err := os.Open(a.Path)
	if err != nil {
		return joberr.RestoreFailed("failed to open dump file", err)
	}
	defer in.Close()

	stderr, err := m.run.run(ctx, commandSpec{
		Name: "mysql",
		Args: []string{
			"--host=" + conn.Host,
			"--port=" + strconv.Itoa(conn.Port),
			"--user=" + conn.Username,
			conn.Database,
		},
		Env:   []string{"MYSQL_PWD=" + conn.Password},
		Stdin: in,
	})
	if err != nil {
		return restoreError(ctx, "mysql", stderr, err)
	}
	return nil
}

// preflight verifies the server is reachable with the job credentials.
func (m *mysqlAdapter) preflight(ctx context.Context, conn *config.ConnectionConfig) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=10s",
		conn.Username, conn.Password, conn.Host, conn.Port, conn.Database)

	db, err := m.openDB(dsn)
	if err != nil {
		return joberr.DumpFailed("failed to initialize mysql connection", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return joberr.DumpFailed(
			fmt.Sprintf("mysql server %s:%d is not reachable", conn.Host, conn.Port), err)
	}
	return nil
}
