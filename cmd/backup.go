package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"db-backup-runner/internal/pipeline"
)

// pipelineNew is swappable in tests.
var pipelineNew = pipeline.New

// backupCmd runs the backup pipeline once and exits.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Dump the configured database and upload the archive",
	Long: `Run one backup job: dump the database configured through DB_* environment
variables, compress the dump, upload it to the configured bucket, verify the
uploaded object, and report the result to the callback endpoint.

The remote object key is BACKUP_PATH when set, otherwise <job-id>/<archive>.

Examples:
  # Scheduler invocation (configuration entirely from the environment)
  db-backup-runner backup

  # Local run against MinIO with verbose logging
  JOB_ID=manual-1 DB_ENGINE=mysql DB_HOST=127.0.0.1 DB_NAME=appdb \
  DB_USERNAME=root DB_PASSWORD=secret STORAGE_ENDPOINT=http://127.0.0.1:9000 \
  STORAGE_BUCKET=backups STORAGE_ACCESS_KEY_ID=minioadmin \
  STORAGE_SECRET_ACCESS_KEY=minioadmin CALLBACK_URL=http://127.0.0.1:8080/cb \
  CALLBACK_SECRET=dev db-backup-runner backup --verbose`,
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	cfg, err := loadJobConfig()
	if err != nil {
		return err
	}
	if redacted, err := cfg.Redacted(); err == nil {
		log.Debug("Effective configuration:\n" + redacted)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := pipelineNew(ctx, cfg, log)
	if err != nil {
		return err
	}

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}

	printBackupSummary(result)
	return nil
}
