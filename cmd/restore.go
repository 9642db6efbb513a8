package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"db-backup-runner/internal/config"
	"db-backup-runner/internal/joberr"
)

var restoreYes bool

// restoreCmd downloads an archive and loads it into the target database.
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Download a backup archive and load it into the database",
	Long: `Run one restore job: download the archive at BACKUP_PATH from the
configured bucket, extract it, and load it into the target database with the
engine's native tooling.

Restoring overwrites or merges into live data depending on the engine, so an
interactive run asks for confirmation by database name. Non-interactive runs
(no TTY, e.g. a scheduled job) must pass --yes.

Examples:
  # Scheduler invocation
  db-backup-runner restore --yes

  # Interactive restore, confirming against the database name
  BACKUP_PATH=prod/appdb/2026-08-20.sql.gz db-backup-runner restore`,
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "skip the interactive confirmation prompt")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, _ []string) error {
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

	if err := confirmRestore(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := pipelineNew(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := p.RunRestore(ctx); err != nil {
		return err
	}

	if !quiet {
		fmt.Printf("Restore of %s into %s completed\n", cfg.ObjectKey, cfg.Connection.Database)
	}
	return nil
}

// confirmRestore gates destructive restores. On a TTY the operator must type
// the target database name; without a TTY the --yes flag is mandatory.
func confirmRestore(cfg *config.JobConfig) error {
	if restoreYes {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return joberr.ConfigInvalid("restore without a terminal requires --yes", nil)
	}

	fmt.Printf("This restore will load %s into database %q on %s.\n",
		cfg.ObjectKey, cfg.Connection.Database, cfg.Connection.Host)
	fmt.Printf("Type the database name to continue: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return joberr.ConfigInvalid("failed to read confirmation", err)
	}
	if strings.TrimSpace(line) != cfg.Connection.Database {
		return joberr.ConfigInvalid("confirmation did not match the database name", nil)
	}
	return nil
}
