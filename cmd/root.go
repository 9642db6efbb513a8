package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"db-backup-runner/internal/config"
	"db-backup-runner/internal/joberr"
	"db-backup-runner/internal/logging"
	"db-backup-runner/internal/pipeline"
)

var cfgFile string

// CLI flag variables
var (
	verbose   bool
	quiet     bool
	debugMode bool
	logFile   string
	logFormat string
	noColor   bool
)

// Version information (set via SetVersionInfo from build flags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
// The scheduler runs the container with OPERATION_TYPE=backup|restore and no
// arguments, so the bare invocation dispatches on that variable.
var rootCmd = &cobra.Command{
	Use:   "db-backup-runner",
	Short: "Run a database backup or restore job against object storage",
	Long: `db-backup-runner executes one backup or restore job: it dumps the
configured database with the engine's native tooling, compresses the dump,
uploads it to S3-compatible (or GCS/Azure) object storage, verifies the
upload, and reports the outcome to the scheduler's callback endpoint.

All job parameters come from environment variables set by the scheduler
(JOB_ID, DB_ENGINE, DB_HOST, STORAGE_BUCKET, CALLBACK_URL, ...). Flags only
control logging and interactive behavior.

Examples:
  # Run the operation selected by OPERATION_TYPE (default: backup)
  db-backup-runner

  # Run a backup explicitly, with verbose logging
  db-backup-runner backup --verbose

  # Restore non-interactively (required when no TTY is attached)
  db-backup-runner restore --yes

  # Log as JSON to a file
  db-backup-runner backup --log-format=json --log-file=/var/log/job.log`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		op := strings.ToLower(strings.TrimSpace(os.Getenv("OPERATION_TYPE")))
		switch op {
		case "", "backup":
			return runBackup(cmd, args)
		case "restore":
			return runRestore(cmd, args)
		default:
			return joberr.ConfigInvalid(fmt.Sprintf("unknown OPERATION_TYPE %q (want backup or restore)", op), nil)
		}
	},
}

// Execute runs the CLI. Exit code 0 is reserved for jobs that reached the
// Completed state; every failure exits 1 after the error is printed.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.db-backup-runner.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to the given file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")

	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(createVersionCommand())
}

// initConfig reads in the optional config file. Environment variables remain
// the primary configuration source; the file only supplies overrides for
// local runs.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".db-backup-runner")
		}
	}

	// Missing config file is fine; a malformed one is not.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "failed to read config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// newLogger builds the job logger from the logging flags.
func newLogger() (*logging.Logger, error) {
	level := logging.LogLevelNormal
	switch {
	case debugMode:
		level = logging.LogLevelDebug
	case verbose:
		level = logging.LogLevelVerbose
	case quiet:
		level = logging.LogLevelQuiet
	}

	return logging.NewLogger(logging.Config{
		Level:   level,
		Format:  logFormat,
		LogFile: logFile,
	})
}

// loadJobConfig loads and validates the full job configuration.
func loadJobConfig() (*config.JobConfig, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// useColor reports whether human-facing summary output should be colorized.
func useColor() bool {
	if noColor {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func printBackupSummary(result *pipeline.Result) {
	if quiet {
		return
	}
	color.NoColor = !useColor()

	green := color.New(color.FgGreen, color.Bold)
	green.Println("✔ Backup completed")
	fmt.Printf("  Job:      %s\n", result.JobID)
	fmt.Printf("  Engine:   %s\n", result.Engine)
	fmt.Printf("  Object:   s3://%s/%s\n", result.Bucket, result.ObjectKey)
	fmt.Printf("  Size:     %d bytes\n", result.SizeBytes)
	fmt.Printf("  Checksum: %s\n", result.Checksum)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
}

func printError(err error) {
	color.NoColor = !useColor()
	red := color.New(color.FgRed, color.Bold)

	if kind := joberr.KindOf(err); kind != "" {
		red.Fprintf(os.Stderr, "✘ %s\n", kind)
		fmt.Fprintf(os.Stderr, "  %v\n", err)
		return
	}
	red.Fprintln(os.Stderr, "✘ Error")
	fmt.Fprintf(os.Stderr, "  %v\n", err)
}

// SetVersionInfo sets the version information from build flags.
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("db-backup-runner version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go: %s\n", goVersion)
		},
	}
}
