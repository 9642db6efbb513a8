package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"db-backup-runner/internal/joberr"
)

// Storage backend types accepted in StorageConfig.Type.
const (
	StorageTypeS3    = "s3"
	StorageTypeMinio = "minio"
	StorageTypeGCS   = "gcs"
	StorageTypeAzure = "azure"
)

// ConnectionConfig describes the database the job dumps from or restores to.
type ConnectionConfig struct {
	Engine   string `mapstructure:"engine" yaml:"engine"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// StorageConfig describes the object storage destination.
type StorageConfig struct {
	Type            string `mapstructure:"type" yaml:"type"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Region          string `mapstructure:"region" yaml:"region"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	PathStyle       bool   `mapstructure:"path_style" yaml:"path_style"`

	// GCS and Azure deployments use these instead of the key pair above.
	GCSCredentialsPath string `mapstructure:"gcs_credentials_path" yaml:"gcs_credentials_path"`
	AzureAccountName   string `mapstructure:"azure_account_name" yaml:"azure_account_name"`
	AzureAccountKey    string `mapstructure:"azure_account_key" yaml:"azure_account_key"`
}

// JobConfig is the complete, immutable configuration for one backup or
// restore job. It is loaded once at process start and passed explicitly into
// every component; nothing reads the environment after Load returns.
type JobConfig struct {
	JobID      string           `mapstructure:"job_id" yaml:"job_id"`
	Connection ConnectionConfig `mapstructure:"connection" yaml:"connection"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`

	// ObjectKey is the remote key the compressed artifact is written to
	// (or read from in restore mode).
	ObjectKey     string `mapstructure:"object_key" yaml:"object_key"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`

	CallbackURL    string `mapstructure:"callback_url" yaml:"callback_url"`
	CallbackSecret string `mapstructure:"callback_secret" yaml:"callback_secret"`

	// EncryptionKey, when non-empty, enables artifact encryption after
	// compression.
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key"`

	// Compression selects the stream compressor (gzip, zstd, lz4).
	Compression string `mapstructure:"compression" yaml:"compression"`

	DumpTimeout    time.Duration `mapstructure:"dump_timeout" yaml:"dump_timeout"`
	NetworkTimeout time.Duration `mapstructure:"network_timeout" yaml:"network_timeout"`
}

// envBindings maps config keys to the environment variables the scheduler
// sets on the job container.
var envBindings = map[string]string{
	"job_id":                       "JOB_ID",
	"connection.engine":            "DB_ENGINE",
	"connection.host":              "DB_HOST",
	"connection.port":              "DB_PORT",
	"connection.database":          "DB_NAME",
	"connection.username":          "DB_USERNAME",
	"connection.password":          "DB_PASSWORD",
	"storage.type":                 "STORAGE_TYPE",
	"storage.endpoint":             "STORAGE_ENDPOINT",
	"storage.bucket":               "STORAGE_BUCKET",
	"storage.region":               "STORAGE_REGION",
	"storage.access_key_id":        "STORAGE_ACCESS_KEY_ID",
	"storage.secret_access_key":    "STORAGE_SECRET_ACCESS_KEY",
	"storage.path_style":           "STORAGE_PATH_STYLE",
	"storage.gcs_credentials_path": "GCS_CREDENTIALS_PATH",
	"storage.azure_account_name":   "AZURE_ACCOUNT_NAME",
	"storage.azure_account_key":    "AZURE_ACCOUNT_KEY",
	"object_key":                   "BACKUP_PATH",
	"retention_days":               "RETENTION_DAYS",
	"callback_url":                 "CALLBACK_URL",
	"callback_secret":              "CALLBACK_SECRET",
	"encryption_key":               "BACKUP_ENCRYPTION_KEY",
	"compression":                  "BACKUP_COMPRESSION",
	"dump_timeout":                 "DUMP_TIMEOUT",
	"network_timeout":              "NETWORK_TIMEOUT",
}

// Load builds a JobConfig from the supplied viper instance. The instance may
// already have a config file merged in; environment variables take effect via
// explicit bindings so the scheduler contract stays visible in one place.
func Load(v *viper.Viper) (*JobConfig, error) {
	if v == nil {
		v = viper.New()
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, joberr.ConfigInvalid(fmt.Sprintf("failed to bind %s", env), err)
		}
	}

	setDefaults(v)

	var cfg JobConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, joberr.ConfigInvalid("failed to decode job configuration", err)
	}

	cfg.Connection.Engine = strings.ToLower(strings.TrimSpace(cfg.Connection.Engine))
	cfg.Storage.Type = strings.ToLower(strings.TrimSpace(cfg.Storage.Type))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.type", StorageTypeS3)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.path_style", true)
	v.SetDefault("retention_days", 30)
	v.SetDefault("compression", "gzip")
	v.SetDefault("dump_timeout", time.Hour)
	v.SetDefault("network_timeout", 30*time.Second)
}

// defaultPorts supplies the engine's conventional port when DB_PORT is unset.
var defaultPorts = map[string]int{
	"mysql":      3306,
	"mariadb":    3306,
	"postgresql": 5432,
	"postgres":   5432,
	"mongodb":    27017,
	"mongo":      27017,
	"redis":      6379,
}

// Validate checks that every field required for the chosen engine/storage
// combination is present. Absence is a configuration error reported before
// any pipeline stage runs, never a runtime failure.
func (c *JobConfig) Validate() error {
	var missing []string

	require := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	require("JOB_ID", c.JobID)
	require("DB_ENGINE", c.Connection.Engine)
	require("DB_HOST", c.Connection.Host)
	require("DB_NAME", c.Connection.Database)
	require("BACKUP_PATH", c.ObjectKey)
	require("CALLBACK_URL", c.CallbackURL)
	require("CALLBACK_SECRET", c.CallbackSecret)
	require("STORAGE_BUCKET", c.Storage.Bucket)

	// Credential requirements follow the engine tool: mysql and postgres
	// refuse to run without a user, redis authenticates with a password
	// alone, and mongodb accepts unauthenticated deployments.
	switch c.Connection.Engine {
	case "mysql", "mariadb", "postgresql", "postgres":
		require("DB_USERNAME", c.Connection.Username)
		require("DB_PASSWORD", c.Connection.Password)
	case "redis":
		require("DB_PASSWORD", c.Connection.Password)
	}

	switch c.Storage.Type {
	case StorageTypeS3, StorageTypeMinio:
		require("STORAGE_ENDPOINT", c.Storage.Endpoint)
		require("STORAGE_ACCESS_KEY_ID", c.Storage.AccessKeyID)
		require("STORAGE_SECRET_ACCESS_KEY", c.Storage.SecretAccessKey)
	case StorageTypeGCS:
		// Credentials path is optional: ambient credentials are valid on GCP.
	case StorageTypeAzure:
		require("AZURE_ACCOUNT_NAME", c.Storage.AzureAccountName)
		require("AZURE_ACCOUNT_KEY", c.Storage.AzureAccountKey)
	default:
		return joberr.ConfigInvalid(fmt.Sprintf("unsupported storage type: %s", c.Storage.Type), nil)
	}

	if len(missing) > 0 {
		return joberr.ConfigInvalid(
			fmt.Sprintf("missing required configuration: %s", strings.Join(missing, ", ")), nil).
			WithContext("missing", missing)
	}

	if c.Connection.Port == 0 {
		if port, ok := defaultPorts[c.Connection.Engine]; ok {
			c.Connection.Port = port
		} else {
			return joberr.ConfigInvalid(fmt.Sprintf("DB_PORT is required for engine %s", c.Connection.Engine), nil)
		}
	}

	if c.DumpTimeout <= 0 {
		c.DumpTimeout = time.Hour
	}
	if c.NetworkTimeout <= 0 {
		c.NetworkTimeout = 30 * time.Second
	}

	return nil
}

// Redacted returns a YAML rendering of the configuration with every secret
// masked, suitable for verbose startup logging.
func (c *JobConfig) Redacted() (string, error) {
	clone := *c
	clone.Connection.Password = mask(clone.Connection.Password)
	clone.Storage.SecretAccessKey = mask(clone.Storage.SecretAccessKey)
	clone.Storage.AzureAccountKey = mask(clone.Storage.AzureAccountKey)
	clone.CallbackSecret = mask(clone.CallbackSecret)
	clone.EncryptionKey = mask(clone.EncryptionKey)

	out, err := yaml.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("failed to render configuration: %w", err)
	}
	return string(out), nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
