// Package config provides configuration management for the sync engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Endpoint selects whether a store is reached locally or through the SSH tunnel.
const (
	EndpointLocal  = "local"
	EndpointRemote = "remote"
)

// Config represents the full sync engine configuration.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Target    TargetConfig    `yaml:"target"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Transfer  TransferConfig  `yaml:"transfer"`
	Import    ImportConfig    `yaml:"import"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SourceConfig represents MongoDB connection configuration.
type SourceConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
	// Timeout applies per source operation, in seconds.
	Timeout int `yaml:"timeout"`
}

// TargetConfig represents PostgreSQL connection configuration.
type TargetConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// DSN returns the lib/pq connection string.
func (c TargetConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, c.SSLMode,
	)
}

// AnalyticsConfig represents the MariaDB coordinates of the Matomo instance.
type AnalyticsConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Endpoint is local or remote, independent of the document source.
	Endpoint string `yaml:"endpoint"`
}

// DSN returns the go-sql-driver/mysql connection string.
func (c AnalyticsConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// TransferConfig selects local or tunneled endpoints for both stores.
type TransferConfig struct {
	Source      string       `yaml:"source"`      // local, remote
	Destination string       `yaml:"destination"` // local, remote
	Remote      RemoteConfig `yaml:"remote"`
}

// RemoteConfig holds the SSH server and the remote database coordinates
// used when a transfer endpoint is remote.
type RemoteConfig struct {
	ServerURL      string `yaml:"server_url"`
	ServerUser     string `yaml:"server_user"`
	ServerPassword string `yaml:"server_password"`

	MongoURL      string `yaml:"mongo_url"`
	MongoDatabase string `yaml:"mongo_database"`

	PostgresDatabase string `yaml:"postgres_database"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresPort     int    `yaml:"postgres_port"`
}

// ImportConfig holds run-wide import behavior.
type ImportConfig struct {
	BatchSize int `yaml:"batch_size"`
	// ByBatch selects multi-row batches with savepoint fallback (true)
	// or one statement per row (false).
	ByBatch bool `yaml:"by_batch"`
	// Direct executes against the live connection (true) or appends to
	// per-table SQL export files (false).
	Direct bool `yaml:"direct"`
	// GlobalDateThreshold optionally widens every table's sync window
	// backward. ISO-8601 date; empty means disabled.
	GlobalDateThreshold string `yaml:"global_date_threshold"`
	SQLExportDir        string `yaml:"sql_export_dir"`
	SchemaFile          string `yaml:"schema_file"`
	MatomoSchemaFile    string `yaml:"matomo_schema_file"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
	// File enables rotating file output when set.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			URL:      "mongodb://localhost:27017",
			Database: "smartdiet",
			Timeout:  30,
		},
		Target: TargetConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "smartdiet",
			User:            "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 300,
		},
		Analytics: AnalyticsConfig{
			Host:     "localhost",
			Port:     3306,
			Database: "matomo",
			User:     "matomo",
			Endpoint: EndpointLocal,
		},
		Transfer: TransferConfig{
			Source:      EndpointLocal,
			Destination: EndpointLocal,
			Remote: RemoteConfig{
				PostgresPort: 5432,
			},
		},
		Import: ImportConfig{
			BatchSize:        5000,
			ByBatch:          true,
			Direct:           true,
			SQLExportDir:     "sql_exports",
			SchemaFile:       "config/schemas.yaml",
			MatomoSchemaFile: "config/matomo_schemas.yaml",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from a YAML file and environment variables.
// Environment variables override file configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SOURCE_URL"); v != "" {
		c.Source.URL = v
	}
	if v := os.Getenv("SOURCE_DATABASE"); v != "" {
		c.Source.Database = v
	}

	if v := os.Getenv("TARGET_HOST"); v != "" {
		c.Target.Host = v
	}
	if v := os.Getenv("TARGET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Target.Port = port
		}
	}
	if v := os.Getenv("TARGET_DATABASE"); v != "" {
		c.Target.Database = v
	}
	if v := os.Getenv("TARGET_USER"); v != "" {
		c.Target.User = v
	}
	if v := os.Getenv("TARGET_PASSWORD"); v != "" {
		c.Target.Password = v
	}

	if v := os.Getenv("TRANSFER_SOURCE"); v != "" {
		c.Transfer.Source = strings.ToLower(v)
	}
	if v := os.Getenv("TRANSFER_DESTINATION"); v != "" {
		c.Transfer.Destination = strings.ToLower(v)
	}

	if v := os.Getenv("REMOTE_SERVER_URL"); v != "" {
		c.Transfer.Remote.ServerURL = v
	}
	if v := os.Getenv("REMOTE_SERVER_USER"); v != "" {
		c.Transfer.Remote.ServerUser = v
	}
	if v := os.Getenv("REMOTE_SERVER_PASSWORD"); v != "" {
		c.Transfer.Remote.ServerPassword = v
	}
	if v := os.Getenv("REMOTE_MONGODB_URL"); v != "" {
		c.Transfer.Remote.MongoURL = v
	}
	if v := os.Getenv("REMOTE_MONGODB_DATABASE"); v != "" {
		c.Transfer.Remote.MongoDatabase = v
	}
	if v := os.Getenv("REMOTE_POSTGRES_DATABASE"); v != "" {
		c.Transfer.Remote.PostgresDatabase = v
	}
	if v := os.Getenv("REMOTE_POSTGRES_USER"); v != "" {
		c.Transfer.Remote.PostgresUser = v
	}
	if v := os.Getenv("REMOTE_POSTGRES_PASSWORD"); v != "" {
		c.Transfer.Remote.PostgresPassword = v
	}
	if v := os.Getenv("REMOTE_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Transfer.Remote.PostgresPort = port
		}
	}

	if v := os.Getenv("MATOMO_HOST"); v != "" {
		c.Analytics.Host = v
	}
	if v := os.Getenv("MATOMO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Analytics.Port = port
		}
	}
	if v := os.Getenv("MATOMO_DATABASE"); v != "" {
		c.Analytics.Database = v
	}
	if v := os.Getenv("MATOMO_USER"); v != "" {
		c.Analytics.User = v
	}
	if v := os.Getenv("MATOMO_PASSWORD"); v != "" {
		c.Analytics.Password = v
	}
	if v := os.Getenv("MATOMO_SOURCE"); v != "" {
		c.Analytics.Endpoint = strings.ToLower(v)
	}

	if v := os.Getenv("GLOBAL_DATE_THRESHOLD"); v != "" {
		c.Import.GlobalDateThreshold = v
	}
	if v := os.Getenv("IMPORT_BY_BATCH"); v != "" {
		c.Import.ByBatch = parseBool(v)
	}
	if v := os.Getenv("DIRECT_IMPORT"); v != "" {
		c.Import.Direct = parseBool(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Source.URL == "" {
		return fmt.Errorf("source URL is required")
	}
	if c.Source.Database == "" {
		return fmt.Errorf("source database is required")
	}
	if c.Target.Port < 1 || c.Target.Port > 65535 {
		return fmt.Errorf("invalid target port: %d", c.Target.Port)
	}
	if c.Import.BatchSize < 1 {
		return fmt.Errorf("invalid batch size: %d", c.Import.BatchSize)
	}

	validEndpoints := map[string]bool{EndpointLocal: true, EndpointRemote: true}
	if !validEndpoints[c.Transfer.Source] {
		return fmt.Errorf("invalid transfer source: %s", c.Transfer.Source)
	}
	if !validEndpoints[c.Transfer.Destination] {
		return fmt.Errorf("invalid transfer destination: %s", c.Transfer.Destination)
	}

	if c.Transfer.Source == EndpointRemote || c.Transfer.Destination == EndpointRemote {
		if c.Transfer.Remote.ServerURL == "" {
			return fmt.Errorf("remote server URL is required for remote transfer")
		}
		if c.Transfer.Remote.ServerUser == "" {
			return fmt.Errorf("remote server user is required for remote transfer")
		}
	}

	return nil
}

// GlobalThreshold parses the configured global date threshold. An unset
// value yields a zero time; an invalid value is reported so the caller can
// warn and ignore it.
func (c *Config) GlobalThreshold() (time.Time, error) {
	if strings.TrimSpace(c.Import.GlobalDateThreshold) == "" {
		return time.Time{}, nil
	}
	return ParseDateThreshold(c.Import.GlobalDateThreshold)
}

// ParseDateThreshold parses an ISO-8601 date (YYYY-MM-DD) at midnight UTC.
func ParseDateThreshold(v string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date threshold %q: %w", v, err)
	}
	return t, nil
}

// Secrets returns every configured credential that must never appear in
// log output. Empty values are omitted.
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{
		c.Target.Password,
		c.Analytics.Password,
		c.Transfer.Remote.ServerPassword,
		c.Transfer.Remote.PostgresPassword,
	} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
