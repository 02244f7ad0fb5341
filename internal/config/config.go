// Package config loads the YAML configuration shared by infoset-drain and
// infoset-agent.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/infoset/config"
)

// Config represents the complete infoset configuration.
type Config struct {
	// Spool configures the input and quarantine directories.
	Spool SpoolConfig `yaml:"spool"`

	// Drain configures sweep behaviour.
	Drain DrainConfig `yaml:"drain"`

	// Store configures the backing database.
	Store StoreConfig `yaml:"store"`

	// Archive configures the per-sweep Parquet archive.
	Archive ArchiveConfig `yaml:"archive"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures the global logger.
	Logging LoggingConfig `yaml:"logging"`

	// Agent configures the SNMP collector.
	Agent AgentConfig `yaml:"agent"`
}

// SpoolConfig configures the spool directories.
type SpoolConfig struct {
	// Dir is where agents drop snapshot files.
	Dir string `yaml:"dir"`

	// QuarantineDir receives structurally invalid files.
	QuarantineDir string `yaml:"quarantine_dir"`

	// Quiescence is the minimum file age before a file is read.
	Quiescence time.Duration `yaml:"quiescence"`
}

// DrainConfig configures sweep behaviour.
type DrainConfig struct {
	// Workers is the number of concurrent drain workers.
	Workers int `yaml:"workers"`

	// Interval is the pause between sweeps in periodic mode.
	Interval time.Duration `yaml:"interval"`

	// MaxClockSkew bounds how far in the future a snapshot may be stamped.
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`
}

// StoreConfig configures the backing database.
type StoreConfig struct {
	// Driver is one of: duckdb, sqlite, postgres, memory.
	Driver string `yaml:"driver"`

	// DSN is the driver-specific data source name.
	DSN string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// QueryTimeout bounds a single store operation.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// ArchiveConfig configures the Parquet archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`

	// Compression is one of: zstd, snappy, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// Retention is how long archive files are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the HTTP listen address. Empty disables the endpoint.
	Listen string `yaml:"listen"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches to JSON output.
	JSON bool `yaml:"json"`
}

// AgentConfig configures the SNMP collector.
type AgentConfig struct {
	// SpoolDir is where snapshots are written. Defaults to spool.dir.
	SpoolDir string `yaml:"spool_dir"`

	// Name is written into the "agent" field of every snapshot.
	Name string `yaml:"name"`

	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
	Interval time.Duration `yaml:"interval"`

	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one polled device.
type DeviceConfig struct {
	Hostname string `yaml:"hostname"`
	Port     uint16 `yaml:"port"`

	// v2c
	Community string `yaml:"community"`

	// v3
	SecurityName  string `yaml:"security_name"`
	SecurityLevel string `yaml:"security_level"`
	AuthProtocol  string `yaml:"auth_protocol"`
	AuthPassword  string `yaml:"auth_password"`
	PrivProtocol  string `yaml:"priv_protocol"`
	PrivPassword  string `yaml:"priv_password"`
	ContextName   string `yaml:"context_name"`

	Tables []TableConfig `yaml:"tables"`
}

// TableConfig maps one SNMP table column to a snapshot series.
type TableConfig struct {
	// Label is the series label inside the snapshot group.
	Label string `yaml:"label"`

	// OID is the column walked for values.
	OID string `yaml:"oid"`

	// SourceOID is an optional column walked for per-row source names.
	SourceOID string `yaml:"source_oid"`

	// BaseType is one of: floating, counter32, counter64. Empty means unknown.
	BaseType string `yaml:"base_type"`

	Description string `yaml:"description"`

	// Chartable places the series under "chartable" instead of "other".
	Chartable bool `yaml:"chartable"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.Agent.SpoolDir == "" {
		cfg.Agent.SpoolDir = cfg.Spool.Dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Spool: SpoolConfig{
			Dir:           defaults.DefaultSpoolDir,
			QuarantineDir: defaults.DefaultQuarantineDir,
			Quiescence:    defaults.DefaultQuiescence,
		},
		Drain: DrainConfig{
			Workers:      defaults.DefaultDrainWorkers,
			Interval:     defaults.DefaultDrainInterval,
			MaxClockSkew: defaults.DefaultMaxClockSkew,
		},
		Store: StoreConfig{
			Driver:          defaults.DefaultStoreDriver,
			DSN:             defaults.DefaultStoreDSN,
			MaxOpenConns:    defaults.DefaultStoreMaxOpenConns,
			MaxIdleConns:    defaults.DefaultStoreMaxIdleConns,
			ConnMaxLifetime: defaults.DefaultStoreConnMaxLifetime,
			QueryTimeout:    defaults.DefaultStoreQueryTimeout,
		},
		Archive: ArchiveConfig{
			Enabled:     false,
			Dir:         defaults.DefaultArchiveDir,
			Compression: defaults.DefaultArchiveCompression,
		},
		Metrics: MetricsConfig{
			Namespace: defaults.DefaultMetricsNamespace,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Agent: AgentConfig{
			Name:     defaults.DefaultAgentName,
			Timeout:  defaults.DefaultSNMPTimeout,
			Retries:  defaults.DefaultSNMPRetries,
			Interval: defaults.DefaultAgentInterval,
		},
	}
}
