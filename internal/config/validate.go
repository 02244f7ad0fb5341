package config

import (
	"errors"
	"fmt"

	"github.com/xtxerr/infoset/internal/logging"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Spool.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("spool: %w", err))
	}

	if err := c.Drain.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("drain: %w", err))
	}

	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if err := c.Agent.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("agent: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the spool configuration.
func (c *SpoolConfig) Validate() error {
	var errs []error

	if c.Dir == "" {
		errs = append(errs, errors.New("dir is required"))
	}
	if c.QuarantineDir == "" {
		errs = append(errs, errors.New("quarantine_dir is required"))
	}
	if c.Dir != "" && c.Dir == c.QuarantineDir {
		errs = append(errs, errors.New("quarantine_dir must differ from dir"))
	}
	if c.Quiescence < 0 {
		errs = append(errs, errors.New("quiescence must not be negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the drain configuration.
func (c *DrainConfig) Validate() error {
	var errs []error

	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if c.MaxClockSkew < 0 {
		errs = append(errs, errors.New("max_clock_skew must not be negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	var errs []error

	switch c.Driver {
	case "duckdb", "sqlite", "postgres":
		if c.DSN == "" {
			errs = append(errs, errors.New("dsn is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("driver must be one of duckdb, sqlite, postgres, memory; got %q", c.Driver))
	}

	if c.MaxOpenConns < 0 {
		errs = append(errs, errors.New("max_open_conns must not be negative"))
	}
	if c.MaxIdleConns < 0 {
		errs = append(errs, errors.New("max_idle_conns must not be negative"))
	}
	if c.QueryTimeout < 0 {
		errs = append(errs, errors.New("query_timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	var errs []error

	if c.Enabled && c.Dir == "" {
		errs = append(errs, errors.New("dir is required when enabled"))
	}

	switch c.Compression {
	case "zstd", "snappy", "lz4", "gzip", "none", "":
	default:
		errs = append(errs, fmt.Errorf("invalid compression: %s (must be zstd, snappy, lz4, gzip, or none)", c.Compression))
	}

	if c.Retention < 0 {
		errs = append(errs, errors.New("retention must not be negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the agent configuration.
func (c *AgentConfig) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Retries < 0 {
		errs = append(errs, errors.New("retries must not be negative"))
	}

	for i := range c.Devices {
		if err := c.Devices[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("devices[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Validate checks one device entry.
func (c *DeviceConfig) Validate() error {
	var errs []error

	if c.Hostname == "" {
		errs = append(errs, errors.New("hostname is required"))
	}
	if c.SecurityName == "" && c.Community == "" {
		errs = append(errs, errors.New("SNMP v2c requires community string (refusing to use insecure default)"))
	}

	switch c.SecurityLevel {
	case "", "noAuthNoPriv", "authNoPriv", "authPriv":
	default:
		errs = append(errs, fmt.Errorf("invalid security_level: %s", c.SecurityLevel))
	}

	labels := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.Label == "" {
			errs = append(errs, fmt.Errorf("tables[%d]: label is required", i))
		}
		if t.OID == "" {
			errs = append(errs, fmt.Errorf("tables[%d]: oid is required", i))
		}
		if labels[t.Label] {
			errs = append(errs, fmt.Errorf("tables[%d]: duplicate label %q", i, t.Label))
		}
		labels[t.Label] = true
	}

	return errors.Join(errs...)
}
