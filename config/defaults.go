// Package config provides configuration defaults and utilities
// for the infoset drain and agent.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command line flags.
package config

import "time"

// =============================================================================
// Spool Defaults
// =============================================================================

const (
	// DefaultSpoolDir is where agents drop snapshot files.
	// Override via config: spool.dir
	DefaultSpoolDir = "/var/spool/infoset/cache"

	// DefaultQuarantineDir receives structurally invalid snapshot files.
	// Files there are never deleted by the drain.
	// Override via config: spool.quarantine_dir
	DefaultQuarantineDir = "/var/spool/infoset/failures"

	// DefaultQuiescence is the minimum age of a spool file before it is read.
	// Younger files may still be written by their producer.
	// Override via config: spool.quiescence
	DefaultQuiescence = 15 * time.Second
)

// =============================================================================
// Drain Defaults
// =============================================================================

const (
	// DefaultDrainWorkers is the number of concurrent drain workers.
	// Each worker drains one device batch at a time.
	// Override via config: drain.workers
	DefaultDrainWorkers = 4

	// DefaultDrainInterval is the pause between sweeps in periodic mode.
	// Override via config: drain.interval
	DefaultDrainInterval = time.Minute

	// DefaultMaxClockSkew is how far in the future a snapshot timestamp may be
	// before the file is skipped as suspicious.
	// Override via config: drain.max_clock_skew
	DefaultMaxClockSkew = 5 * time.Minute
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultStoreDriver selects the backing database.
	// Override via config: store.driver
	DefaultStoreDriver = "duckdb"

	// DefaultStoreDSN is the default database location.
	// Override via config: store.dsn
	DefaultStoreDSN = "infoset.db"

	// DefaultStoreMaxOpenConns is the connection pool size.
	// Override via config: store.max_open_conns
	DefaultStoreMaxOpenConns = 16

	// DefaultStoreMaxIdleConns is the number of idle pooled connections.
	// Override via config: store.max_idle_conns
	DefaultStoreMaxIdleConns = 4

	// DefaultStoreConnMaxLifetime recycles pooled connections.
	// Override via config: store.conn_max_lifetime
	DefaultStoreConnMaxLifetime = 5 * time.Minute

	// DefaultStoreQueryTimeout bounds a single store operation.
	// Override via config: store.query_timeout
	DefaultStoreQueryTimeout = 30 * time.Second

	// DefaultMaxRowsPerInsert limits rows per multi-row INSERT statement.
	// 4 columns * 250 rows = 1000 parameters per statement.
	DefaultMaxRowsPerInsert = 250
)

// =============================================================================
// Archive Defaults
// =============================================================================

const (
	// DefaultArchiveDir holds per-sweep Parquet files of accepted measurements.
	// Override via config: archive.dir
	DefaultArchiveDir = "/var/lib/infoset/archive"

	// DefaultArchiveCompression is the Parquet compression codec.
	// Override via config: archive.compression
	DefaultArchiveCompression = "zstd"
)

// =============================================================================
// Metrics Defaults
// =============================================================================

const (
	// DefaultMetricsNamespace prefixes all exported metric names.
	// Override via config: metrics.namespace
	DefaultMetricsNamespace = "infoset"

	// DefaultLatencyAccuracy is the relative accuracy of per-file latency quantiles.
	DefaultLatencyAccuracy = 0.01
)

// =============================================================================
// Agent Defaults
// =============================================================================

const (
	// DefaultAgentName is written into the "agent" field of snapshots.
	// Override via config: agent.name
	DefaultAgentName = "infoset-agent"

	// DefaultSNMPPort is the standard SNMP port.
	DefaultSNMPPort = 161

	// DefaultSNMPTimeout is the timeout for a single SNMP request.
	// Override via config: agent.timeout
	DefaultSNMPTimeout = 5 * time.Second

	// DefaultSNMPRetries is the number of retry attempts after timeout.
	// Override via config: agent.retries
	DefaultSNMPRetries = 2

	// DefaultAgentInterval is the polling interval in periodic mode.
	// Override via config: agent.interval
	DefaultAgentInterval = 5 * time.Minute
)
