// infoset-drain ingests spooled SNMP snapshots into the store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/xtxerr/infoset/internal/archive"
	"github.com/xtxerr/infoset/internal/config"
	"github.com/xtxerr/infoset/internal/drain"
	"github.com/xtxerr/infoset/internal/logging"
	"github.com/xtxerr/infoset/internal/metrics"
	"github.com/xtxerr/infoset/internal/spool"
	"github.com/xtxerr/infoset/internal/store"
	"github.com/xtxerr/infoset/internal/store/memstore"
	"github.com/xtxerr/infoset/internal/store/sqlstore"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("main")

func main() {
	// CLI flags
	cfgPath := flag.String("config", "/etc/infoset/infoset.yaml", "config file path")
	once := flag.Bool("once", false, "run a single sweep and exit")
	interval := flag.Duration("interval", 0, "pause between sweeps (overrides config)")
	workers := flag.Int("workers", 0, "drain workers (overrides config)")
	history := flag.String("history", "", "print the archived values of a series id and exit")
	flag.Parse()

	cfg, usingDefaults, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// CLI overrides
	if *interval > 0 {
		cfg.Drain.Interval = *interval
	}
	if *workers > 0 {
		cfg.Drain.Workers = *workers
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	logging.Init(level, cfg.Logging.JSON)

	log.Info("infoset-drain starting", "version", Version, "config", *cfgPath)

	if usingDefaults {
		log.Warn("config file not found, using defaults",
			"config", *cfgPath,
			"spool", cfg.Spool.Dir,
			"quarantine", cfg.Spool.QuarantineDir,
			"store", cfg.Store.Driver,
			"dsn", cfg.Store.DSN)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *history != "" {
		if err := printHistory(ctx, cfg.Archive.Dir, *history); err != nil {
			fatal("query history", "error", err)
		}
		return
	}

	// =========================================================================
	// Store
	// =========================================================================

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		fatal("open store", "driver", cfg.Store.Driver, "error", err)
	}
	defer st.Close()

	if err := storeHealth(ctx, st); err != nil {
		fatal("store not ready", "driver", cfg.Store.Driver, "error", err)
	}

	// =========================================================================
	// Engine
	// =========================================================================

	var opts []drain.Option
	var retention *archive.Retention

	if cfg.Archive.Enabled {
		opts = append(opts, drain.WithArchiver(archive.New(cfg.Archive.Dir, cfg.Archive.Compression)))
		if cfg.Archive.Retention > 0 {
			retention = archive.NewRetention(cfg.Archive.Dir, cfg.Archive.Retention)
		}
		log.Info("archive enabled",
			"dir", cfg.Archive.Dir,
			"compression", cfg.Archive.Compression,
			"retention", cfg.Archive.Retention)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Listen != "" {
		m := metrics.NewDrain(cfg.Metrics.Namespace)
		opts = append(opts, drain.WithObserver(m.ObserveSweep))

		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := storeHealth(r.Context(), st); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok\n"))
		})
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "error", err)
			}
		}()
		log.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen)
	}

	engine := drain.New(st, &spool.Handler{QuarantineDir: cfg.Spool.QuarantineDir}, opts...)

	sweepCfg := drain.SweepConfig{
		SpoolDir:     cfg.Spool.Dir,
		Quiescence:   cfg.Spool.Quiescence,
		Workers:      cfg.Drain.Workers,
		MaxClockSkew: cfg.Drain.MaxClockSkew,
	}

	// =========================================================================
	// Run
	// =========================================================================

	if *once {
		report, err := engine.Drain(ctx, sweepCfg)
		if err != nil {
			fatal("sweep failed", "error", err)
		}
		if report.Failed > 0 {
			log.Warn("sweep left files behind", "failed", report.Failed)
		}
	} else {
		runPeriodic(ctx, engine, sweepCfg, cfg.Drain.Interval, retention)
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}

	log.Info("infoset-drain stopped")
}

// runPeriodic sweeps until ctx is done. Sweeps run on this goroutine, so they
// never overlap; ticks missed during a long sweep are dropped.
func runPeriodic(ctx context.Context, engine *drain.Engine, cfg drain.SweepConfig, interval time.Duration, retention *archive.Retention) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := engine.Drain(ctx, cfg); err != nil && ctx.Err() == nil {
			log.Error("sweep failed", "error", err)
		}
		if retention != nil {
			retention.Run(time.Now())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory store; nothing is persisted")
		return memstore.New(), nil
	}

	scfg := sqlstore.DefaultConfig()
	scfg.Driver = cfg.Driver
	scfg.DSN = cfg.DSN
	scfg.MaxOpenConns = cfg.MaxOpenConns
	scfg.MaxIdleConns = cfg.MaxIdleConns
	scfg.ConnMaxLifetime = cfg.ConnMaxLifetime
	scfg.QueryTimeout = cfg.QueryTimeout

	return sqlstore.Open(ctx, scfg)
}

// loadConfig loads path, falling back to the defaults when the file does
// not exist. The boolean reports whether the defaults are in use.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	return config.DefaultConfig(), true, nil
}

// storeHealth pings stores that support it.
func storeHealth(ctx context.Context, st store.Store) error {
	h, ok := st.(interface{ Health(context.Context) error })
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.Health(ctx)
}

func printHistory(ctx context.Context, dir, seriesID string) error {
	h, err := archive.NewHistory(dir)
	if err != nil {
		return err
	}
	defer h.Close()

	rows, err := h.Query(ctx, archive.HistoryQuery{SeriesID: seriesID})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func fatal(msg string, args ...any) {
	log.Error(msg, args...)
	os.Exit(1)
}
