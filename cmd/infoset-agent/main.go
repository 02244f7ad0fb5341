// infoset-agent polls SNMP devices and writes snapshot files into the spool.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtxerr/infoset/internal/collect"
	"github.com/xtxerr/infoset/internal/config"
	"github.com/xtxerr/infoset/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("main")

func main() {
	// CLI flags
	cfgPath := flag.String("config", "/etc/infoset/infoset.yaml", "config file path")
	once := flag.Bool("once", false, "poll all devices once and exit")
	interval := flag.Duration("interval", 0, "polling interval (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *interval > 0 {
		cfg.Agent.Interval = *interval
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	logging.Init(level, cfg.Logging.JSON)

	if len(cfg.Agent.Devices) == 0 {
		log.Error("no devices configured")
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Agent.SpoolDir, 0755); err != nil {
		log.Error("create spool dir", "dir", cfg.Agent.SpoolDir, "error", err)
		os.Exit(1)
	}

	log.Info("infoset-agent starting",
		"version", Version,
		"name", cfg.Agent.Name,
		"devices", len(cfg.Agent.Devices),
		"spool", cfg.Agent.SpoolDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent := collect.NewAgent(cfg.Agent)
	defer agent.Close()

	poll := func() {
		paths, err := agent.Poll(ctx)
		if err != nil {
			log.Warn("poll cycle incomplete", "written", len(paths), "error", err)
			return
		}
		log.Info("poll cycle done", "written", len(paths))
	}

	poll()
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.Agent.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("infoset-agent stopped")
			return
		case <-ticker.C:
			poll()
		}
	}
}
