// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command meshnoded is the meshcore node daemon: it runs the Backhaul
// Manager, Session Gateway, and Prometheus exporter as one process, under
// crash-loop supervision.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"meshcore.dev/core/internal/backhaul"
	"meshcore.dev/core/internal/config"
	"meshcore.dev/core/internal/gateway"
	"meshcore.dev/core/internal/logging"
	"meshcore.dev/core/internal/mesh"
	"meshcore.dev/core/internal/metrics"
	"meshcore.dev/core/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "/etc/meshcore/meshcore.hcl", "path to the node's HCL configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "meshnoded:", err)
		os.Exit(1)
	}
}

func run(configPath string) (err error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level: logging.Level(cfg.Logging.Level),
		JSON:  cfg.Logging.JSON,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	sup := supervisor.New(supervisorStateDir(cfg), supervisor.Config{
		Threshold: cfg.Supervisor.Threshold,
		Window:    time.Duration(cfg.Supervisor.WindowSecs) * time.Second,
	})
	safeMode := !supervisor.ShouldSkipDetection() && sup.ShouldEnterSafeMode()
	if safeMode {
		logger.Warn("crash threshold exceeded, forcing monitor-only safe mode", "node_id", cfg.NodeID)
		cfg.Routing.MonitorOnly = true
	}
	sup.StartStabilityTimer()

	receivedSignal := syscall.Signal(0)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered from panic", "panic", r)
			sup.RecordExit(1, 0, true)
			err = fmt.Errorf("panic: %v", r)
			return
		}
		sup.RecordExit(0, receivedSignal, false)
	}()

	mgr := backhaul.NewManager(cfg, logger.With("component", "backhaul"))

	registry := mesh.NewSessionRegistry()
	if cfg.Gateway.SessionsFile != "" {
		if err := mesh.LoadSeedFile(cfg.Gateway.SessionsFile, registry); err != nil {
			logger.Warn("failed to load session seed file", "error", err, "path", cfg.Gateway.SessionsFile)
		}
	}
	mgr.SetSessionSignal(registry)

	gw := gateway.New(cfg.Gateway, registry, logger.With("component", "gateway"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		if s, ok := sig.(syscall.Signal); ok {
			receivedSignal = s
		}
		cancel()
	}()

	mgr.Start(ctx)
	defer mgr.Stop()

	go func() {
		if err := gw.ListenAndServe(ctx); err != nil {
			logger.Error("session gateway stopped", "error", err)
		}
	}()
	defer gw.Close()

	staleAfter := 3 * cfg.Probe.Interval()
	healthCheck := func() error {
		last := mgr.LastIteration()
		if last.IsZero() || time.Since(last) > staleAfter {
			return fmt.Errorf("management loop stale since %s", last)
		}
		return nil
	}

	var exporter *metrics.Exporter
	if cfg.Metrics.Enabled {
		exporter = metrics.New(cfg.Metrics, mgr, registry, logger.With("component", "metrics"))
		exporter.Start(ctx, healthCheck)
		defer exporter.Stop()
	}

	logger.Info("meshnoded running", "node_id", cfg.NodeID, "monitor_only", cfg.Routing.MonitorOnly)
	<-ctx.Done()
	logger.Info("meshnoded shutting down")
	return nil
}

func supervisorStateDir(cfg *config.Config) string {
	if cfg.Supervisor.StateDir != "" {
		return cfg.Supervisor.StateDir
	}
	return filepath.Join(os.TempDir(), "meshcore")
}
