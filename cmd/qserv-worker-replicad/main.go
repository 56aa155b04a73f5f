package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lsst-qserv/worker-replicad/internal/admin"
	"github.com/lsst-qserv/worker-replicad/internal/catalog"
	"github.com/lsst-qserv/worker-replicad/internal/config"
	"github.com/lsst-qserv/worker-replicad/internal/dbconn"
	"github.com/lsst-qserv/worker-replicad/internal/dispatch"
	"github.com/lsst-qserv/worker-replicad/internal/factory"
	"github.com/lsst-qserv/worker-replicad/internal/metrics"
	"github.com/lsst-qserv/worker-replicad/internal/namedmutex"
	"github.com/lsst-qserv/worker-replicad/internal/processor"
)

func main() {
	configPath := flag.String("config", "configs/worker.yaml", "path to configuration file")
	flag.Parse()

	slog.Info("qserv-worker-replicad starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "path", *configPath, "databases", len(cfg.Databases))

	cat := catalog.New(cfg.Databases)

	pool, err := dbconn.Open(cfg.Database)
	if err != nil {
		slog.Error("failed to open database pool", "error", err)
		os.Exit(1)
	}

	mutexes := namedmutex.NewRegistry()
	m := metrics.New()

	// A peer's file-server address is its worker name plus this cluster's
	// configured file-server port; a peer's POSIX data directory is
	// assumed mounted at the same path as this worker's own data-dir.
	// Qserv clusters run one worker per host with identical layouts, so
	// neither resolver needs a separate peer registry.
	fsAddr := func(worker string) (string, error) {
		return fmt.Sprintf("%s:%d", worker, cfg.Worker.FileServerPort), nil
	}
	posixDataDir := func(worker string) (string, error) {
		return cfg.Worker.DataDir, nil
	}
	strategy, err := factory.New(cfg.Worker.Technology, fsAddr, posixDataDir)
	if err != nil {
		slog.Error("failed to select transfer strategy", "error", err)
		os.Exit(1)
	}

	proc, err := processor.New(cfg.Worker.NumSvcProcessingThreads)
	if err != nil {
		slog.Error("failed to construct processor", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Run(ctx)

	stopStats := startStatsLoop(5*time.Second, func() {
		stats := pool.Stats()
		m.SetDBPoolStats(stats.Active, stats.Idle, stats.Waiting)
	})

	dispatcher := &dispatch.Dispatcher{
		Catalog:        cat,
		Pool:           pool,
		Mutexes:        mutexes,
		Strategy:       strategy,
		WorkerName:     cfg.Worker.Name,
		DataDir:        cfg.Worker.DataDir,
		TmpDir:         cfg.Worker.LoaderTmpDir,
		BufSize:        cfg.Worker.FSBufSizeBytes,
		DefaultTimeout: time.Duration(cfg.Controller.RequestTimeoutSec) * time.Second,
	}

	adminServer := admin.NewServer(proc, m, dispatcher, cfg.Admin)
	if err := adminServer.Start(); err != nil {
		slog.Error("failed to start admin server", "error", err)
		os.Exit(1)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		slog.Info("applying reloaded configuration")
		if err := proc.Reconfig(ctx, newCfg.Worker.NumSvcProcessingThreads); err != nil {
			slog.Warn("reconfig rejected", "error", err)
		}
	})
	if err != nil {
		slog.Warn("config hot-reload not available", "error", err)
	}

	slog.Info("qserv-worker-replicad ready", "admin_addr", cfg.Admin.Bind, "admin_port", cfg.Admin.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig.String())

	if configWatcher != nil {
		configWatcher.Stop()
	}
	close(stopStats)
	adminServer.Stop()
	proc.Stop()
	pool.Close()

	slog.Info("qserv-worker-replicad stopped")
}

// startStatsLoop runs fn on a fixed interval until the returned channel
// is closed.
func startStatsLoop(interval time.Duration, fn func()) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()
	return stop
}
