package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/a2z2k25/connmgr/internal/balancer"
	"github.com/a2z2k25/connmgr/internal/config"
	"github.com/a2z2k25/connmgr/internal/manager"
	"github.com/a2z2k25/connmgr/internal/version"
	"github.com/a2z2k25/connmgr/internal/wsconn"
)

func main() {
	configPath := flag.String("config", "configs/conndemo.local.yaml", "path to config file")
	strategy := flag.String("strategy", "roundrobin", "load-balancing strategy: roundrobin, weighted, priority")
	statsInterval := flag.Duration("stats-interval", 30*time.Second, "how often to log connection stats")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting conndemo",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"endpoints", len(cfg.Endpoints),
		"auto_healing", cfg.Manager.EnableAutoHealing,
		"load_balancing", cfg.Manager.EnableLoadBalancing,
	)

	ws := wsconn.Options{Logger: logger}

	mgr, err := manager.New(cfg.Manager, manager.Opts{
		Factory:  wsconn.Factory(ws),
		Prober:   wsconn.Prober(ws),
		Pinger:   wsconn.Pinger(),
		Strategy: pickStrategy(*strategy, logger),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to create connection manager", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Register endpoints from config
	for id, epCfg := range cfg.Endpoints {
		if err := mgr.RegisterEndpoint(ctx, id, epCfg); err != nil {
			logger.Error("failed to register endpoint", "endpoint", id, "error", err)
			os.Exit(1)
		}
	}

	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	// Stream lifecycle events
	sub := mgr.Events().Subscribe()
	go func() {
		for ev := range sub.C {
			logger.Info("event",
				"type", ev.Type,
				"endpoint", ev.EndpointID,
				"conn_id", ev.ConnectionID,
				"details", ev.Details,
			)
		}
	}()

	// Periodic stats dump
	go func() {
		ticker := time.NewTicker(*statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := mgr.GetConnectionStats()
				out, err := json.Marshal(stats)
				if err != nil {
					logger.Warn("failed to marshal stats", "error", err)
					continue
				}
				logger.Info("connection stats", "stats", string(out))
			}
		}
	}()

	// Exercise the pool: acquire and release one connection per cycle.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conn, err := mgr.GetBestConnection(ctx, balancer.Criteria{})
				if err != nil {
					logger.Warn("no connection available", "error", err)
					continue
				}
				logger.Debug("acquired connection",
					"conn_id", conn.ID(),
					"endpoint", conn.EndpointID(),
					"latency", conn.Latency(),
				)
				mgr.ReleaseConnection(conn.ID(), nil)
			}
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := mgr.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func pickStrategy(name string, logger *slog.Logger) balancer.Strategy {
	switch name {
	case "roundrobin":
		return balancer.NewRoundRobin()
	case "weighted":
		return balancer.NewWeighted()
	case "priority":
		return balancer.NewPriority()
	default:
		logger.Warn("unknown strategy, using round-robin", "strategy", name)
		return balancer.NewRoundRobin()
	}
}
