// Package main is the entry point for the notification delivery service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman1117/notifyd/internal/boundary"
	"github.com/aman1117/notifyd/internal/bus"
	"github.com/aman1117/notifyd/internal/config"
	"github.com/aman1117/notifyd/internal/database"
	"github.com/aman1117/notifyd/internal/engine"
	"github.com/aman1117/notifyd/internal/listener"
	"github.com/aman1117/notifyd/internal/logger"
	"github.com/aman1117/notifyd/internal/metrics"
	"github.com/aman1117/notifyd/internal/push"
	"github.com/aman1117/notifyd/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	defer logger.Sync()
	log := logger.WithComponent("main")

	log.Infow("starting notifyd", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Init(ctx, &cfg.Database)
	if err != nil {
		log.Fatalw("failed to initialize database", "error", err)
	}
	defer database.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	notificationStore := store.New(pool)

	hub := bus.NewHub(logger.WithComponent("bus"), m)
	wsHandler := bus.NewHandler(hub, cfg.Bus.ServiceToken)

	var pushClient push.Sink
	if cfg.Push.ProjectID != "" && cfg.Push.CredentialsPath != "" {
		c, err := push.NewClient(cfg.Push.ProjectID, cfg.Push.CredentialsPath, cfg.Push.SendRateLimit, cfg.Debug.LogFCMTokens, m)
		if err != nil {
			log.Fatalw("failed to initialize push client", "error", err)
		}
		pushClient = c
	} else {
		log.Warnw("push sink not configured, falling back to bus-only delivery")
	}

	wake := make(chan struct{}, 1)
	l := listener.New(pool, wake, m)

	eng := engine.New(
		notificationStore,
		hub,
		pushClient,
		m,
		cfg.Worker.PollInterval,
		cfg.Worker.BatchSize,
		cfg.Worker.MaxRetries,
	)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	boundaryServer := boundary.New(addr, registry, wsHandler)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("starting boundary server", "addr", addr)
		return boundaryServer.Start()
	})

	g.Go(func() error {
		log.Infow("starting listener")
		l.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		log.Infow("starting delivery engine",
			"poll_interval", cfg.Worker.PollInterval,
			"batch_size", cfg.Worker.BatchSize,
			"max_retries", cfg.Worker.MaxRetries,
		)
		eng.Run(gCtx, wake)
		return nil
	})

	boundaryServer.SetReady(true)
	log.Infow("notifyd is ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Infow("received shutdown signal", "signal", sig.String())
	case <-gCtx.Done():
		log.Infow("context cancelled")
	}

	boundaryServer.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := boundaryServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("boundary server shutdown error", "error", err)
	}

	if err := g.Wait(); err != nil {
		log.Errorw("a component exited with an error", "error", err)
	}

	log.Infow("notifyd stopped")
}
