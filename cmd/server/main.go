package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nantokaworks/giveaway-draw/internal/archive"
	"github.com/nantokaworks/giveaway-draw/internal/clock"
	"github.com/nantokaworks/giveaway-draw/internal/env"
	"github.com/nantokaworks/giveaway-draw/internal/ledger"
	"github.com/nantokaworks/giveaway-draw/internal/localdb"
	"github.com/nantokaworks/giveaway-draw/internal/metrics"
	"github.com/nantokaworks/giveaway-draw/internal/scheduler"
	"github.com/nantokaworks/giveaway-draw/internal/shared/logger"
	"github.com/nantokaworks/giveaway-draw/internal/version"
	"github.com/nantokaworks/giveaway-draw/internal/webserver"
	"github.com/nantokaworks/giveaway-draw/internal/window"
	"go.uber.org/zap"
)

func main() {
	logger.Init(false)
	defer logger.Sync()

	cfg, err := env.LoadEnv()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.DebugMode {
		logger.Init(true)
		logger.Info("Debug mode enabled")
	}

	logger.Info("Starting giveaway draw server", zap.String("version", version.String()))

	store, err := localdb.Open(cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		logger.Fatal("Failed to setup database", zap.Error(err))
	}
	defer store.Close()

	clk := clock.Real()
	resolver := window.NewResolver(cfg.DrawEpoch, cfg.DrawWindowLength)
	m := metrics.New()
	hub := webserver.NewWSHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	schedOpts := []scheduler.Option{
		scheduler.WithPollInterval(cfg.DrawPollInterval),
		scheduler.WithBroadcaster(hub),
		scheduler.WithMetrics(m),
	}
	if opt := notifierOption(cfg); opt != nil {
		schedOpts = append(schedOpts, opt)
	}
	executor := scheduler.New(store, resolver, clk, schedOpts...)

	wg.Add(1)
	go func() {
		defer wg.Done()
		executor.Run(ctx)
	}()

	srv := webserver.New(webserver.Deps{
		Store:    store,
		Ledger:   ledger.New(store, resolver, clk, ledger.WithMetrics(m)),
		Archive:  archive.New(store, resolver, cfg.DisplayLocation),
		Verifier: newVerifier(cfg, clk),
		Resolver: resolver,
		Clock:    clk,
		Metrics:  m,
		Hub:      hub,
	})
	if err := srv.Start(cfg.ServerPort); err != nil {
		logger.Fatal("Failed to start web server", zap.Error(err))
	}

	logger.Info("Server started",
		zap.Int("port", cfg.ServerPort),
		zap.String("url", fmt.Sprintf("http://localhost:%d/", cfg.ServerPort)),
		zap.Time("epoch", cfg.DrawEpoch),
		zap.Duration("window_length", cfg.DrawWindowLength))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	cancel()
	wg.Wait()

	logger.Info("Shutdown complete")
}
