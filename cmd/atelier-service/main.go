// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// The atelier-service binary is the broker: it exposes the hire and
// lifecycle operations on a Unix socket, backed by the durable build
// store and the settlement provider.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atelier-foundation/atelier/lib/broker"
	"github.com/atelier-foundation/atelier/lib/buildstore"
	"github.com/atelier-foundation/atelier/lib/clock"
	"github.com/atelier-foundation/atelier/lib/config"
	"github.com/atelier-foundation/atelier/lib/escrow"
	"github.com/atelier-foundation/atelier/lib/process"
	"github.com/atelier-foundation/atelier/lib/service"
	"github.com/atelier-foundation/atelier/lib/version"
	"github.com/atelier-foundation/atelier/lib/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "", "path to atelier.yaml (overrides ATELIER_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("atelier-service")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	systemClock := clock.Real()

	store, err := buildstore.Open(buildstore.Config{
		Path:       cfg.Store.Path,
		PoolSize:   cfg.Store.PoolSize,
		Clock:      systemClock,
		MaxRetries: cfg.Worker.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	settlement := &escrow.Client{
		SocketPath:  cfg.Settlement.SocketPath,
		CallTimeout: config.Duration(cfg.Settlement.CallTimeout, 0),
	}

	buildBroker, err := broker.New(broker.Config{
		Store:            store,
		Settlement:       settlement,
		Clock:            systemClock,
		FeeBasisPoints:   cfg.Settlement.FeeBasisPoints,
		DepositTolerance: cfg.Settlement.DepositTolerance,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	// The service hosts a reaper of its own so abandoned claims are
	// recovered even when no worker process is running. Requeueing is
	// idempotent, so worker-hosted reapers are not a conflict.
	reaper, err := worker.NewReaper(worker.ReaperConfig{
		Store:        store,
		ClaimTimeout: config.Duration(cfg.Worker.ClaimTimeout, 10*time.Minute),
		Interval:     config.Duration(cfg.Reaper.Interval, 5*time.Minute),
		Clock:        systemClock,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	brokerService := newBrokerService(buildBroker, store, systemClock, cfg, logger)

	socketServer := service.NewSocketServer(cfg.Service.SocketPath, logger)
	brokerService.registerActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaper.Run(ctx)
	}()

	logger.Info("atelier service running",
		"socket", cfg.Service.SocketPath,
		"store", cfg.Store.Path,
		"settlement", cfg.Settlement.SocketPath,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	<-reaperDone
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
