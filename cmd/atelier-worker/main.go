// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// The atelier-worker binary claims pending build jobs, runs the
// configured builder command for each, and records delivery. It also
// hosts the reaper that returns jobs abandoned by dead workers to the
// queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/atelier-foundation/atelier/lib/buildstore"
	"github.com/atelier-foundation/atelier/lib/clock"
	"github.com/atelier-foundation/atelier/lib/config"
	"github.com/atelier-foundation/atelier/lib/process"
	"github.com/atelier-foundation/atelier/lib/service"
	"github.com/atelier-foundation/atelier/lib/version"
	"github.com/atelier-foundation/atelier/lib/worker"
)

// workerStatus is the wire form of the status action's response.
type workerStatus struct {
	Worker      string `cbor:"worker"`
	Claimed     int64  `cbor:"claimed"`
	Completed   int64  `cbor:"completed"`
	Failed      int64  `cbor:"failed"`
	Interrupted int64  `cbor:"interrupted"`
	Active      int64  `cbor:"active"`
}

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath, workerID, statusSocket string
	var showVersion bool
	flag.StringVar(&configPath, "config", "", "path to atelier.yaml (overrides ATELIER_CONFIG)")
	flag.StringVar(&workerID, "worker-id", "", "worker name used in job claims (default: hostname.pid)")
	flag.StringVar(&statusSocket, "status-socket", "", "socket serving pool counters (default: worker-<pid>.sock beside the service socket)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("atelier-worker")
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Worker.BuilderCommand) == 0 {
		return fmt.Errorf("worker.builder_command is required to run a worker")
	}

	if workerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "worker"
		}
		workerID = fmt.Sprintf("%s.%d", hostname, os.Getpid())
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

	builder := &builder{
		command: cfg.Worker.BuilderCommand,
		store:   store,
		logger:  logger,
	}

	pool, err := worker.NewPool(worker.PoolConfig{
		Store:         store,
		Execute:       builder.execute,
		WorkerID:      workerID,
		MaxConcurrent: cfg.Worker.MaxConcurrent,
		PollInterval:  config.Duration(cfg.Worker.PollInterval, 30*time.Second),
		Clock:         systemClock,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	if statusSocket == "" {
		statusSocket = filepath.Join(filepath.Dir(cfg.Service.SocketPath),
			fmt.Sprintf("worker-%d.sock", os.Getpid()))
	}

	reaper, err := worker.NewReaper(worker.ReaperConfig{
		Store:        store,
		ClaimTimeout: config.Duration(cfg.Worker.ClaimTimeout, 10*time.Minute),
		Interval:     config.Duration(cfg.Reaper.Interval, 5*time.Minute),
		Clock:        systemClock,
		Logger:       logger,
		OnRequeue:    func(int) { pool.Wake() },
	})
	if err != nil {
		return err
	}

	statusServer := service.NewSocketServer(statusSocket, logger)
	statusServer.Handle("status", func(context.Context, []byte) (any, error) {
		counters := pool.Counters()
		return workerStatus{
			Worker:      workerID,
			Claimed:     counters.Claimed,
			Completed:   counters.Completed,
			Failed:      counters.Failed,
			Interrupted: counters.Interrupted,
			Active:      counters.Active,
		}, nil
	})

	logger.Info("atelier worker running",
		"worker", workerID,
		"store", cfg.Store.Path,
		"builder", cfg.Worker.BuilderCommand,
		"status_socket", statusSocket,
	)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reaper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := statusServer.Serve(ctx); err != nil {
			logger.Error("status socket error", "error", err)
		}
	}()
	wg.Wait()

	logger.Info("atelier worker stopped")
	return nil
}
