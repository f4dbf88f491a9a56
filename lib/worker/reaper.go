// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/atelier-foundation/atelier/lib/buildstore"
	"github.com/atelier-foundation/atelier/lib/clock"
)

// ReaperConfig holds the collaborators and tunables for a Reaper.
type ReaperConfig struct {
	// Store is swept for abandoned claims. Required.
	Store *buildstore.Store

	// ClaimTimeout is how old a claim must be before its job counts
	// as abandoned. Must comfortably exceed the longest legitimate
	// build. Defaults to 10m.
	ClaimTimeout time.Duration

	// Interval is how often the sweep runs. Defaults to 5m.
	Interval time.Duration

	// Clock drives the sweep ticker and claim ages. Required.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger

	// OnRequeue, if set, is called after a sweep that requeued at
	// least one job. The service uses it to wake the local pool.
	OnRequeue func(count int)
}

// Reaper periodically returns abandoned running jobs to the queue.
// An abandoned claim is an interruption, not a failure, so requeued
// jobs keep their full retry budget.
type Reaper struct {
	store        *buildstore.Store
	claimTimeout time.Duration
	interval     time.Duration
	clock        clock.Clock
	logger       *slog.Logger
	onRequeue    func(count int)
}

// NewReaper validates the configuration and returns a Reaper.
func NewReaper(cfg ReaperConfig) (*Reaper, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker: reaper Store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("worker: reaper Clock is required")
	}

	claimTimeout := cfg.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = 10 * time.Minute
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Reaper{
		store:        cfg.Store,
		claimTimeout: claimTimeout,
		interval:     interval,
		clock:        cfg.Clock,
		logger:       logger,
		onRequeue:    cfg.OnRequeue,
	}, nil
}

// Run sweeps once immediately, covering jobs orphaned by a crash
// before this process started, then sweeps on every interval tick
// until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	r.logger.Info("reaper started",
		"claim_timeout", r.claimTimeout.String(),
		"interval", r.interval.String(),
	)

	r.sweep(ctx)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	requeued, err := r.store.RequeueStuck(ctx, r.claimTimeout)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("reaper sweep failed", "error", err)
		}
		return
	}
	if requeued > 0 && r.onRequeue != nil {
		r.onRequeue(requeued)
	}
}
