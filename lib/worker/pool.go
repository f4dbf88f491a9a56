// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atelier-foundation/atelier/lib/build"
	"github.com/atelier-foundation/atelier/lib/buildstore"
	"github.com/atelier-foundation/atelier/lib/clock"
)

// ExecuteFunc runs one claimed job. On success it must record the
// outcome itself (StartBuild, run the builder, CompleteJob) while the
// claim is held. A returned error spends one unit of the job's retry
// budget.
type ExecuteFunc func(ctx context.Context, job *build.BuildJob) error

// PoolConfig holds the collaborators and tunables for a Pool.
type PoolConfig struct {
	// Store is where jobs are claimed and failures recorded. Required.
	Store *buildstore.Store

	// Execute runs one job. Required.
	Execute ExecuteFunc

	// WorkerID names this worker in job claims. Each concurrency slot
	// claims as "<WorkerID>/<slot>" so a slot's stale report can never
	// be mistaken for a live claim by another slot. Required.
	WorkerID string

	// MaxConcurrent is the number of jobs executed in parallel.
	// Defaults to 3.
	MaxConcurrent int

	// PollInterval is how often an idle pool checks for pending jobs.
	// Completions re-drain the queue immediately; the ticker only
	// catches work enqueued by other processes. Defaults to 30s.
	PollInterval time.Duration

	// Clock drives the poll ticker. Required.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Pool claims and executes pending jobs on a bounded set of slots.
type Pool struct {
	store         *buildstore.Store
	execute       ExecuteFunc
	workerID      string
	maxConcurrent int
	pollInterval  time.Duration
	clock         clock.Clock
	logger        *slog.Logger

	slots chan int
	wake  chan struct{}
	wg    sync.WaitGroup

	claimed     atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	interrupted atomic.Int64
	active      atomic.Int64
}

// Counters is a point-in-time snapshot of pool activity since start.
type Counters struct {
	// Claimed counts jobs this pool has claimed.
	Claimed int64
	// Completed counts executions that returned without error.
	Completed int64
	// Failed counts executions that spent retry budget.
	Failed int64
	// Interrupted counts executions cut short by cancellation, whose
	// claims were left for the reaper.
	Interrupted int64
	// Active is the number of jobs executing right now.
	Active int64
}

// Counters returns a snapshot of the pool's activity counters.
func (p *Pool) Counters() Counters {
	return Counters{
		Claimed:     p.claimed.Load(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
		Interrupted: p.interrupted.Load(),
		Active:      p.active.Load(),
	}
}

// NewPool validates the configuration and returns a Pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker: Store is required")
	}
	if cfg.Execute == nil {
		return nil, fmt.Errorf("worker: Execute is required")
	}
	if cfg.WorkerID == "" {
		return nil, fmt.Errorf("worker: WorkerID is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("worker: Clock is required")
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool := &Pool{
		store:         cfg.Store,
		execute:       cfg.Execute,
		workerID:      cfg.WorkerID,
		maxConcurrent: maxConcurrent,
		pollInterval:  pollInterval,
		clock:         cfg.Clock,
		logger:        logger,
		slots:         make(chan int, maxConcurrent),
		wake:          make(chan struct{}, 1),
	}
	for slot := 0; slot < maxConcurrent; slot++ {
		pool.slots <- slot
	}
	return pool, nil
}

// Wake nudges the pool to check for pending jobs now instead of at
// the next poll tick. Safe to call from any goroutine; redundant
// wakes coalesce.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run claims and executes jobs until ctx is cancelled, then waits for
// in-flight executions to finish. Always returns nil after a clean
// drain.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool started",
		"worker", p.workerID,
		"max_concurrent", p.maxConcurrent,
		"poll_interval", p.pollInterval.String(),
	)

	ticker := p.clock.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx)

		select {
		case <-ctx.Done():
			p.logger.Info("worker pool draining", "worker", p.workerID)
			p.wg.Wait()
			p.logger.Info("worker pool stopped", "worker", p.workerID)
			return nil
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// drain claims jobs until either the queue is empty or every slot is
// busy.
func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var slot int
		select {
		case slot = <-p.slots:
		default:
			return
		}

		job, ok, err := p.store.ClaimNext(ctx, p.slotID(slot))
		if err != nil {
			p.slots <- slot
			if ctx.Err() == nil {
				p.logger.Error("claim failed", "worker", p.workerID, "error", err)
			}
			return
		}
		if !ok {
			p.slots <- slot
			return
		}

		p.claimed.Add(1)
		p.wg.Add(1)
		go p.runJob(ctx, slot, job)
	}
}

func (p *Pool) slotID(slot int) string {
	return fmt.Sprintf("%s/%d", p.workerID, slot)
}

// runJob executes one claimed job and, on failure, spends retry
// budget. A cancellation is an interruption, not a failure: the claim
// is left in place for the reaper so the retry budget is untouched.
func (p *Pool) runJob(ctx context.Context, slot int, job *build.BuildJob) {
	defer p.wg.Done()
	defer p.Wake()
	defer func() { p.slots <- slot }()

	p.active.Add(1)
	defer p.active.Add(-1)

	slotID := p.slotID(slot)
	p.logger.Info("job started",
		"job_id", job.ID,
		"build_id", job.BuildID,
		"slot", slotID,
		"retry_count", job.RetryCount,
	)

	err := p.execute(ctx, job)
	if err == nil {
		p.completed.Add(1)
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		p.interrupted.Add(1)
		p.logger.Warn("job interrupted, leaving claim for the reaper",
			"job_id", job.ID,
			"slot", slotID,
		)
		return
	}
	p.failed.Add(1)

	// Record the failure even when the pool is shutting down.
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, failErr := p.store.FailJob(failCtx, job.ID, slotID, err.Error()); failErr != nil {
		p.logger.Error("recording job failure failed",
			"job_id", job.ID,
			"slot", slotID,
			"error", failErr,
		)
	}
}
