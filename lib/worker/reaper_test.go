// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/atelier-foundation/atelier/lib/build"
	"github.com/atelier-foundation/atelier/lib/testutil"
)

func TestReaperStartupSweep(t *testing.T) {
	store, fakeClock := newTestStore(t)

	job := enqueueHire(t, store)
	if _, _, err := store.ClaimNext(context.Background(), "dead-worker"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	// The claim predates this process by more than the timeout, as if
	// the previous worker crashed.
	fakeClock.Advance(time.Hour)

	requeued := make(chan int, 1)
	reaper, err := NewReaper(ReaperConfig{
		Store:        store,
		ClaimTimeout: 10 * time.Minute,
		Interval:     time.Minute,
		Clock:        fakeClock,
		OnRequeue:    func(count int) { requeued <- count },
	})
	if err != nil {
		t.Fatalf("NewReaper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reaper.Run(ctx)
	}()
	defer func() {
		cancel()
		testutil.RequireClosed(t, done, waitTimeout, "reaper did not stop")
	}()

	if count := testutil.RequireReceive(t, requeued, waitTimeout, "startup sweep"); count != 1 {
		t.Fatalf("startup sweep requeued %d, want 1", count)
	}

	got, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != build.JobPending || got.RetryCount != 0 {
		t.Fatalf("requeued job %+v", got)
	}
}

func TestReaperPeriodicSweep(t *testing.T) {
	store, fakeClock := newTestStore(t)

	requeued := make(chan int, 1)
	reaper, err := NewReaper(ReaperConfig{
		Store:        store,
		ClaimTimeout: 10 * time.Minute,
		Interval:     time.Minute,
		Clock:        fakeClock,
		OnRequeue:    func(count int) { requeued <- count },
	})
	if err != nil {
		t.Fatalf("NewReaper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reaper.Run(ctx)
	}()
	defer func() {
		cancel()
		testutil.RequireClosed(t, done, waitTimeout, "reaper did not stop")
	}()

	// Wait for the interval ticker, then abandon a claim and advance
	// past both the claim timeout and at least one tick.
	fakeClock.WaitForTimers(1)

	job := enqueueHire(t, store)
	if _, _, err := store.ClaimNext(context.Background(), "dead-worker"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	fakeClock.Advance(11 * time.Minute)

	if count := testutil.RequireReceive(t, requeued, waitTimeout, "periodic sweep"); count != 1 {
		t.Fatalf("periodic sweep requeued %d, want 1", count)
	}
	waitForJobStatus(t, store, job.ID, build.JobPending)
}

func TestReaperIgnoresFreshClaims(t *testing.T) {
	store, fakeClock := newTestStore(t)

	job := enqueueHire(t, store)
	if _, _, err := store.ClaimNext(context.Background(), "live-worker"); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	reaper, err := NewReaper(ReaperConfig{
		Store:        store,
		ClaimTimeout: 10 * time.Minute,
		Interval:     time.Minute,
		Clock:        fakeClock,
		OnRequeue:    func(count int) { t.Errorf("fresh claim requeued (%d)", count) },
	})
	if err != nil {
		t.Fatalf("NewReaper: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reaper.Run(ctx)
	}()

	fakeClock.WaitForTimers(1)
	// A couple of ticks with the claim still inside its timeout.
	fakeClock.Advance(time.Minute)
	fakeClock.Advance(time.Minute)

	cancel()
	testutil.RequireClosed(t, done, waitTimeout, "reaper did not stop")

	got, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != build.JobRunning || got.ClaimedBy != "live-worker" {
		t.Fatalf("fresh claim disturbed: %+v", got)
	}
}

func TestNewReaperDefaults(t *testing.T) {
	store, fakeClock := newTestStore(t)

	reaper, err := NewReaper(ReaperConfig{
		Store: store,
		Clock: fakeClock,
	})
	if err != nil {
		t.Fatalf("NewReaper: %v", err)
	}
	if reaper.interval != 5*time.Minute {
		t.Fatalf("default interval = %s, want 5m", reaper.interval)
	}
	if reaper.claimTimeout != 10*time.Minute {
		t.Fatalf("default claim timeout = %s, want 10m", reaper.claimTimeout)
	}
}
