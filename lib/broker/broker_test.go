// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/atelier-foundation/atelier/lib/build"
	"github.com/atelier-foundation/atelier/lib/buildstore"
	"github.com/atelier-foundation/atelier/lib/clock"
	"github.com/atelier-foundation/atelier/lib/escrow"
)

func newBroker(t *testing.T) (*Broker, *buildstore.Store, *escrow.Fake, *clock.FakeClock) {
	t.Helper()

	fakeClock := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store, err := buildstore.Open(buildstore.Config{
		Path:  filepath.Join(t.TempDir(), "atelier.db"),
		Clock: fakeClock,
	})
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	settlement := escrow.NewFake()
	b, err := New(Config{
		Store:      store,
		Settlement: settlement,
		Clock:      fakeClock,
	})
	if err != nil {
		t.Fatalf("New broker: %v", err)
	}
	return b, store, settlement, fakeClock
}

func hireRequest() HireRequest {
	return HireRequest{
		RequestID:        "req-1",
		PitchID:          "pitch-1",
		AgentID:          "agent-7",
		EscrowAmount:     10000,
		PayerAddress:     "payer-addr",
		PayeeAddress:     "payee-addr",
		DepositReference: "dep-1",
	}
}

// deliver walks a fresh hire to delivered through the worker path.
func deliver(t *testing.T, store *buildstore.Store) *build.Build {
	t.Helper()

	job, ok, err := store.ClaimNext(context.Background(), "worker-1")
	if err != nil || !ok {
		t.Fatalf("ClaimNext: ok=%v err=%v", ok, err)
	}
	if _, err := store.StartBuild(context.Background(), job.ID); err != nil {
		t.Fatalf("StartBuild: %v", err)
	}
	if _, err := store.CompleteJob(context.Background(), job.ID, "worker-1", "https://artifacts.example/b1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	record, err := store.GetBuild(context.Background(), job.BuildID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	return record
}

func TestCreateHireLocksEscrow(t *testing.T) {
	b, _, settlement, _ := newBroker(t)
	settlement.AddDeposit("dep-1", 10000)

	record, job, err := b.CreateHire(context.Background(), hireRequest())
	if err != nil {
		t.Fatalf("CreateHire: %v", err)
	}
	if record.Status != build.StatusHired || record.EscrowStatus != build.EscrowLocked {
		t.Fatalf("unexpected build %+v", record)
	}
	if record.DepositRef != "dep-1" {
		t.Fatalf("deposit ref %q", record.DepositRef)
	}
	if job.Status != build.JobPending {
		t.Fatalf("job status %s", job.Status)
	}
}

func TestCreateHireRejectsMissingDeposit(t *testing.T) {
	b, _, _, _ := newBroker(t)

	_, _, err := b.CreateHire(context.Background(), hireRequest())
	var settlementErr *escrow.SettlementError
	if !errors.As(err, &settlementErr) {
		t.Fatalf("expected SettlementError, got %v", err)
	}

	// No build row was written.
	if _, err := b.GetLatestBuild(context.Background(), "req-1"); !errors.Is(err, buildstore.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound, got %v", err)
	}
}

func TestCreateHireRejectsShortDeposit(t *testing.T) {
	b, _, settlement, _ := newBroker(t)
	settlement.AddDeposit("dep-1", 9000)

	_, _, err := b.CreateHire(context.Background(), hireRequest())
	if !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("expected ErrInsufficientDeposit, got %v", err)
	}
	if _, err := b.GetLatestBuild(context.Background(), "req-1"); !errors.Is(err, buildstore.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound, got %v", err)
	}
}

func TestAcceptReleasesEscrow(t *testing.T) {
	b, store, settlement, _ := newBroker(t)
	settlement.AddDeposit("dep-1", 10000)

	if _, _, err := b.CreateHire(context.Background(), hireRequest()); err != nil {
		t.Fatalf("CreateHire: %v", err)
	}
	record := deliver(t, store)

	accepted, err := b.Transition(context.Background(), record.ID, build.StatusAccepted, build.ActorRequester, "")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if accepted.EscrowStatus != build.EscrowReleased {
		t.Fatalf("escrow %s, want released", accepted.EscrowStatus)
	}
	if accepted.AgentPayout == nil || *accepted.AgentPayout != 9800 {
		t.Fatalf("agent payout %v, want 9800", accepted.AgentPayout)
	}
	if accepted.PlatformFee == nil || *accepted.PlatformFee != 200 {
		t.Fatalf("platform fee %v, want 200", accepted.PlatformFee)
	}
	if accepted.ReleaseRef == "" {
		t.Fatal("release receipt missing")
	}
	if len(settlement.Releases) != 1 || settlement.Releases[0].Payee != "payee-addr" {
		t.Fatalf("releases = %+v", settlement.Releases)
	}
}

func TestReleaseFailureRollsBackTransition(t *testing.T) {
	b, store, settlement, _ := newBroker(t)
	settlement.AddDeposit("dep-1", 10000)

	if _, _, err := b.CreateHire(context.Background(), hireRequest()); err != nil {
		t.Fatalf("CreateHire: %v", err)
	}
	record := deliver(t, store)

	settlement.ReleaseErr = errors.New("provider down")
	_, err := b.Transition(context.Background(), record.ID, build.StatusAccepted, build.ActorRequester, "")
	if err == nil {
		t.Fatal("expected release failure")
	}

	got, err := b.GetBuild(context.Background(), record.ID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.Status != build.StatusDelivered || got.EscrowStatus != build.EscrowLocked {
		t.Fatalf("failed release leaked state: %+v", got)
	}

	// The provider recovers; the same transition now succeeds.
	settlement.ReleaseErr = nil
	accepted, err := b.Transition(context.Background(), record.ID, build.StatusAccepted, build.ActorRequester, "")
	if err != nil {
		t.Fatalf("retry Transition: %v", err)
	}
	if accepted.EscrowStatus != build.EscrowReleased {
		t.Fatalf("escrow %s after retry", accepted.EscrowStatus)
	}
}

func TestCancelRefundsEscrow(t *testing.T) {
	b, _, settlement, _ := newBroker(t)
	settlement.AddDeposit("dep-1", 10000)

	record, _, err := b.CreateHire(context.Background(), hireRequest())
	if err != nil {
		t.Fatalf("CreateHire: %v", err)
	}

	cancelled, err := b.Transition(context.Background(), record.ID, build.StatusCancelled, build.ActorRequester, "")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if cancelled.EscrowStatus != build.EscrowRefunded {
		t.Fatalf("escrow %s, want refunded", cancelled.EscrowStatus)
	}
	if cancelled.RefundRef == "" {
		t.Fatal("refund receipt missing")
	}
	if len(settlement.Refunds) != 1 || settlement.Refunds[0].Payer != "payer-addr" {
		t.Fatalf("refunds = %+v", settlement.Refunds)
	}
	if settlement.Refunds[0].Amount != 10000 {
		t.Fatalf("refund amount %d, want full escrow", settlement.Refunds[0].Amount)
	}
}

func TestDisputeFreezesThenPlatformResolves(t *testing.T) {
	b, store, settlement, fakeClock := newBroker(t)
	settlement.AddDeposit("dep-1", 10000)

	if _, _, err := b.CreateHire(context.Background(), hireRequest()); err != nil {
		t.Fatalf("CreateHire: %v", err)
	}
	record := deliver(t, store)

	disputed, err := b.Transition(context.Background(), record.ID, build.StatusDisputed, build.ActorRequester, "artifact does not run")
	if err != nil {
		t.Fatalf("Transition to disputed: %v", err)
	}
	if disputed.EscrowStatus != build.EscrowDisputedHold {
		t.Fatalf("escrow %s, want disputed_hold", disputed.EscrowStatus)
	}
	if disputed.DisputeReason != "artifact does not run" {
		t.Fatalf("dispute reason %q", disputed.DisputeReason)
	}
	if !disputed.DisputeOpenedAt.Equal(fakeClock.Now()) {
		t.Fatalf("dispute opened at %v", disputed.DisputeOpenedAt)
	}
	if len(settlement.Releases)+len(settlement.Refunds) != 0 {
		t.Fatal("freeze moved funds")
	}

	// The requester cannot settle a frozen escrow.
	_, err = b.Transition(context.Background(), record.ID, build.StatusRefunded, build.ActorRequester, "")
	var transitionErr *build.TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}

	// The platform can.
	refunded, err := b.Transition(context.Background(), record.ID, build.StatusRefunded, build.ActorPlatform, "")
	if err != nil {
		t.Fatalf("platform refund: %v", err)
	}
	if refunded.EscrowStatus != build.EscrowRefunded {
		t.Fatalf("escrow %s, want refunded", refunded.EscrowStatus)
	}
	if len(settlement.Refunds) != 1 {
		t.Fatalf("refunds = %+v", settlement.Refunds)
	}
}

func TestArbitrationPathReleasesToAgent(t *testing.T) {
	b, store, settlement, _ := newBroker(t)
	settlement.AddDeposit("dep-1", 10000)

	if _, _, err := b.CreateHire(context.Background(), hireRequest()); err != nil {
		t.Fatalf("CreateHire: %v", err)
	}
	record := deliver(t, store)

	if _, err := b.Transition(context.Background(), record.ID, build.StatusDisputed, build.ActorRequester, "contested"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if _, err := b.Transition(context.Background(), record.ID, build.StatusArbitrationPending, build.ActorPlatform, ""); err != nil {
		t.Fatalf("arbitration: %v", err)
	}

	accepted, err := b.Transition(context.Background(), record.ID, build.StatusAccepted, build.ActorPlatform, "")
	if err != nil {
		t.Fatalf("platform accept: %v", err)
	}
	if accepted.EscrowStatus != build.EscrowReleased {
		t.Fatalf("escrow %s, want released", accepted.EscrowStatus)
	}
	if len(settlement.Releases) != 1 {
		t.Fatalf("releases = %+v", settlement.Releases)
	}
}

func TestRevisionRequestMovesNoMoney(t *testing.T) {
	b, store, settlement, _ := newBroker(t)
	settlement.AddDeposit("dep-1", 10000)

	if _, _, err := b.CreateHire(context.Background(), hireRequest()); err != nil {
		t.Fatalf("CreateHire: %v", err)
	}
	record := deliver(t, store)

	revised, err := b.Transition(context.Background(), record.ID, build.StatusRevisionRequested, build.ActorRequester, "")
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if revised.EscrowStatus != build.EscrowLocked {
		t.Fatalf("escrow %s, want still locked", revised.EscrowStatus)
	}
	if len(settlement.Releases)+len(settlement.Refunds) != 0 {
		t.Fatal("revision request moved funds")
	}

	// The revision put a fresh job in the queue.
	counts, err := store.JobCounts(context.Background())
	if err != nil {
		t.Fatalf("JobCounts: %v", err)
	}
	if counts[build.JobPending] != 1 {
		t.Fatalf("pending jobs = %d, want 1", counts[build.JobPending])
	}
}

func TestDoubleSettlementImpossible(t *testing.T) {
	b, store, settlement, _ := newBroker(t)
	settlement.AddDeposit("dep-1", 10000)

	if _, _, err := b.CreateHire(context.Background(), hireRequest()); err != nil {
		t.Fatalf("CreateHire: %v", err)
	}
	record := deliver(t, store)

	if _, err := b.Transition(context.Background(), record.ID, build.StatusAccepted, build.ActorRequester, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Accepted is terminal: every further transition is rejected, so
	// the released escrow can never move again.
	for _, to := range []build.Status{build.StatusRefunded, build.StatusCancelled, build.StatusAccepted} {
		for _, actor := range []build.Actor{build.ActorRequester, build.ActorAgent, build.ActorPlatform} {
			if _, err := b.Transition(context.Background(), record.ID, to, actor, ""); err == nil {
				t.Fatalf("transition %s by %s succeeded on terminal build", to, actor)
			}
		}
	}
	if len(settlement.Releases) != 1 || len(settlement.Refunds) != 0 {
		t.Fatalf("funds moved twice: releases=%d refunds=%d", len(settlement.Releases), len(settlement.Refunds))
	}
}
