// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atelier-foundation/atelier/lib/broker"
	"github.com/atelier-foundation/atelier/lib/build"
	"github.com/atelier-foundation/atelier/lib/buildstore"
	"github.com/atelier-foundation/atelier/lib/clock"
	"github.com/atelier-foundation/atelier/lib/codec"
	"github.com/atelier-foundation/atelier/lib/config"
	"github.com/atelier-foundation/atelier/lib/service"
)

// brokerService adapts the broker to the socket protocol.
type brokerService struct {
	broker    *broker.Broker
	store     *buildstore.Store
	clock     clock.Clock
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time
}

func newBrokerService(b *broker.Broker, store *buildstore.Store, systemClock clock.Clock, cfg *config.Config, logger *slog.Logger) *brokerService {
	return &brokerService{
		broker:    b,
		store:     store,
		clock:     systemClock,
		cfg:       cfg,
		logger:    logger,
		startedAt: systemClock.Now(),
	}
}

func (s *brokerService) registerActions(server *service.SocketServer) {
	server.Handle("hire", s.handleHire)
	server.Handle("transition", s.handleTransition)
	server.Handle("build", s.handleGetBuild)
	server.Handle("latest_build", s.handleLatestBuild)
	server.Handle("job", s.handleGetJob)
	server.Handle("requeue", s.handleRequeue)
	server.Handle("status", s.handleStatus)
}

// buildView is the wire form of a Build.
type buildView struct {
	ID              string `cbor:"id"`
	RequestID       string `cbor:"request_id"`
	PitchID         string `cbor:"pitch_id"`
	AgentID         string `cbor:"agent_id,omitempty"`
	AgentName       string `cbor:"agent_name,omitempty"`
	Status          string `cbor:"status"`
	EscrowAmount    int64  `cbor:"escrow_amount"`
	EscrowStatus    string `cbor:"escrow_status"`
	DeliveryURL     string `cbor:"delivery_url,omitempty"`
	AgentPayout     *int64 `cbor:"agent_payout,omitempty"`
	PlatformFee     *int64 `cbor:"platform_fee,omitempty"`
	DisputeReason   string `cbor:"dispute_reason,omitempty"`
	DisputeOpenedAt int64  `cbor:"dispute_opened_at,omitempty"`
	DepositRef      string `cbor:"deposit_ref,omitempty"`
	ReleaseRef      string `cbor:"release_ref,omitempty"`
	RefundRef       string `cbor:"refund_ref,omitempty"`
	RevisionCount   int    `cbor:"revision_count"`
	CreatedAt       int64  `cbor:"created_at"`
	UpdatedAt       int64  `cbor:"updated_at"`
}

func viewOfBuild(record *build.Build) buildView {
	view := buildView{
		ID:            record.ID,
		RequestID:     record.RequestID,
		PitchID:       record.PitchID,
		AgentID:       record.AgentID,
		AgentName:     record.AgentName,
		Status:        string(record.Status),
		EscrowAmount:  record.EscrowAmount,
		EscrowStatus:  string(record.EscrowStatus),
		DeliveryURL:   record.DeliveryURL,
		AgentPayout:   record.AgentPayout,
		PlatformFee:   record.PlatformFee,
		DisputeReason: record.DisputeReason,
		DepositRef:    record.DepositRef,
		ReleaseRef:    record.ReleaseRef,
		RefundRef:     record.RefundRef,
		RevisionCount: record.RevisionCount,
		CreatedAt:     record.CreatedAt.UnixNano(),
		UpdatedAt:     record.UpdatedAt.UnixNano(),
	}
	if !record.DisputeOpenedAt.IsZero() {
		view.DisputeOpenedAt = record.DisputeOpenedAt.UnixNano()
	}
	return view
}

// jobView is the wire form of a BuildJob.
type jobView struct {
	ID         string `cbor:"id"`
	BuildID    string `cbor:"build_id"`
	Status     string `cbor:"status"`
	RetryCount int    `cbor:"retry_count"`
	MaxRetries int    `cbor:"max_retries"`
	LastError  string `cbor:"last_error,omitempty"`
	ClaimedBy  string `cbor:"claimed_by,omitempty"`
	ClaimedAt  int64  `cbor:"claimed_at,omitempty"`
	CreatedAt  int64  `cbor:"created_at"`
	UpdatedAt  int64  `cbor:"updated_at"`
}

func viewOfJob(job *build.BuildJob) jobView {
	view := jobView{
		ID:         job.ID,
		BuildID:    job.BuildID,
		Status:     string(job.Status),
		RetryCount: job.RetryCount,
		MaxRetries: job.MaxRetries,
		LastError:  job.LastError,
		ClaimedBy:  job.ClaimedBy,
		CreatedAt:  job.CreatedAt.UnixNano(),
		UpdatedAt:  job.UpdatedAt.UnixNano(),
	}
	if !job.ClaimedAt.IsZero() {
		view.ClaimedAt = job.ClaimedAt.UnixNano()
	}
	return view
}

type hireResponse struct {
	Build buildView `cbor:"build"`
	Job   jobView   `cbor:"job"`
}

func (s *brokerService) handleHire(ctx context.Context, raw []byte) (any, error) {
	var request broker.HireRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid hire request: %w", err)
	}

	record, job, err := s.broker.CreateHire(ctx, request)
	if err != nil {
		return nil, err
	}
	return hireResponse{Build: viewOfBuild(record), Job: viewOfJob(job)}, nil
}

type transitionRequest struct {
	BuildID string `cbor:"build_id"`
	To      string `cbor:"to"`
	Actor   string `cbor:"actor"`
	Reason  string `cbor:"reason,omitempty"`
}

func (s *brokerService) handleTransition(ctx context.Context, raw []byte) (any, error) {
	var request transitionRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid transition request: %w", err)
	}
	if request.BuildID == "" {
		return nil, fmt.Errorf("missing required field: build_id")
	}
	to := build.Status(request.To)
	if !to.Valid() {
		return nil, fmt.Errorf("unknown target status %q", request.To)
	}
	actor := build.Actor(request.Actor)
	switch actor {
	case build.ActorRequester, build.ActorAgent, build.ActorPlatform:
	default:
		return nil, fmt.Errorf("unknown actor %q", request.Actor)
	}

	record, err := s.broker.Transition(ctx, request.BuildID, to, actor, request.Reason)
	if err != nil {
		return nil, err
	}
	return viewOfBuild(record), nil
}

type buildRequest struct {
	BuildID string `cbor:"build_id"`
}

func (s *brokerService) handleGetBuild(ctx context.Context, raw []byte) (any, error) {
	var request buildRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid build request: %w", err)
	}
	if request.BuildID == "" {
		return nil, fmt.Errorf("missing required field: build_id")
	}

	record, err := s.broker.GetBuild(ctx, request.BuildID)
	if err != nil {
		return nil, err
	}
	return viewOfBuild(record), nil
}

type latestBuildRequest struct {
	RequestID string `cbor:"request_id"`
}

func (s *brokerService) handleLatestBuild(ctx context.Context, raw []byte) (any, error) {
	var request latestBuildRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid latest_build request: %w", err)
	}
	if request.RequestID == "" {
		return nil, fmt.Errorf("missing required field: request_id")
	}

	record, err := s.broker.GetLatestBuild(ctx, request.RequestID)
	if err != nil {
		return nil, err
	}
	return viewOfBuild(record), nil
}

type jobRequest struct {
	JobID string `cbor:"job_id"`
}

func (s *brokerService) handleGetJob(ctx context.Context, raw []byte) (any, error) {
	var request jobRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid job request: %w", err)
	}
	if request.JobID == "" {
		return nil, fmt.Errorf("missing required field: job_id")
	}

	job, err := s.store.GetJob(ctx, request.JobID)
	if err != nil {
		return nil, err
	}
	return viewOfJob(job), nil
}

type requeueRequest struct {
	// OlderThan is a Go duration string. Defaults to the configured
	// claim timeout.
	OlderThan string `cbor:"older_than,omitempty"`
}

type requeueResponse struct {
	Requeued int `cbor:"requeued"`
}

func (s *brokerService) handleRequeue(ctx context.Context, raw []byte) (any, error) {
	var request requeueRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid requeue request: %w", err)
	}

	olderThan := config.Duration(s.cfg.Worker.ClaimTimeout, 10*time.Minute)
	if request.OlderThan != "" {
		parsed, err := time.ParseDuration(request.OlderThan)
		if err != nil {
			return nil, fmt.Errorf("invalid older_than: %w", err)
		}
		olderThan = parsed
	}

	requeued, err := s.broker.RequeueStuck(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	return requeueResponse{Requeued: requeued}, nil
}

type statusResponse struct {
	Jobs          map[string]int `cbor:"jobs"`
	UptimeSeconds float64        `cbor:"uptime_seconds"`
}

func (s *brokerService) handleStatus(ctx context.Context, _ []byte) (any, error) {
	counts, err := s.store.JobCounts(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make(map[string]int, len(counts))
	for status, count := range counts {
		jobs[string(status)] = count
	}
	return statusResponse{
		Jobs:          jobs,
		UptimeSeconds: s.clock.Now().Sub(s.startedAt).Seconds(),
	}, nil
}
