// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package buildstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/atelier-foundation/atelier/lib/build"
)

// CreateHire inserts a new build together with its first pending job,
// atomically. The record must carry an ID, a locked escrow amount,
// and the settlement addresses; CreateHire fills in the timestamps.
// Returns the created job.
func (s *Store) CreateHire(ctx context.Context, record *build.Build) (*build.BuildJob, error) {
	if record.ID == "" {
		return nil, fmt.Errorf("buildstore: create hire: build ID is required")
	}
	if record.AgentID == "" && record.AgentName == "" {
		return nil, fmt.Errorf("buildstore: create hire: agent identity is required")
	}
	if record.AgentID != "" && record.AgentName != "" {
		return nil, fmt.Errorf("buildstore: create hire: agent ID and agent name are mutually exclusive")
	}

	now := s.clock.Now()
	record.CreatedAt = now
	record.UpdatedAt = now

	job := &build.BuildJob{
		ID:         uuid.NewString(),
		BuildID:    record.ID,
		Status:     build.JobPending,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.withImmediate(ctx, func(conn *sqlite.Conn) error {
		if err := insertBuild(conn, record); err != nil {
			return err
		}
		return insertJob(conn, job)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("hire created",
		"build_id", record.ID,
		"request_id", record.RequestID,
		"job_id", job.ID,
		"escrow_amount", record.EscrowAmount,
	)
	return job, nil
}

// GetBuild returns the build with the given ID.
func (s *Store) GetBuild(ctx context.Context, buildID string) (*build.Build, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("buildstore: %w", err)
	}
	defer s.pool.Put(conn)

	return getBuild(conn, buildID)
}

// GetLatestBuild returns the most recently created build for a
// request. A request accumulates one build per hire.
func (s *Store) GetLatestBuild(ctx context.Context, requestID string) (*build.Build, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("buildstore: %w", err)
	}
	defer s.pool.Put(conn)

	var record *build.Build
	err = sqlitex.Execute(conn,
		"SELECT "+buildColumns+" FROM builds WHERE request_id = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		&sqlitex.ExecOptions{
			Args: []any{requestID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record = scanBuild(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("buildstore: latest build for request %s: %w", requestID, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: request %s", ErrBuildNotFound, requestID)
	}
	return record, nil
}

// Transition applies a status change to a build under one write
// transaction. The current record is read while holding the write
// lock, validated against the transition table for the given actor,
// and then handed to apply. The apply callback mutates settlement
// fields (escrow status, payout split, receipts, dispute details) on
// the record; if it returns an error the transaction rolls back and
// the build is unchanged. The updated record is returned.
//
// Callers that move funds do so inside apply, so a settlement failure
// never leaves the build transitioned without its escrow effect.
//
// A transition into revision_requested also enqueues a fresh pending
// job in the same transaction, so a revision never exists without the
// work that will satisfy it.
func (s *Store) Transition(ctx context.Context, buildID string, to build.Status, actor build.Actor, apply func(record *build.Build) error) (*build.Build, error) {
	var updated *build.Build

	err := s.withImmediate(ctx, func(conn *sqlite.Conn) error {
		record, err := getBuild(conn, buildID)
		if err != nil {
			return err
		}

		if err := build.CheckTransition(buildID, record.Status, to, actor); err != nil {
			return err
		}

		now := s.clock.Now()
		record.Status = to
		record.UpdatedAt = now

		if apply != nil {
			if err := apply(record); err != nil {
				return err
			}
		}

		if to == build.StatusRevisionRequested {
			record.RevisionCount++
			job := &build.BuildJob{
				ID:         uuid.NewString(),
				BuildID:    record.ID,
				Status:     build.JobPending,
				MaxRetries: s.maxRetries,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := insertJob(conn, job); err != nil {
				return err
			}
		}

		if err := updateBuild(conn, record); err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("build transitioned",
		"build_id", buildID,
		"to", string(updated.Status),
		"actor", string(actor),
		"escrow_status", string(updated.EscrowStatus),
	)
	return updated, nil
}

func insertBuild(conn *sqlite.Conn, record *build.Build) error {
	var agentPayout, platformFee any
	if record.AgentPayout != nil {
		agentPayout = *record.AgentPayout
	}
	if record.PlatformFee != nil {
		platformFee = *record.PlatformFee
	}

	err := sqlitex.Execute(conn, `INSERT INTO builds
		(id, request_id, pitch_id, agent_id, agent_name, status,
		 escrow_amount, escrow_status, payer_address, payee_address,
		 delivery_url, agent_payout, platform_fee, dispute_reason,
		 dispute_opened_at, deposit_ref, release_ref, refund_ref,
		 revision_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				record.ID,
				record.RequestID,
				record.PitchID,
				record.AgentID,
				record.AgentName,
				string(record.Status),
				record.EscrowAmount,
				string(record.EscrowStatus),
				record.PayerAddress,
				record.PayeeAddress,
				record.DeliveryURL,
				agentPayout,
				platformFee,
				record.DisputeReason,
				nanos(record.DisputeOpenedAt),
				record.DepositRef,
				record.ReleaseRef,
				record.RefundRef,
				record.RevisionCount,
				nanos(record.CreatedAt),
				nanos(record.UpdatedAt),
			},
		})
	if err != nil {
		return fmt.Errorf("buildstore: insert build %s: %w", record.ID, err)
	}
	return nil
}

func updateBuild(conn *sqlite.Conn, record *build.Build) error {
	var agentPayout, platformFee any
	if record.AgentPayout != nil {
		agentPayout = *record.AgentPayout
	}
	if record.PlatformFee != nil {
		platformFee = *record.PlatformFee
	}

	err := sqlitex.Execute(conn, `UPDATE builds SET
		status = ?, escrow_status = ?, delivery_url = ?,
		agent_payout = ?, platform_fee = ?, dispute_reason = ?,
		dispute_opened_at = ?, deposit_ref = ?, release_ref = ?,
		refund_ref = ?, revision_count = ?, updated_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(record.Status),
				string(record.EscrowStatus),
				record.DeliveryURL,
				agentPayout,
				platformFee,
				record.DisputeReason,
				nanos(record.DisputeOpenedAt),
				record.DepositRef,
				record.ReleaseRef,
				record.RefundRef,
				record.RevisionCount,
				nanos(record.UpdatedAt),
				record.ID,
			},
		})
	if err != nil {
		return fmt.Errorf("buildstore: update build %s: %w", record.ID, err)
	}
	return nil
}
