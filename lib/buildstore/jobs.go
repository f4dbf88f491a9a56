// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package buildstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/atelier-foundation/atelier/lib/build"
)

// ErrBuildClosed is returned by StartBuild when the job's build has
// reached a state where delivery is no longer possible (cancelled,
// refunded, or otherwise past the building phase).
var ErrBuildClosed = errors.New("buildstore: build closed")

// ClaimNext atomically claims the oldest pending job for a worker.
// The claim is a conditional UPDATE inside an IMMEDIATE transaction,
// so at most one worker ever owns a job. Returns ok=false when no
// pending job exists.
func (s *Store) ClaimNext(ctx context.Context, workerID string) (*build.BuildJob, bool, error) {
	var job *build.BuildJob

	err := s.withImmediate(ctx, func(conn *sqlite.Conn) error {
		var candidateID string
		err := sqlitex.Execute(conn,
			`SELECT id FROM build_jobs
			 WHERE status = ? AND retry_count < max_retries
			 ORDER BY created_at, id LIMIT 1`,
			&sqlitex.ExecOptions{
				Args: []any{string(build.JobPending)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					candidateID = stmt.ColumnText(0)
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("buildstore: select pending job: %w", err)
		}
		if candidateID == "" {
			return nil
		}

		now := s.clock.Now()
		err = sqlitex.Execute(conn,
			`UPDATE build_jobs
			 SET status = ?, claimed_at = ?, claimed_by = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			&sqlitex.ExecOptions{
				Args: []any{
					string(build.JobRunning),
					nanos(now),
					workerID,
					nanos(now),
					candidateID,
					string(build.JobPending),
				},
			})
		if err != nil {
			return fmt.Errorf("buildstore: claim job %s: %w", candidateID, err)
		}
		if conn.Changes() != 1 {
			// The row changed between SELECT and UPDATE. Cannot
			// happen inside an IMMEDIATE transaction, but the guard
			// keeps the claim correct if the transaction mode ever
			// changes.
			return nil
		}

		job, err = getJob(conn, candidateID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, nil
	}

	s.logger.Info("job claimed",
		"job_id", job.ID,
		"build_id", job.BuildID,
		"worker", workerID,
		"retry_count", job.RetryCount,
	)
	return job, true, nil
}

// StartBuild moves a claimed job's build into the building phase.
// A build already building (a retry attempt) is a no-op. If the build
// can no longer be delivered, StartBuild returns ErrBuildClosed and
// the caller should retire the job without running the builder.
func (s *Store) StartBuild(ctx context.Context, jobID string) (*build.Build, error) {
	var record *build.Build

	err := s.withImmediate(ctx, func(conn *sqlite.Conn) error {
		job, err := getJob(conn, jobID)
		if err != nil {
			return err
		}
		record, err = getBuild(conn, job.BuildID)
		if err != nil {
			return err
		}

		switch record.Status {
		case build.StatusBuilding:
			return nil
		case build.StatusHired, build.StatusRevisionRequested:
			if err := build.CheckTransition(record.ID, record.Status, build.StatusBuilding, build.ActorAgent); err != nil {
				return err
			}
			record.Status = build.StatusBuilding
			record.UpdatedAt = s.clock.Now()
			return updateBuild(conn, record)
		default:
			return fmt.Errorf("%w: build %s is %s", ErrBuildClosed, record.ID, record.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// CompleteJob marks a running job completed and, when the build still
// allows it, records the delivery. The claim check makes completion
// idempotent against the reaper: a worker whose claim was already
// requeued loses the race and its result is discarded.
func (s *Store) CompleteJob(ctx context.Context, jobID, workerID, deliveryURL string) (*build.BuildJob, error) {
	var job *build.BuildJob

	err := s.withImmediate(ctx, func(conn *sqlite.Conn) error {
		var err error
		job, err = getJob(conn, jobID)
		if err != nil {
			return err
		}
		if job.Status != build.JobRunning || job.ClaimedBy != workerID {
			s.logger.Warn("stale completion discarded",
				"job_id", jobID,
				"worker", workerID,
				"status", string(job.Status),
				"claimed_by", job.ClaimedBy,
			)
			return nil
		}

		now := s.clock.Now()
		job.Status = build.JobCompleted
		job.ClaimedAt = time.Time{}
		job.ClaimedBy = ""
		job.UpdatedAt = now
		if err := updateJob(conn, job); err != nil {
			return err
		}

		record, err := getBuild(conn, job.BuildID)
		if err != nil {
			return err
		}
		if err := build.CheckTransition(record.ID, record.Status, build.StatusDelivered, build.ActorAgent); err != nil {
			// The build moved on while the job ran (for example the
			// requester cancelled). The job result is recorded but
			// the build keeps its state.
			s.logger.Warn("delivery skipped",
				"build_id", record.ID,
				"status", string(record.Status),
			)
			return nil
		}
		record.Status = build.StatusDelivered
		record.DeliveryURL = deliveryURL
		record.UpdatedAt = now
		return updateBuild(conn, record)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("job completed", "job_id", jobID, "worker", workerID)
	return job, nil
}

// FailJob records a failed attempt. The job returns to pending while
// it has retry budget left and dead-letters otherwise. Like
// CompleteJob, a stale failure (claim already reaped) is discarded.
func (s *Store) FailJob(ctx context.Context, jobID, workerID, cause string) (*build.BuildJob, error) {
	var job *build.BuildJob

	err := s.withImmediate(ctx, func(conn *sqlite.Conn) error {
		var err error
		job, err = getJob(conn, jobID)
		if err != nil {
			return err
		}
		if job.Status != build.JobRunning || job.ClaimedBy != workerID {
			s.logger.Warn("stale failure discarded",
				"job_id", jobID,
				"worker", workerID,
				"status", string(job.Status),
				"claimed_by", job.ClaimedBy,
			)
			return nil
		}

		job.RetryCount++
		job.LastError = cause
		job.ClaimedAt = time.Time{}
		job.ClaimedBy = ""
		job.UpdatedAt = s.clock.Now()
		if job.RetryCount < job.MaxRetries {
			job.Status = build.JobPending
		} else {
			job.Status = build.JobDeadLetter
		}
		return updateJob(conn, job)
	})
	if err != nil {
		return nil, err
	}

	if job.Status == build.JobDeadLetter {
		s.logger.Error("job dead-lettered",
			"job_id", jobID,
			"build_id", job.BuildID,
			"retry_count", job.RetryCount,
			"last_error", cause,
		)
	} else {
		s.logger.Warn("job failed, will retry",
			"job_id", jobID,
			"retry_count", job.RetryCount,
			"last_error", cause,
		)
	}
	return job, nil
}

// RequeueStuck returns running jobs whose claim is older than
// olderThan to pending. An interrupted worker is not a failed
// attempt, so the retry count is untouched. Returns the number of
// jobs requeued.
func (s *Store) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-olderThan)

	var requeued int
	err := s.withImmediate(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE build_jobs
			 SET status = ?, claimed_at = 0, claimed_by = '', updated_at = ?
			 WHERE status = ? AND claimed_at <= ?`,
			&sqlitex.ExecOptions{
				Args: []any{
					string(build.JobPending),
					nanos(s.clock.Now()),
					string(build.JobRunning),
					nanos(cutoff),
				},
			})
		if err != nil {
			return fmt.Errorf("buildstore: requeue stuck jobs: %w", err)
		}
		requeued = conn.Changes()
		return nil
	})
	if err != nil {
		return 0, err
	}

	if requeued > 0 {
		s.logger.Warn("stuck jobs requeued", "count", requeued, "older_than", olderThan.String())
	}
	return requeued, nil
}

// EnqueueJob creates a fresh pending job for an existing build. Used
// when a revision request puts a delivered build back to work.
func (s *Store) EnqueueJob(ctx context.Context, buildID string) (*build.BuildJob, error) {
	now := s.clock.Now()
	job := &build.BuildJob{
		ID:         uuid.NewString(),
		BuildID:    buildID,
		Status:     build.JobPending,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.withImmediate(ctx, func(conn *sqlite.Conn) error {
		if _, err := getBuild(conn, buildID); err != nil {
			return err
		}
		return insertJob(conn, job)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("job enqueued", "job_id", job.ID, "build_id", buildID)
	return job, nil
}

// GetJob returns the job with the given ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*build.BuildJob, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("buildstore: %w", err)
	}
	defer s.pool.Put(conn)

	return getJob(conn, jobID)
}

// JobCounts returns the number of jobs per status, for the service
// status report.
func (s *Store) JobCounts(ctx context.Context) (map[build.JobStatus]int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("buildstore: %w", err)
	}
	defer s.pool.Put(conn)

	counts := make(map[build.JobStatus]int)
	err = sqlitex.Execute(conn,
		"SELECT status, COUNT(*) FROM build_jobs GROUP BY status",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				counts[build.JobStatus(stmt.ColumnText(0))] = stmt.ColumnInt(1)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("buildstore: job counts: %w", err)
	}
	return counts, nil
}

func insertJob(conn *sqlite.Conn, job *build.BuildJob) error {
	err := sqlitex.Execute(conn, `INSERT INTO build_jobs
		(id, build_id, status, retry_count, max_retries, last_error,
		 claimed_at, claimed_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				job.ID,
				job.BuildID,
				string(job.Status),
				job.RetryCount,
				job.MaxRetries,
				job.LastError,
				nanos(job.ClaimedAt),
				job.ClaimedBy,
				nanos(job.CreatedAt),
				nanos(job.UpdatedAt),
			},
		})
	if err != nil {
		return fmt.Errorf("buildstore: insert job %s: %w", job.ID, err)
	}
	return nil
}

func updateJob(conn *sqlite.Conn, job *build.BuildJob) error {
	err := sqlitex.Execute(conn, `UPDATE build_jobs SET
		status = ?, retry_count = ?, last_error = ?,
		claimed_at = ?, claimed_by = ?, updated_at = ?
		WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{
				string(job.Status),
				job.RetryCount,
				job.LastError,
				nanos(job.ClaimedAt),
				job.ClaimedBy,
				nanos(job.UpdatedAt),
				job.ID,
			},
		})
	if err != nil {
		return fmt.Errorf("buildstore: update job %s: %w", job.ID, err)
	}
	return nil
}
