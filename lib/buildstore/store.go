// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package buildstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/atelier-foundation/atelier/lib/build"
	"github.com/atelier-foundation/atelier/lib/clock"
	"github.com/atelier-foundation/atelier/lib/sqlitepool"
)

// ErrBuildNotFound is returned when a build ID or request ID matches
// no row.
var ErrBuildNotFound = errors.New("buildstore: build not found")

// ErrJobNotFound is returned when a job ID matches no row.
var ErrJobNotFound = errors.New("buildstore: job not found")

// Config holds the parameters for opening a build store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative.
	PoolSize int

	// Clock provides the current time for row timestamps and claim
	// ages.
	Clock clock.Clock

	// MaxRetries is the failure budget stamped on every job this
	// store creates. Defaults to build.DefaultMaxRetries if zero.
	MaxRetries int

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Store manages SQLite storage for builds and build jobs.
type Store struct {
	pool       *sqlitepool.Pool
	clock      clock.Clock
	maxRetries int
	logger     *slog.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS builds (
		id                TEXT PRIMARY KEY,
		request_id        TEXT NOT NULL,
		pitch_id          TEXT NOT NULL,
		agent_id          TEXT NOT NULL DEFAULT '',
		agent_name        TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		escrow_amount     INTEGER NOT NULL,
		escrow_status     TEXT NOT NULL,
		payer_address     TEXT NOT NULL DEFAULT '',
		payee_address     TEXT NOT NULL DEFAULT '',
		delivery_url      TEXT NOT NULL DEFAULT '',
		agent_payout      INTEGER,
		platform_fee      INTEGER,
		dispute_reason    TEXT NOT NULL DEFAULT '',
		dispute_opened_at INTEGER NOT NULL DEFAULT 0,
		deposit_ref       TEXT NOT NULL DEFAULT '',
		release_ref       TEXT NOT NULL DEFAULT '',
		refund_ref        TEXT NOT NULL DEFAULT '',
		revision_count    INTEGER NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_builds_request ON builds(request_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_builds_status ON builds(status);

	CREATE TABLE IF NOT EXISTS build_jobs (
		id          TEXT PRIMARY KEY,
		build_id    TEXT NOT NULL REFERENCES builds(id),
		status      TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL,
		last_error  TEXT NOT NULL DEFAULT '',
		claimed_at  INTEGER NOT NULL DEFAULT 0,
		claimed_by  TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON build_jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_build ON build_jobs(build_id);
`

// Open creates a build store backed by SQLite. The database file and
// schema are created if they do not exist.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("buildstore: Clock is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = build.DefaultMaxRetries
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("buildstore: %w", err)
	}

	return &Store{pool: pool, clock: cfg.Clock, maxRetries: maxRetries, logger: logger}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// withImmediate runs fn inside an IMMEDIATE transaction on a pooled
// connection. The transaction commits if fn returns nil and rolls
// back otherwise.
func (s *Store) withImmediate(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("buildstore: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("buildstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return fn(conn)
}

// nanos converts a time to the int64 stored in timestamp columns.
// The zero time maps to 0.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// fromNanos is the inverse of nanos.
func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

const buildColumns = `id, request_id, pitch_id, agent_id, agent_name, status,
	escrow_amount, escrow_status, payer_address, payee_address, delivery_url,
	agent_payout, platform_fee, dispute_reason, dispute_opened_at,
	deposit_ref, release_ref, refund_ref, revision_count, created_at, updated_at`

func scanBuild(stmt *sqlite.Stmt) *build.Build {
	record := &build.Build{
		ID:              stmt.ColumnText(0),
		RequestID:       stmt.ColumnText(1),
		PitchID:         stmt.ColumnText(2),
		AgentID:         stmt.ColumnText(3),
		AgentName:       stmt.ColumnText(4),
		Status:          build.Status(stmt.ColumnText(5)),
		EscrowAmount:    stmt.ColumnInt64(6),
		EscrowStatus:    build.EscrowStatus(stmt.ColumnText(7)),
		PayerAddress:    stmt.ColumnText(8),
		PayeeAddress:    stmt.ColumnText(9),
		DeliveryURL:     stmt.ColumnText(10),
		DisputeReason:   stmt.ColumnText(13),
		DisputeOpenedAt: fromNanos(stmt.ColumnInt64(14)),
		DepositRef:      stmt.ColumnText(15),
		ReleaseRef:      stmt.ColumnText(16),
		RefundRef:       stmt.ColumnText(17),
		RevisionCount:   stmt.ColumnInt(18),
		CreatedAt:       fromNanos(stmt.ColumnInt64(19)),
		UpdatedAt:       fromNanos(stmt.ColumnInt64(20)),
	}
	if !stmt.ColumnIsNull(11) {
		payout := stmt.ColumnInt64(11)
		record.AgentPayout = &payout
	}
	if !stmt.ColumnIsNull(12) {
		fee := stmt.ColumnInt64(12)
		record.PlatformFee = &fee
	}
	return record
}

const jobColumns = `id, build_id, status, retry_count, max_retries, last_error,
	claimed_at, claimed_by, created_at, updated_at`

func scanJob(stmt *sqlite.Stmt) *build.BuildJob {
	return &build.BuildJob{
		ID:         stmt.ColumnText(0),
		BuildID:    stmt.ColumnText(1),
		Status:     build.JobStatus(stmt.ColumnText(2)),
		RetryCount: stmt.ColumnInt(3),
		MaxRetries: stmt.ColumnInt(4),
		LastError:  stmt.ColumnText(5),
		ClaimedAt:  fromNanos(stmt.ColumnInt64(6)),
		ClaimedBy:  stmt.ColumnText(7),
		CreatedAt:  fromNanos(stmt.ColumnInt64(8)),
		UpdatedAt:  fromNanos(stmt.ColumnInt64(9)),
	}
}

// getBuild reads one build row on an existing connection.
func getBuild(conn *sqlite.Conn, buildID string) (*build.Build, error) {
	var record *build.Build
	err := sqlitex.Execute(conn,
		"SELECT "+buildColumns+" FROM builds WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{buildID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record = scanBuild(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("buildstore: get build %s: %w", buildID, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	return record, nil
}

// getJob reads one job row on an existing connection.
func getJob(conn *sqlite.Conn, jobID string) (*build.BuildJob, error) {
	var job *build.BuildJob
	err := sqlitex.Execute(conn,
		"SELECT "+jobColumns+" FROM build_jobs WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				job = scanJob(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("buildstore: get job %s: %w", jobID, err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}
