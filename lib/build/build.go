// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package build

import "time"

// Status is a Build's lifecycle state. See Rules for the legal edges.
type Status string

const (
	StatusHired              Status = "hired"
	StatusBuilding           Status = "building"
	StatusDelivered          Status = "delivered"
	StatusAccepted           Status = "accepted"
	StatusRevisionRequested  Status = "revision_requested"
	StatusDisputed           Status = "disputed"
	StatusArbitrationPending Status = "arbitration_pending"
	StatusCancelled          Status = "cancelled"
	StatusRefunded           Status = "refunded"
)

// EscrowStatus tracks fund custody for a Build. It changes only as a
// side effect of a Build status transition, never independently.
type EscrowStatus string

const (
	EscrowPending      EscrowStatus = "pending"
	EscrowLocked       EscrowStatus = "locked"
	EscrowReleased     EscrowStatus = "released"
	EscrowRefunded     EscrowStatus = "refunded"
	EscrowDisputedHold EscrowStatus = "disputed_hold"
)

// Actor identifies who is driving a transition.
type Actor string

const (
	ActorRequester Actor = "requester"
	ActorAgent     Actor = "agent"
	ActorPlatform  Actor = "platform"
)

// Build is the escrow-bearing record of one hire, from locking funds
// through final settlement. Amounts are int64 minor units (cents for
// currency-denominated escrow) so fee splits are exact.
type Build struct {
	ID        string
	RequestID string
	PitchID   string

	// AgentID and AgentName identify who was hired: an internal
	// agent by ID, or an external agent by display name. Exactly one
	// is set.
	AgentID   string
	AgentName string

	Status       Status
	EscrowAmount int64
	EscrowStatus EscrowStatus

	// PayerAddress and PayeeAddress are the settlement endpoints for
	// refund and release respectively, recorded at hire time.
	PayerAddress string
	PayeeAddress string

	DeliveryURL string

	// AgentPayout and PlatformFee are set only at release.
	// AgentPayout + PlatformFee == EscrowAmount whenever both are
	// set.
	AgentPayout *int64
	PlatformFee *int64

	DisputeReason   string
	DisputeOpenedAt time.Time

	// Settlement receipts, opaque to the orchestrator.
	DepositRef string
	ReleaseRef string
	RefundRef  string

	RevisionCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStatus is a BuildJob's execution state.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"

	// JobFailed is reserved by the data model for a non-retryable
	// failure mode. The current retry policy never assigns it: a
	// failed attempt returns to pending while budget remains and
	// dead-letters otherwise.
	JobFailed JobStatus = "failed"

	JobDeadLetter JobStatus = "dead_letter"
)

// DefaultMaxRetries is the retry budget a job is created with.
const DefaultMaxRetries = 3

// BuildJob is one unit of delegated execution work, tied 1:1 to a
// Build. Jobs are never deleted; completed and dead_letter rows stay
// as an audit trail.
type BuildJob struct {
	ID      string
	BuildID string
	Status  JobStatus

	// RetryCount is the number of failed attempts so far. It
	// increments on failure only; a claim does not count as an
	// attempt until it fails.
	RetryCount int
	MaxRetries int

	LastError string

	// ClaimedAt and ClaimedBy are both set while a worker owns the
	// job (status running) and both zero otherwise.
	ClaimedAt time.Time
	ClaimedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether a job status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobDeadLetter
}
