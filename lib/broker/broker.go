// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-foundation/atelier/lib/build"
	"github.com/atelier-foundation/atelier/lib/buildstore"
	"github.com/atelier-foundation/atelier/lib/clock"
	"github.com/atelier-foundation/atelier/lib/escrow"
)

// ErrInsufficientDeposit is returned by CreateHire when the verified
// deposit does not cover the requested escrow amount.
var ErrInsufficientDeposit = errors.New("broker: deposit does not cover requested escrow")

// ErrEscrowState is returned when a transition would move funds but
// the escrow is not in a state that allows it.
var ErrEscrowState = errors.New("broker: escrow state does not allow fund movement")

// Config holds the collaborators and tunables for a Broker.
type Config struct {
	// Store is the durable build and job store. Required.
	Store *buildstore.Store

	// Settlement moves real funds. Required.
	Settlement escrow.Settlement

	// Clock provides dispute timestamps. Required.
	Clock clock.Clock

	// FeeBasisPoints is the platform fee taken on release. Defaults
	// to escrow.DefaultFeeBasisPoints if zero.
	FeeBasisPoints int64

	// DepositTolerance is the acceptable shortfall, in minor units,
	// between a verified deposit and the requested escrow.
	DepositTolerance int64

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Broker owns the escrow-coupled operations on builds. All state
// changes go through the store's transition table; the broker adds
// the money side.
type Broker struct {
	store            *buildstore.Store
	settlement       escrow.Settlement
	clock            clock.Clock
	feeBasisPoints   int64
	depositTolerance int64
	logger           *slog.Logger
}

// New validates the configuration and returns a Broker.
func New(cfg Config) (*Broker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("broker: Store is required")
	}
	if cfg.Settlement == nil {
		return nil, fmt.Errorf("broker: Settlement is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("broker: Clock is required")
	}

	feeBasisPoints := cfg.FeeBasisPoints
	if feeBasisPoints == 0 {
		feeBasisPoints = escrow.DefaultFeeBasisPoints
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Broker{
		store:            cfg.Store,
		settlement:       cfg.Settlement,
		clock:            cfg.Clock,
		feeBasisPoints:   feeBasisPoints,
		depositTolerance: cfg.DepositTolerance,
		logger:           logger,
	}, nil
}

// HireRequest carries everything needed to open a build with locked
// escrow.
type HireRequest struct {
	RequestID string `cbor:"request_id"`
	PitchID   string `cbor:"pitch_id"`

	// AgentID or AgentName identifies who is hired. Exactly one must
	// be set.
	AgentID   string `cbor:"agent_id,omitempty"`
	AgentName string `cbor:"agent_name,omitempty"`

	// EscrowAmount is the price in minor units.
	EscrowAmount int64 `cbor:"escrow_amount"`

	// PayerAddress and PayeeAddress are the settlement endpoints.
	PayerAddress string `cbor:"payer_address"`
	PayeeAddress string `cbor:"payee_address"`

	// DepositReference is the payer's claimed deposit, verified with
	// the settlement provider before any row is written.
	DepositReference string `cbor:"deposit_reference"`
}

// CreateHire verifies the deposit, then atomically creates the build
// (hired, escrow locked) and its first pending job. No build exists
// unless funds are locked: a failed or short deposit aborts before
// any write.
func (b *Broker) CreateHire(ctx context.Context, req HireRequest) (*build.Build, *build.BuildJob, error) {
	if req.RequestID == "" {
		return nil, nil, fmt.Errorf("broker: create hire: request ID is required")
	}
	if req.EscrowAmount <= 0 {
		return nil, nil, fmt.Errorf("broker: create hire: escrow amount must be positive")
	}
	if req.DepositReference == "" {
		return nil, nil, fmt.Errorf("broker: create hire: deposit reference is required")
	}
	if req.PayerAddress == "" || req.PayeeAddress == "" {
		return nil, nil, fmt.Errorf("broker: create hire: payer and payee addresses are required")
	}

	deposit, err := b.settlement.VerifyDeposit(ctx, req.DepositReference, req.PayerAddress, req.EscrowAmount)
	if err != nil {
		return nil, nil, fmt.Errorf("broker: create hire: %w", err)
	}
	if !escrow.CoversRequested(deposit.Amount, req.EscrowAmount, b.depositTolerance) {
		return nil, nil, fmt.Errorf("%w: deposit %d, requested %d",
			ErrInsufficientDeposit, deposit.Amount, req.EscrowAmount)
	}

	record := &build.Build{
		ID:           uuid.NewString(),
		RequestID:    req.RequestID,
		PitchID:      req.PitchID,
		AgentID:      req.AgentID,
		AgentName:    req.AgentName,
		Status:       build.StatusHired,
		EscrowAmount: req.EscrowAmount,
		EscrowStatus: build.EscrowLocked,
		PayerAddress: req.PayerAddress,
		PayeeAddress: req.PayeeAddress,
		DepositRef:   deposit.Reference,
	}

	job, err := b.store.CreateHire(ctx, record)
	if err != nil {
		return nil, nil, err
	}

	b.logger.Info("hire opened",
		"build_id", record.ID,
		"request_id", req.RequestID,
		"escrow_amount", req.EscrowAmount,
		"deposit_ref", deposit.Reference,
	)
	return record, job, nil
}

// Transition drives a build along one edge of the lifecycle and
// performs the escrow effect of the target state. The settlement call
// happens inside the store's write transaction: if the provider
// fails, the transaction rolls back and the build keeps both its
// status and its funds.
//
// Reason is recorded on dispute-opening transitions and ignored
// otherwise.
func (b *Broker) Transition(ctx context.Context, buildID string, to build.Status, actor build.Actor, reason string) (*build.Build, error) {
	return b.store.Transition(ctx, buildID, to, actor, func(record *build.Build) error {
		switch build.TransitionEffect(to) {
		case build.EffectRelease:
			if err := b.checkFundMovement(record, actor); err != nil {
				return err
			}
			payout, err := b.settlement.Release(ctx, record.PayeeAddress, record.EscrowAmount)
			if err != nil {
				return err
			}
			record.AgentPayout = &payout.AgentAmount
			record.PlatformFee = &payout.Fee
			record.ReleaseRef = payout.Receipt
			record.EscrowStatus = build.EscrowReleased

		case build.EffectRefund:
			if err := b.checkFundMovement(record, actor); err != nil {
				return err
			}
			refund, err := b.settlement.Refund(ctx, record.PayerAddress, record.EscrowAmount)
			if err != nil {
				return err
			}
			record.RefundRef = refund.Receipt
			record.EscrowStatus = build.EscrowRefunded

		case build.EffectFreeze:
			if record.EscrowStatus != build.EscrowLocked {
				return fmt.Errorf("%w: build %s escrow is %s, cannot freeze",
					ErrEscrowState, record.ID, record.EscrowStatus)
			}
			record.EscrowStatus = build.EscrowDisputedHold
			record.DisputeReason = reason
			record.DisputeOpenedAt = b.clock.Now()
		}
		return nil
	})
}

// checkFundMovement guards release and refund. Funds move only out of
// locked or disputed_hold escrow, and moving them off a disputed hold
// is a platform decision. The transition table already restricts
// those edges to the platform; this check is deliberately redundant
// so a future table edit cannot silently let another actor move
// frozen funds.
func (b *Broker) checkFundMovement(record *build.Build, actor build.Actor) error {
	switch record.EscrowStatus {
	case build.EscrowLocked:
		return nil
	case build.EscrowDisputedHold:
		if actor != build.ActorPlatform {
			return fmt.Errorf("%w: build %s escrow is on disputed hold, only the platform may settle it",
				ErrEscrowState, record.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: build %s escrow is %s",
			ErrEscrowState, record.ID, record.EscrowStatus)
	}
}

// GetBuild returns one build by ID.
func (b *Broker) GetBuild(ctx context.Context, buildID string) (*build.Build, error) {
	return b.store.GetBuild(ctx, buildID)
}

// GetLatestBuild returns the most recent build for a request.
func (b *Broker) GetLatestBuild(ctx context.Context, requestID string) (*build.Build, error) {
	return b.store.GetLatestBuild(ctx, requestID)
}

// RequeueStuck sweeps abandoned jobs back to pending. Exposed for the
// operator CLI; the reaper calls the store directly.
func (b *Broker) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	return b.store.RequeueStuck(ctx, olderThan)
}
