// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package build

import "fmt"

// Rule is one legal edge in the Build lifecycle: who may move a Build
// from one status to another.
type Rule struct {
	From   Status
	To     Status
	Actors []Actor
}

// rules is the entire legal transition graph. It is consulted before
// every Build status mutation anywhere in the system; there is no
// other path to changing a Build's status.
//
// The fund-release edges out of disputed and arbitration_pending are
// platform-only here, and the broker independently refuses to move
// escrow off disputed_hold for any other actor. Both checks must
// agree before frozen funds move.
var rules = []Rule{
	{StatusHired, StatusBuilding, []Actor{ActorAgent}},
	{StatusBuilding, StatusDelivered, []Actor{ActorAgent}},

	{StatusDelivered, StatusAccepted, []Actor{ActorRequester}},
	{StatusDelivered, StatusRevisionRequested, []Actor{ActorRequester}},
	{StatusDelivered, StatusDisputed, []Actor{ActorRequester}},

	{StatusRevisionRequested, StatusBuilding, []Actor{ActorAgent}},

	{StatusDisputed, StatusArbitrationPending, []Actor{ActorPlatform}},
	{StatusDisputed, StatusAccepted, []Actor{ActorPlatform}},
	{StatusDisputed, StatusRefunded, []Actor{ActorPlatform}},

	{StatusArbitrationPending, StatusAccepted, []Actor{ActorPlatform}},
	{StatusArbitrationPending, StatusRefunded, []Actor{ActorPlatform}},

	{StatusHired, StatusCancelled, []Actor{ActorRequester}},
	{StatusBuilding, StatusCancelled, []Actor{ActorRequester}},
}

// TransitionError reports a rejected status transition. It names the
// current status and the attempted target so callers can surface a
// clear reason.
type TransitionError struct {
	BuildID string
	From    Status
	To      Status
	Actor   Actor
	Reason  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("build %s: transition %s → %s by %s rejected: %s",
		e.BuildID, e.From, e.To, e.Actor, e.Reason)
}

// Rules returns a copy of the transition table, for diagnostics.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// CheckTransition returns nil when actor may move a Build with the
// given ID from one status to another, or a *TransitionError naming
// why not. An edge that exists for a different actor is reported as
// an actor mismatch, not a missing edge.
func CheckTransition(buildID string, from, to Status, actor Actor) error {
	var edgeExists bool
	for _, rule := range rules {
		if rule.From != from || rule.To != to {
			continue
		}
		edgeExists = true
		for _, allowed := range rule.Actors {
			if allowed == actor {
				return nil
			}
		}
	}

	if edgeExists {
		return &TransitionError{
			BuildID: buildID,
			From:    from,
			To:      to,
			Actor:   actor,
			Reason:  fmt.Sprintf("actor %s may not drive this edge", actor),
		}
	}
	return &TransitionError{
		BuildID: buildID,
		From:    from,
		To:      to,
		Actor:   actor,
		Reason:  "no such edge in the transition table",
	}
}

// Terminal reports whether a Build status admits no outgoing edges.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Valid reports whether s is a known Build status.
func (s Status) Valid() bool {
	switch s {
	case StatusHired, StatusBuilding, StatusDelivered, StatusAccepted,
		StatusRevisionRequested, StatusDisputed,
		StatusArbitrationPending, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// EscrowEffect describes what a transition does to escrowed funds.
type EscrowEffect int

const (
	// EffectNone moves no money.
	EffectNone EscrowEffect = iota
	// EffectRelease pays the agent and the platform fee out of
	// escrow.
	EffectRelease
	// EffectRefund returns the full escrow to the payer.
	EffectRefund
	// EffectFreeze places the escrow on disputed hold.
	EffectFreeze
)

// TransitionEffect reports the escrow side effect of entering the
// given target status. The table does not encode this; it is a fixed
// property of the target state.
func TransitionEffect(to Status) EscrowEffect {
	switch to {
	case StatusAccepted:
		return EffectRelease
	case StatusCancelled, StatusRefunded:
		return EffectRefund
	case StatusDisputed:
		return EffectFreeze
	}
	return EffectNone
}
