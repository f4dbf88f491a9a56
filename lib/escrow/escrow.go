// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package escrow

import (
	"context"
	"fmt"
)

// DefaultFeeBasisPoints is the platform fee applied at release: 2% of
// the escrow to the platform, 98% to the agent.
const DefaultFeeBasisPoints = 200

// Deposit is the result of a successful deposit verification.
type Deposit struct {
	// Reference is the deposit reference that was verified.
	Reference string

	// Amount is the amount actually on deposit, in minor units. The
	// caller decides whether it covers the requested escrow.
	Amount int64
}

// Payout is the result of a successful release.
type Payout struct {
	// AgentAmount is what the payee received, in minor units.
	AgentAmount int64

	// Fee is the platform's share, in minor units.
	Fee int64

	// Receipt is the settlement collaborator's opaque receipt.
	Receipt string
}

// Refund is the result of a successful refund.
type Refund struct {
	// Receipt is the settlement collaborator's opaque receipt.
	Receipt string
}

// Settlement is the external collaborator that moves funds. All
// operations are remote and may fail transiently; a failure must
// leave the caller free to retry, so implementations never partially
// apply an operation.
type Settlement interface {
	// VerifyDeposit confirms that the payer has placed at least
	// expected minor units on deposit under the given reference.
	// Returns the observed deposit, or an error naming why it could
	// not be verified.
	VerifyDeposit(ctx context.Context, reference, payer string, expected int64) (Deposit, error)

	// Release pays amount out of escrow: the platform fee is
	// deducted and the remainder goes to payee. Returns the exact
	// split and a receipt.
	Release(ctx context.Context, payee string, amount int64) (Payout, error)

	// Refund returns the full amount to the payer.
	Refund(ctx context.Context, payer string, amount int64) (Refund, error)
}

// SettlementError wraps a failed settlement call. Build status is
// never advanced past a SettlementError; the caller retries the
// whole action.
type SettlementError struct {
	// Op is the settlement operation that failed: "verify_deposit",
	// "release", or "refund".
	Op  string
	Err error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement %s failed: %v", e.Op, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Split divides amount between payee and platform at the given fee
// rate. The fee rounds down, so the payee receives any odd minor
// unit; payout + fee == amount always.
func Split(amount, feeBasisPoints int64) (payout, fee int64) {
	fee = amount * feeBasisPoints / 10000
	return amount - fee, fee
}

// CoversRequested reports whether an observed deposit of got minor
// units satisfies a requested escrow of want, allowing a shortfall of
// up to tolerance minor units.
func CoversRequested(got, want, tolerance int64) bool {
	return got >= want-tolerance
}
