// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package escrow

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Settlement for tests. Deposits are registered
// up front with AddDeposit; releases and refunds record every call so
// tests can assert on fund movement. Any operation can be forced to
// fail by setting the corresponding error field.
type Fake struct {
	mu       sync.Mutex
	deposits map[string]Deposit
	receipts int

	// Releases and Refunds record successful calls in order.
	Releases []FakeRelease
	Refunds  []FakeRefund

	// VerifyErr, ReleaseErr and RefundErr, when non-nil, fail the
	// corresponding operation.
	VerifyErr  error
	ReleaseErr error
	RefundErr  error

	// FeeBasisPoints is the fee charged on release. Defaults to
	// DefaultFeeBasisPoints when zero.
	FeeBasisPoints int64
}

// FakeRelease records one Release call.
type FakeRelease struct {
	Payee  string
	Amount int64
}

// FakeRefund records one Refund call.
type FakeRefund struct {
	Payer  string
	Amount int64
}

// NewFake returns an empty fake settlement provider.
func NewFake() *Fake {
	return &Fake{deposits: make(map[string]Deposit)}
}

// AddDeposit registers a deposit so VerifyDeposit can find it.
func (f *Fake) AddDeposit(reference string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits[reference] = Deposit{Reference: reference, Amount: amount}
}

// VerifyDeposit implements Settlement.
func (f *Fake) VerifyDeposit(ctx context.Context, reference, payer string, expected int64) (Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.VerifyErr != nil {
		return Deposit{}, &SettlementError{Op: "verify_deposit", Err: f.VerifyErr}
	}
	deposit, ok := f.deposits[reference]
	if !ok {
		return Deposit{}, &SettlementError{
			Op:  "verify_deposit",
			Err: fmt.Errorf("no deposit with reference %q", reference),
		}
	}
	return deposit, nil
}

// Release implements Settlement.
func (f *Fake) Release(ctx context.Context, payee string, amount int64) (Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReleaseErr != nil {
		return Payout{}, &SettlementError{Op: "release", Err: f.ReleaseErr}
	}
	feeBps := f.FeeBasisPoints
	if feeBps == 0 {
		feeBps = DefaultFeeBasisPoints
	}
	payout, fee := Split(amount, feeBps)
	f.Releases = append(f.Releases, FakeRelease{Payee: payee, Amount: amount})
	f.receipts++
	return Payout{
		AgentAmount: payout,
		Fee:         fee,
		Receipt:     fmt.Sprintf("release-%04d", f.receipts),
	}, nil
}

// Refund implements Settlement.
func (f *Fake) Refund(ctx context.Context, payer string, amount int64) (Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return Refund{}, &SettlementError{Op: "refund", Err: f.RefundErr}
	}
	f.Refunds = append(f.Refunds, FakeRefund{Payer: payer, Amount: amount})
	f.receipts++
	return Refund{Receipt: fmt.Sprintf("refund-%04d", f.receipts)}, nil
}
