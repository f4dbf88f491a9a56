// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package escrow

import (
	"context"
	"errors"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name       string
		amount     int64
		feeBps     int64
		wantPayout int64
		wantFee    int64
	}{
		{"two percent of 10000", 10000, 200, 9800, 200},
		{"rounds fee down", 9999, 200, 9800, 199},
		{"zero fee", 5000, 0, 5000, 0},
		{"full fee", 5000, 10000, 0, 5000},
		{"one minor unit", 1, 200, 1, 0},
		{"large amount", 123456789, 250, 120370370, 3086419},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			payout, fee := Split(test.amount, test.feeBps)
			if payout != test.wantPayout || fee != test.wantFee {
				t.Fatalf("Split(%d, %d) = (%d, %d), want (%d, %d)",
					test.amount, test.feeBps, payout, fee, test.wantPayout, test.wantFee)
			}
			if payout+fee != test.amount {
				t.Fatalf("payout %d + fee %d != amount %d", payout, fee, test.amount)
			}
		})
	}
}

func TestCoversRequested(t *testing.T) {
	tests := []struct {
		name      string
		got       int64
		want      int64
		tolerance int64
		covers    bool
	}{
		{"exact", 10000, 10000, 0, true},
		{"over", 10050, 10000, 0, true},
		{"short outside tolerance", 9999, 10000, 0, false},
		{"short inside tolerance", 9995, 10000, 10, true},
		{"short at tolerance edge", 9990, 10000, 10, true},
		{"short past tolerance edge", 9989, 10000, 10, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := CoversRequested(test.got, test.want, test.tolerance); got != test.covers {
				t.Fatalf("CoversRequested(%d, %d, %d) = %v, want %v",
					test.got, test.want, test.tolerance, got, test.covers)
			}
		})
	}
}

func TestFakeVerifyDeposit(t *testing.T) {
	fake := NewFake()
	fake.AddDeposit("dep-1", 10000)

	deposit, err := fake.VerifyDeposit(context.Background(), "dep-1", "payer-a", 10000)
	if err != nil {
		t.Fatalf("VerifyDeposit: %v", err)
	}
	if deposit.Amount != 10000 || deposit.Reference != "dep-1" {
		t.Fatalf("unexpected deposit %+v", deposit)
	}

	_, err = fake.VerifyDeposit(context.Background(), "missing", "payer-a", 10000)
	var settlementErr *SettlementError
	if !errors.As(err, &settlementErr) {
		t.Fatalf("expected SettlementError for missing deposit, got %v", err)
	}
	if settlementErr.Op != "verify_deposit" {
		t.Fatalf("Op = %q, want verify_deposit", settlementErr.Op)
	}
}

func TestFakeReleaseSplitsFee(t *testing.T) {
	fake := NewFake()
	payout, err := fake.Release(context.Background(), "agent-addr", 10000)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if payout.AgentAmount != 9800 || payout.Fee != 200 {
		t.Fatalf("payout = %+v, want agent 9800 fee 200", payout)
	}
	if payout.Receipt == "" {
		t.Fatal("expected a receipt")
	}
	if len(fake.Releases) != 1 || fake.Releases[0].Amount != 10000 {
		t.Fatalf("releases = %+v", fake.Releases)
	}
}

func TestFakeInjectedFailures(t *testing.T) {
	fake := NewFake()
	fake.ReleaseErr = errors.New("provider down")
	if _, err := fake.Release(context.Background(), "agent-addr", 100); err == nil {
		t.Fatal("expected release failure")
	}
	if len(fake.Releases) != 0 {
		t.Fatal("failed release must not be recorded")
	}

	fake.RefundErr = errors.New("provider down")
	if _, err := fake.Refund(context.Background(), "payer-a", 100); err == nil {
		t.Fatal("expected refund failure")
	}
	if len(fake.Refunds) != 0 {
		t.Fatal("failed refund must not be recorded")
	}
}

func TestSettlementErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &SettlementError{Op: "release", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("SettlementError should unwrap to the inner error")
	}
}
