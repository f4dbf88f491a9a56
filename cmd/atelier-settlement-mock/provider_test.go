// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/atelier-foundation/atelier/lib/codec"
	"github.com/atelier-foundation/atelier/lib/escrow"
)

func newTestProvider(t *testing.T) *provider {
	t.Helper()
	return newProvider(escrow.DefaultFeeBasisPoints, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func encode(t *testing.T, value any) []byte {
	t.Helper()
	raw, err := codec.Marshal(value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestVerifyDeposit(t *testing.T) {
	p := newTestProvider(t)
	p.addDeposit("dep-1", 10000)

	result, err := p.handleVerifyDeposit(context.Background(), encode(t, verifyDepositRequest{
		Reference: "dep-1",
		Payer:     "payer-addr",
		Expected:  10000,
	}))
	if err != nil {
		t.Fatalf("verify_deposit: %v", err)
	}
	response := result.(verifyDepositResponse)
	if response.Reference != "dep-1" || response.Amount != 10000 {
		t.Fatalf("unexpected response %+v", response)
	}
}

func TestVerifyDepositUnknownReference(t *testing.T) {
	p := newTestProvider(t)

	_, err := p.handleVerifyDeposit(context.Background(), encode(t, verifyDepositRequest{
		Reference: "missing",
	}))
	if err == nil {
		t.Fatal("expected error for unknown deposit reference")
	}
}

func TestReleaseSplitsFee(t *testing.T) {
	p := newTestProvider(t)

	result, err := p.handleRelease(context.Background(), encode(t, releaseRequest{
		Payee:  "payee-addr",
		Amount: 10000,
	}))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	response := result.(releaseResponse)
	if response.AgentAmount != 9800 || response.Fee != 200 {
		t.Fatalf("expected 9800/200 split, got %d/%d", response.AgentAmount, response.Fee)
	}
	if response.AgentAmount+response.Fee != 10000 {
		t.Fatalf("split does not sum to the amount: %d + %d", response.AgentAmount, response.Fee)
	}
	if response.Receipt != "release-0001" {
		t.Fatalf("expected receipt release-0001, got %q", response.Receipt)
	}
}

func TestRefundIssuesReceipt(t *testing.T) {
	p := newTestProvider(t)

	result, err := p.handleRefund(context.Background(), encode(t, refundRequest{
		Payer:  "payer-addr",
		Amount: 5000,
	}))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	response := result.(refundResponse)
	if response.Receipt != "refund-0001" {
		t.Fatalf("expected receipt refund-0001, got %q", response.Receipt)
	}
}

func TestReceiptCounterIsShared(t *testing.T) {
	p := newTestProvider(t)

	if _, err := p.handleRelease(context.Background(), encode(t, releaseRequest{Payee: "a", Amount: 100})); err != nil {
		t.Fatalf("release: %v", err)
	}
	result, err := p.handleRefund(context.Background(), encode(t, refundRequest{Payer: "b", Amount: 100}))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if receipt := result.(refundResponse).Receipt; receipt != "refund-0002" {
		t.Fatalf("expected refund-0002, got %q", receipt)
	}
}

func TestInjectedFailure(t *testing.T) {
	p := newTestProvider(t)
	p.failActions["release"] = true

	_, err := p.handleRelease(context.Background(), encode(t, releaseRequest{Payee: "a", Amount: 100}))
	if err == nil || !strings.Contains(err.Error(), "injected failure") {
		t.Fatalf("expected injected failure, got %v", err)
	}
}

func TestAddDepositAction(t *testing.T) {
	p := newTestProvider(t)

	if _, err := p.handleAddDeposit(context.Background(), encode(t, addDepositRequest{
		Reference: "dep-2",
		Amount:    750,
	})); err != nil {
		t.Fatalf("add_deposit: %v", err)
	}

	result, err := p.handleVerifyDeposit(context.Background(), encode(t, verifyDepositRequest{
		Reference: "dep-2",
	}))
	if err != nil {
		t.Fatalf("verify_deposit after add: %v", err)
	}
	if amount := result.(verifyDepositResponse).Amount; amount != 750 {
		t.Fatalf("expected amount 750, got %d", amount)
	}
}

func TestDepositFlags(t *testing.T) {
	var flags depositFlags
	if err := flags.Set("dep-1=10000"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if flags.entries["dep-1"] != 10000 {
		t.Fatalf("expected dep-1=10000, got %v", flags.entries)
	}
	for _, bad := range []string{"no-equals", "=100", "dep-2=abc", "dep-3=-5"} {
		if err := flags.Set(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
