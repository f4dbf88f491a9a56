// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/atelier-foundation/atelier/lib/codec"
	"github.com/atelier-foundation/atelier/lib/escrow"
	"github.com/atelier-foundation/atelier/lib/service"
)

// provider is the in-memory settlement ledger behind the mock's socket
// actions.
type provider struct {
	mu          sync.Mutex
	deposits    map[string]int64
	receipts    int
	feeBps      int64
	failActions map[string]bool
	logger      *slog.Logger
}

func newProvider(feeBps int64, logger *slog.Logger) *provider {
	return &provider{
		deposits:    make(map[string]int64),
		feeBps:      feeBps,
		failActions: make(map[string]bool),
		logger:      logger,
	}
}

func (p *provider) registerActions(server *service.SocketServer) {
	server.Handle("verify_deposit", p.handleVerifyDeposit)
	server.Handle("release", p.handleRelease)
	server.Handle("refund", p.handleRefund)
	server.Handle("add_deposit", p.handleAddDeposit)
}

func (p *provider) addDeposit(reference string, amount int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deposits[reference] = amount
}

// nextReceipt issues a deterministic receipt id. Callers must hold mu.
func (p *provider) nextReceipt(kind string) string {
	p.receipts++
	return fmt.Sprintf("%s-%04d", kind, p.receipts)
}

func (p *provider) checkFail(action string) error {
	if p.failActions[action] {
		return fmt.Errorf("%s: injected failure", action)
	}
	return nil
}

type verifyDepositRequest struct {
	Reference string `cbor:"reference"`
	Payer     string `cbor:"payer"`
	Expected  int64  `cbor:"expected"`
}

type verifyDepositResponse struct {
	Reference string `cbor:"reference"`
	Amount    int64  `cbor:"amount"`
}

func (p *provider) handleVerifyDeposit(_ context.Context, raw []byte) (any, error) {
	if err := p.checkFail("verify_deposit"); err != nil {
		return nil, err
	}
	var request verifyDepositRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid verify_deposit request: %w", err)
	}
	if request.Reference == "" {
		return nil, fmt.Errorf("missing required field: reference")
	}

	p.mu.Lock()
	amount, ok := p.deposits[request.Reference]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no deposit on record for reference %q", request.Reference)
	}

	p.logger.Info("deposit verified",
		"reference", request.Reference,
		"payer", request.Payer,
		"amount", amount,
		"expected", request.Expected,
	)
	return verifyDepositResponse{Reference: request.Reference, Amount: amount}, nil
}

type releaseRequest struct {
	Payee  string `cbor:"payee"`
	Amount int64  `cbor:"amount"`
}

type releaseResponse struct {
	AgentAmount int64  `cbor:"agent_amount"`
	Fee         int64  `cbor:"fee"`
	Receipt     string `cbor:"receipt"`
}

func (p *provider) handleRelease(_ context.Context, raw []byte) (any, error) {
	if err := p.checkFail("release"); err != nil {
		return nil, err
	}
	var request releaseRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid release request: %w", err)
	}
	if request.Payee == "" {
		return nil, fmt.Errorf("missing required field: payee")
	}
	if request.Amount <= 0 {
		return nil, fmt.Errorf("release amount must be positive, got %d", request.Amount)
	}

	payout, fee := escrow.Split(request.Amount, p.feeBps)

	p.mu.Lock()
	receipt := p.nextReceipt("release")
	p.mu.Unlock()

	p.logger.Info("escrow released",
		"payee", request.Payee,
		"agent_amount", payout,
		"fee", fee,
		"receipt", receipt,
	)
	return releaseResponse{AgentAmount: payout, Fee: fee, Receipt: receipt}, nil
}

type refundRequest struct {
	Payer  string `cbor:"payer"`
	Amount int64  `cbor:"amount"`
}

type refundResponse struct {
	Receipt string `cbor:"receipt"`
}

func (p *provider) handleRefund(_ context.Context, raw []byte) (any, error) {
	if err := p.checkFail("refund"); err != nil {
		return nil, err
	}
	var request refundRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid refund request: %w", err)
	}
	if request.Payer == "" {
		return nil, fmt.Errorf("missing required field: payer")
	}
	if request.Amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive, got %d", request.Amount)
	}

	p.mu.Lock()
	receipt := p.nextReceipt("refund")
	p.mu.Unlock()

	p.logger.Info("escrow refunded",
		"payer", request.Payer,
		"amount", request.Amount,
		"receipt", receipt,
	)
	return refundResponse{Receipt: receipt}, nil
}

type addDepositRequest struct {
	Reference string `cbor:"reference"`
	Amount    int64  `cbor:"amount"`
}

func (p *provider) handleAddDeposit(_ context.Context, raw []byte) (any, error) {
	var request addDepositRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid add_deposit request: %w", err)
	}
	if request.Reference == "" {
		return nil, fmt.Errorf("missing required field: reference")
	}
	if request.Amount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive, got %d", request.Amount)
	}

	p.addDeposit(request.Reference, request.Amount)
	p.logger.Info("deposit recorded", "reference", request.Reference, "amount", request.Amount)
	return verifyDepositResponse{Reference: request.Reference, Amount: request.Amount}, nil
}

// depositFlags collects repeated --deposit ref=amount flags.
type depositFlags struct {
	entries map[string]int64
}

func (d *depositFlags) String() string {
	parts := make([]string, 0, len(d.entries))
	for reference, amount := range d.entries {
		parts = append(parts, fmt.Sprintf("%s=%d", reference, amount))
	}
	return strings.Join(parts, ",")
}

func (d *depositFlags) Set(value string) error {
	reference, amountText, ok := strings.Cut(value, "=")
	if !ok || reference == "" {
		return fmt.Errorf("deposit must be ref=amount, got %q", value)
	}
	amount, err := strconv.ParseInt(amountText, 10, 64)
	if err != nil {
		return fmt.Errorf("deposit amount %q: %w", amountText, err)
	}
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", amount)
	}
	if d.entries == nil {
		d.entries = make(map[string]int64)
	}
	d.entries[reference] = amount
	return nil
}
