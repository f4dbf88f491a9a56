// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package escrow

import (
	"context"
	"time"

	"github.com/atelier-foundation/atelier/lib/service"
)

// Client is a Settlement backed by a settlement service speaking the
// Atelier socket protocol (for example atelier-settlement-mock in
// development). Every call is bounded by CallTimeout so a hung
// settlement service cannot pin the broker's write transaction.
type Client struct {
	// SocketPath is the settlement service's Unix socket.
	SocketPath string

	// CallTimeout bounds each settlement call. Defaults to 5s, which
	// stays inside the SQLite busy timeout other writers wait on.
	CallTimeout time.Duration
}

func (c *Client) timeout() time.Duration {
	if c.CallTimeout > 0 {
		return c.CallTimeout
	}
	return 5 * time.Second
}

type verifyDepositRequest struct {
	Action    string `cbor:"action"`
	Reference string `cbor:"reference"`
	Payer     string `cbor:"payer"`
	Expected  int64  `cbor:"expected"`
}

type verifyDepositResponse struct {
	Reference string `cbor:"reference"`
	Amount    int64  `cbor:"amount"`
}

// VerifyDeposit implements Settlement.
func (c *Client) VerifyDeposit(ctx context.Context, reference, payer string, expected int64) (Deposit, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var response verifyDepositResponse
	err := service.Call(ctx, c.SocketPath, "verify_deposit", verifyDepositRequest{
		Action:    "verify_deposit",
		Reference: reference,
		Payer:     payer,
		Expected:  expected,
	}, &response)
	if err != nil {
		return Deposit{}, &SettlementError{Op: "verify_deposit", Err: err}
	}
	return Deposit{Reference: response.Reference, Amount: response.Amount}, nil
}

type releaseRequest struct {
	Action string `cbor:"action"`
	Payee  string `cbor:"payee"`
	Amount int64  `cbor:"amount"`
}

type releaseResponse struct {
	AgentAmount int64  `cbor:"agent_amount"`
	Fee         int64  `cbor:"fee"`
	Receipt     string `cbor:"receipt"`
}

// Release implements Settlement.
func (c *Client) Release(ctx context.Context, payee string, amount int64) (Payout, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var response releaseResponse
	err := service.Call(ctx, c.SocketPath, "release", releaseRequest{
		Action: "release",
		Payee:  payee,
		Amount: amount,
	}, &response)
	if err != nil {
		return Payout{}, &SettlementError{Op: "release", Err: err}
	}
	return Payout{
		AgentAmount: response.AgentAmount,
		Fee:         response.Fee,
		Receipt:     response.Receipt,
	}, nil
}

type refundRequest struct {
	Action string `cbor:"action"`
	Payer  string `cbor:"payer"`
	Amount int64  `cbor:"amount"`
}

type refundResponse struct {
	Receipt string `cbor:"receipt"`
}

// Refund implements Settlement.
func (c *Client) Refund(ctx context.Context, payer string, amount int64) (Refund, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var response refundResponse
	err := service.Call(ctx, c.SocketPath, "refund", refundRequest{
		Action: "refund",
		Payer:  payer,
		Amount: amount,
	}, &response)
	if err != nil {
		return Refund{}, &SettlementError{Op: "refund", Err: err}
	}
	return Refund{Receipt: response.Receipt}, nil
}
