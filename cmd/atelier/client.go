// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/atelier-foundation/atelier/lib/config"
	"github.com/atelier-foundation/atelier/lib/service"
)

// connection holds the flags shared by every command that talks to the
// broker service socket.
type connection struct {
	socketPath string
	configPath string
	timeout    time.Duration
}

// bind registers the shared connection flags on flagSet.
func (c *connection) bind(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socketPath, "socket", "", "broker service socket path (overrides config)")
	flagSet.StringVar(&c.configPath, "config", "", "path to the YAML config file")
	flagSet.DurationVar(&c.timeout, "timeout", 10*time.Second, "per-request timeout")
}

// resolve determines the socket path: the --socket flag wins, then the
// config named by --config or ATELIER_CONFIG, then the built-in default.
func (c *connection) resolve() (string, error) {
	if c.socketPath != "" {
		return c.socketPath, nil
	}
	var (
		cfg *config.Config
		err error
	)
	switch {
	case c.configPath != "":
		cfg, err = config.LoadFile(c.configPath)
	case os.Getenv("ATELIER_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return "", err
	}
	return cfg.Service.SocketPath, nil
}

// call performs one request against the broker service socket.
func (c *connection) call(action string, request, result any) error {
	socketPath, err := c.resolve()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return service.Call(ctx, socketPath, action, request, result)
}

// Wire types mirroring the broker service's responses. Struct tags
// carry both the CBOR wire names and the JSON names used for output.

type buildView struct {
	ID              string `cbor:"id" json:"id"`
	RequestID       string `cbor:"request_id" json:"request_id"`
	PitchID         string `cbor:"pitch_id" json:"pitch_id"`
	AgentID         string `cbor:"agent_id,omitempty" json:"agent_id,omitempty"`
	AgentName       string `cbor:"agent_name,omitempty" json:"agent_name,omitempty"`
	Status          string `cbor:"status" json:"status"`
	EscrowAmount    int64  `cbor:"escrow_amount" json:"escrow_amount"`
	EscrowStatus    string `cbor:"escrow_status" json:"escrow_status"`
	DeliveryURL     string `cbor:"delivery_url,omitempty" json:"delivery_url,omitempty"`
	AgentPayout     *int64 `cbor:"agent_payout,omitempty" json:"agent_payout,omitempty"`
	PlatformFee     *int64 `cbor:"platform_fee,omitempty" json:"platform_fee,omitempty"`
	DisputeReason   string `cbor:"dispute_reason,omitempty" json:"dispute_reason,omitempty"`
	DisputeOpenedAt int64  `cbor:"dispute_opened_at,omitempty" json:"dispute_opened_at,omitempty"`
	DepositRef      string `cbor:"deposit_ref,omitempty" json:"deposit_ref,omitempty"`
	ReleaseRef      string `cbor:"release_ref,omitempty" json:"release_ref,omitempty"`
	RefundRef       string `cbor:"refund_ref,omitempty" json:"refund_ref,omitempty"`
	RevisionCount   int    `cbor:"revision_count" json:"revision_count"`
	CreatedAt       int64  `cbor:"created_at" json:"created_at"`
	UpdatedAt       int64  `cbor:"updated_at" json:"updated_at"`
}

type jobView struct {
	ID         string `cbor:"id" json:"id"`
	BuildID    string `cbor:"build_id" json:"build_id"`
	Status     string `cbor:"status" json:"status"`
	RetryCount int    `cbor:"retry_count" json:"retry_count"`
	MaxRetries int    `cbor:"max_retries" json:"max_retries"`
	LastError  string `cbor:"last_error,omitempty" json:"last_error,omitempty"`
	ClaimedBy  string `cbor:"claimed_by,omitempty" json:"claimed_by,omitempty"`
	ClaimedAt  int64  `cbor:"claimed_at,omitempty" json:"claimed_at,omitempty"`
	CreatedAt  int64  `cbor:"created_at" json:"created_at"`
	UpdatedAt  int64  `cbor:"updated_at" json:"updated_at"`
}

type hireResponse struct {
	Build buildView `cbor:"build" json:"build"`
	Job   jobView   `cbor:"job" json:"job"`
}
