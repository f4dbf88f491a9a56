// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// The atelier-settlement-mock binary is a stand-in settlement provider
// for development and integration testing. It serves the settlement
// socket protocol the broker's escrow client speaks: verify_deposit,
// release, and refund, plus an add_deposit action for seeding funds at
// runtime. Receipts are deterministic and all balances live in memory.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/atelier-foundation/atelier/lib/escrow"
	"github.com/atelier-foundation/atelier/lib/process"
	"github.com/atelier-foundation/atelier/lib/service"
	"github.com/atelier-foundation/atelier/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		socketPath  string
		feeBps      int64
		failActions string
		deposits    depositFlags
		showVersion bool
	)
	flag.StringVar(&socketPath, "socket", "/run/atelier/settlement.sock", "Unix socket to serve on")
	flag.Int64Var(&feeBps, "fee-bps", escrow.DefaultFeeBasisPoints, "platform fee in basis points applied on release")
	flag.StringVar(&failActions, "fail", "", "comma-separated actions that always fail (e.g. release,refund)")
	flag.Var(&deposits, "deposit", "seed a deposit as ref=amount (repeatable)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("atelier-settlement-mock")
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := newProvider(feeBps, logger)
	for reference, amount := range deposits.entries {
		provider.addDeposit(reference, amount)
	}
	for _, action := range strings.Split(failActions, ",") {
		if action = strings.TrimSpace(action); action != "" {
			provider.failActions[action] = true
		}
	}

	socketServer := service.NewSocketServer(socketPath, logger)
	provider.registerActions(socketServer)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	logger.Info("settlement mock running",
		"socket", socketPath,
		"fee_bps", feeBps,
		"seeded_deposits", len(deposits.entries),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	return nil
}
