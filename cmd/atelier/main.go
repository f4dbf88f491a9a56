// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Command atelier is the operator CLI for the Atelier broker service.
// Every subcommand speaks the one-shot CBOR protocol over the service
// Unix socket and prints its result as JSON.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/atelier-foundation/atelier/lib/service"
)

func main() {
	if err := run(); err != nil {
		// Failures reported by the service already carry the action
		// name; transport failures are wrapped by the client.
		var remote *service.RemoteError
		if errors.As(err, &remote) {
			fmt.Fprintf(os.Stderr, "error: %s\n", remote.Message)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return root().execute(os.Args[1:])
}
