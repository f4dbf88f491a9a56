// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"net"

	"github.com/atelier-foundation/atelier/lib/codec"
)

// RemoteError is a failure reported by the remote side of a socket
// call: the request reached the service and it answered {ok: false}.
// Distinguishable (via errors.As) from transport failures, which mean
// the request may not have been processed at all.
type RemoteError struct {
	Action  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Call performs one request-response cycle against a Unix socket:
// dial, send the request, decode the envelope, close. The request
// must marshal to a CBOR map containing the "action" field the server
// routes on. If result is non-nil, the response's data field is
// decoded into it.
func Call(ctx context.Context, socketPath, action string, request, result any) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return fmt.Errorf("sending %s request: %w", action, err)
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("reading %s response: %w", action, err)
	}

	if !response.OK {
		return &RemoteError{Action: action, Message: response.Error}
	}

	if result != nil {
		if len(response.Data) == 0 {
			return fmt.Errorf("%s: response has no data", action)
		}
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding %s response: %w", action, err)
		}
	}
	return nil
}
