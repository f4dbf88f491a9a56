// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the one-shot CBOR socket protocol that
// Atelier components speak to each other: the operator CLI to the
// broker service, the broker to the settlement collaborator, and
// anything to a worker's status endpoint.
//
// Each connection carries exactly one request and one response. The
// request is a CBOR map with an "action" field plus action-specific
// fields; the response is the {ok, error, data} envelope. CBOR is
// self-delimiting, so no framing protocol is needed.
package service
