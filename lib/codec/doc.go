// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single point of CBOR configuration for Atelier.
// The socket protocol between the operator CLI, the broker service,
// the workers, and the settlement collaborator all encode through this
// package, so consumers never import fxamacker/cbor directly.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): the same
// logical value always produces identical bytes. Decoding ignores
// unknown fields for forward compatibility.
package codec
