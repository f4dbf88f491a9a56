// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package escrow defines the contract the orchestrator requires from a
// settlement collaborator (verify a deposit, pay out, refund) and
// the fee arithmetic applied at release.
//
// All amounts are int64 minor units. The ledger behind the
// collaborator is deliberately unspecified; the orchestrator only
// records the opaque receipts it returns.
package escrow
