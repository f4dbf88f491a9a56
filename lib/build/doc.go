// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package build defines the entities at the center of the
// orchestrator: the Build (one hire's lifecycle and escrow record)
// and the BuildJob (its unit of delegated execution), together with
// the static transition table that every status mutation in the
// system consults.
//
// The transition table is the single source of truth for which
// (from, to) edges exist and which actors may drive them. Fund
// movement is not encoded in the table; EscrowEffect reports which
// edges also move money so that callers gate those through the
// settlement collaborator.
package build
