// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs claimed build jobs. The Pool claims pending
// jobs from the store and executes them on a bounded set of slots;
// the Reaper returns jobs abandoned by dead workers to the queue.
//
// The pool owns the failure path: when an execution returns an error
// the job's retry budget is spent through the store. The success path
// belongs to the execute function itself, which records completion
// while it still holds the claim.
package worker
