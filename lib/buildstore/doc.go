// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package buildstore is the durable home of builds and build jobs,
// backed by SQLite through sqlitepool.
//
// Every mutation runs in an IMMEDIATE transaction so concurrent
// workers and the broker serialize on SQLite's single write lock.
// A claim is a conditional UPDATE inside such a transaction, which
// guarantees at most one worker owns a job at a time. Job rows are
// never deleted: completed and dead_letter rows remain as the audit
// trail of every execution attempt.
package buildstore
