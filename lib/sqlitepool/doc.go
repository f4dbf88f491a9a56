// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite's connection pool
// with Atelier-standard pragmas. Every durable store in the system
// (builds, build jobs) opens its database through this package so
// that WAL mode, busy timeout, and cache settings are uniform.
//
// Individual connections are not safe for concurrent use: each
// goroutine must Take its own connection and Put it back when done.
package sqlitepool
