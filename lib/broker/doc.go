// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker couples the build lifecycle to the escrow ledger.
// It is the only code that moves money: a hire locks funds before any
// build row exists, and every fund-moving transition runs its
// settlement call inside the store's write transaction, so a
// settlement failure leaves the build exactly where it was.
package broker
