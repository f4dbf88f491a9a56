// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction so that the
// worker pool, the reaper, and the build store can be driven
// deterministically in tests.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. Real() is the
// standard library behavior; Fake() is a deterministic clock that
// advances only when Advance is called.
//
// When a goroutine calls Sleep, After, or NewTicker on a FakeClock it
// registers a pending waiter. Tests use WaitForTimers to block until
// the expected number of waiters exist before calling Advance, which
// removes the race between timer registration and time advancement.
package clock
