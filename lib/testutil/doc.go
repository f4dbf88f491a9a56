// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// individual tests do not need direct time.After calls; everything
// else in the test suite uses the fake clock.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation: request IDs, deposit references, worker names.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
