// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with a monotonically increasing N. Use
// it when tests need identifiers that must not collide across
// subtests sharing a database.
//
//	requestID := testutil.UniqueID("request") // "request-1", "request-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
