// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the standard binary entrypoint error handler.
package process
