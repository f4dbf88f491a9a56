// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/atelier-foundation/atelier/lib/build"
	"github.com/atelier-foundation/atelier/lib/buildstore"
)

// builder runs the configured build command for one claimed job. The
// command receives the job context in ATELIER_* environment variables
// and must print the delivery URL as the last non-empty line of its
// stdout.
type builder struct {
	command []string
	store   *buildstore.Store
	logger  *slog.Logger
}

// execute is the pool's ExecuteFunc. It moves the build into the
// building phase, runs the command, and records delivery while the
// claim is still held. A closed build (cancelled while the job sat in
// the queue) retires the job without running anything.
func (b *builder) execute(ctx context.Context, job *build.BuildJob) error {
	record, err := b.store.StartBuild(ctx, job.ID)
	if errors.Is(err, buildstore.ErrBuildClosed) {
		b.logger.Info("retiring job for closed build", "job_id", job.ID, "build_id", job.BuildID)
		_, err := b.store.CompleteJob(ctx, job.ID, job.ClaimedBy, "")
		return err
	}
	if err != nil {
		return err
	}

	deliveryURL, err := b.runCommand(ctx, record, job)
	if err != nil {
		return err
	}

	_, err = b.store.CompleteJob(ctx, job.ID, job.ClaimedBy, deliveryURL)
	return err
}

func (b *builder) runCommand(ctx context.Context, record *build.Build, job *build.BuildJob) (string, error) {
	cmd := exec.CommandContext(ctx, b.command[0], b.command[1:]...)
	cmd.Env = append(os.Environ(),
		"ATELIER_JOB_ID="+job.ID,
		"ATELIER_BUILD_ID="+record.ID,
		"ATELIER_REQUEST_ID="+record.RequestID,
		"ATELIER_PITCH_ID="+record.PitchID,
		fmt.Sprintf("ATELIER_ATTEMPT=%d", job.RetryCount+1),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("builder %s: %s", b.command[0], detail)
	}

	deliveryURL := lastNonEmptyLine(stdout.String())
	if deliveryURL == "" {
		return "", fmt.Errorf("builder %s produced no delivery URL", b.command[0])
	}
	return deliveryURL, nil
}

func lastNonEmptyLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
