// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/atelier-foundation/atelier/lib/build"
	"github.com/atelier-foundation/atelier/lib/version"
)

// root builds the complete atelier CLI command tree.
func root() *command {
	return &command{
		Name: "atelier",
		Description: `Atelier: escrow-gated build brokerage.

Create hires against verified deposits, follow a build through its
lifecycle, and settle or refund escrow when the work concludes.`,
		Subcommands: []*command{
			hireCommand(),
			acceptCommand(),
			reviseCommand(),
			disputeCommand(),
			cancelCommand(),
			resolveCommand(),
			transitionCommand(),
			buildCommand(),
			latestCommand(),
			jobCommand(),
			requeueCommand(),
			statusCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ []string) error {
					version.Print("atelier")
					return nil
				},
			},
		},
	}
}

func hireCommand() *command {
	var (
		conn       connection
		requestID  string
		pitchID    string
		agentID    string
		agentName  string
		amount     int64
		payer      string
		payee      string
		depositRef string
	)
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("hire", pflag.ContinueOnError)
		conn.bind(flagSet)
		flagSet.StringVar(&requestID, "request", "", "build request identifier")
		flagSet.StringVar(&pitchID, "pitch", "", "accepted pitch identifier")
		flagSet.StringVar(&agentID, "agent-id", "", "hired agent identifier")
		flagSet.StringVar(&agentName, "agent-name", "", "hired agent name (when no agent id exists yet)")
		flagSet.Int64Var(&amount, "amount", 0, "escrow amount in minor currency units")
		flagSet.StringVar(&payer, "payer", "", "requester settlement address")
		flagSet.StringVar(&payee, "payee", "", "agent settlement address")
		flagSet.StringVar(&depositRef, "deposit-ref", "", "settlement provider deposit reference")
		return flagSet
	}
	return &command{
		Name:    "hire",
		Summary: "Create a hire from a verified escrow deposit",
		Usage:   "atelier hire --request <id> --pitch <id> --agent-id <id> --amount <n> --payer <addr> --payee <addr> --deposit-ref <ref>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("hire takes no positional arguments")
			}
			request := map[string]any{
				"action":            "hire",
				"request_id":        requestID,
				"pitch_id":          pitchID,
				"escrow_amount":     amount,
				"payer_address":     payer,
				"payee_address":     payee,
				"deposit_reference": depositRef,
			}
			if agentID != "" {
				request["agent_id"] = agentID
			}
			if agentName != "" {
				request["agent_name"] = agentName
			}
			var response hireResponse
			if err := conn.call("hire", request, &response); err != nil {
				return err
			}
			return writeJSON(response)
		},
	}
}

// transitionVerb builds a convenience command that moves one build to a
// fixed target status as a fixed actor. The build id is the single
// positional argument.
func transitionVerb(name, summary string, to build.Status, actor build.Actor, wantReason bool) *command {
	var (
		conn   connection
		reason string
	)
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		conn.bind(flagSet)
		if wantReason {
			flagSet.StringVar(&reason, "reason", "", "reason recorded with the transition")
		}
		return flagSet
	}
	return &command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("atelier %s <build-id>", name),
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%s requires exactly one build id", name)
			}
			return runTransition(&conn, args[0], string(to), string(actor), reason)
		},
	}
}

func acceptCommand() *command {
	return transitionVerb("accept", "Accept a delivered build and release escrow to the agent",
		build.StatusAccepted, build.ActorRequester, false)
}

func reviseCommand() *command {
	return transitionVerb("revise", "Request a revision of a delivered build",
		build.StatusRevisionRequested, build.ActorRequester, true)
}

func disputeCommand() *command {
	return transitionVerb("dispute", "Dispute a delivered build and freeze escrow",
		build.StatusDisputed, build.ActorRequester, true)
}

func cancelCommand() *command {
	return transitionVerb("cancel", "Cancel a build before delivery and refund the deposit",
		build.StatusCancelled, build.ActorRequester, true)
}

func resolveCommand() *command {
	var (
		conn    connection
		outcome string
		reason  string
	)
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
		conn.bind(flagSet)
		flagSet.StringVar(&outcome, "outcome", "", "resolution: release, refund, or arbitrate")
		flagSet.StringVar(&reason, "reason", "", "reason recorded with the resolution")
		return flagSet
	}
	return &command{
		Name:    "resolve",
		Summary: "Resolve a disputed build as the platform",
		Usage:   "atelier resolve <build-id> --outcome <release|refund|arbitrate>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("resolve requires exactly one build id")
			}
			var to build.Status
			switch outcome {
			case "release":
				to = build.StatusAccepted
			case "refund":
				to = build.StatusRefunded
			case "arbitrate":
				to = build.StatusArbitrationPending
			default:
				return fmt.Errorf("unknown outcome %q (want release, refund, or arbitrate)", outcome)
			}
			return runTransition(&conn, args[0], string(to), string(build.ActorPlatform), reason)
		},
	}
}

func transitionCommand() *command {
	var (
		conn   connection
		to     string
		actor  string
		reason string
	)
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("transition", pflag.ContinueOnError)
		conn.bind(flagSet)
		flagSet.StringVar(&to, "to", "", "target build status")
		flagSet.StringVar(&actor, "actor", "", "acting party: requester, agent, or platform")
		flagSet.StringVar(&reason, "reason", "", "reason recorded with the transition")
		return flagSet
	}
	return &command{
		Name:    "transition",
		Summary: "Apply an arbitrary lifecycle transition to a build",
		Usage:   "atelier transition <build-id> --to <status> --actor <actor>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("transition requires exactly one build id")
			}
			return runTransition(&conn, args[0], to, actor, reason)
		},
	}
}

func runTransition(conn *connection, buildID, to, actor, reason string) error {
	request := map[string]any{
		"action":   "transition",
		"build_id": buildID,
		"to":       to,
		"actor":    actor,
	}
	if reason != "" {
		request["reason"] = reason
	}
	var response buildView
	if err := conn.call("transition", request, &response); err != nil {
		return err
	}
	return writeJSON(response)
}

func buildCommand() *command {
	var conn connection
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("build", pflag.ContinueOnError)
		conn.bind(flagSet)
		return flagSet
	}
	return &command{
		Name:    "build",
		Summary: "Show one build by id",
		Usage:   "atelier build <build-id>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("build requires exactly one build id")
			}
			var response buildView
			if err := conn.call("build", map[string]any{
				"action":   "build",
				"build_id": args[0],
			}, &response); err != nil {
				return err
			}
			return writeJSON(response)
		},
	}
}

func latestCommand() *command {
	var conn connection
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("latest", pflag.ContinueOnError)
		conn.bind(flagSet)
		return flagSet
	}
	return &command{
		Name:    "latest",
		Summary: "Show the most recent build for a request",
		Usage:   "atelier latest <request-id>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("latest requires exactly one request id")
			}
			var response buildView
			if err := conn.call("latest_build", map[string]any{
				"action":     "latest_build",
				"request_id": args[0],
			}, &response); err != nil {
				return err
			}
			return writeJSON(response)
		},
	}
}

func jobCommand() *command {
	var conn connection
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("job", pflag.ContinueOnError)
		conn.bind(flagSet)
		return flagSet
	}
	return &command{
		Name:    "job",
		Summary: "Show one build job by id",
		Usage:   "atelier job <job-id>",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("job requires exactly one job id")
			}
			var response jobView
			if err := conn.call("job", map[string]any{
				"action": "job",
				"job_id": args[0],
			}, &response); err != nil {
				return err
			}
			return writeJSON(response)
		},
	}
}

func requeueCommand() *command {
	var (
		conn      connection
		olderThan string
	)
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("requeue", pflag.ContinueOnError)
		conn.bind(flagSet)
		flagSet.StringVar(&olderThan, "older-than", "", "requeue claims older than this duration (default: service claim timeout)")
		return flagSet
	}
	return &command{
		Name:    "requeue",
		Summary: "Requeue jobs whose claims have gone stale",
		Usage:   "atelier requeue [--older-than 10m]",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("requeue takes no positional arguments")
			}
			request := map[string]any{"action": "requeue"}
			if olderThan != "" {
				request["older_than"] = olderThan
			}
			var response struct {
				Requeued int `cbor:"requeued" json:"requeued"`
			}
			if err := conn.call("requeue", request, &response); err != nil {
				return err
			}
			return writeJSON(response)
		},
	}
}

func statusCommand() *command {
	var conn connection
	flags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
		conn.bind(flagSet)
		return flagSet
	}
	return &command{
		Name:    "status",
		Summary: "Show service uptime and job queue counts",
		Usage:   "atelier status",
		Flags:   flags,
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("status takes no positional arguments")
			}
			var response struct {
				Jobs          map[string]int `cbor:"jobs" json:"jobs"`
				UptimeSeconds float64        `cbor:"uptime_seconds" json:"uptime_seconds"`
			}
			if err := conn.call("status", map[string]any{"action": "status"}, &response); err != nil {
				return err
			}
			return writeJSON(response)
		},
	}
}
