package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/explosion/wheelwright/src/broker"
	"github.com/explosion/wheelwright/src/contracts"
	"github.com/explosion/wheelwright/src/logger"
	"github.com/explosion/wheelwright/src/mcp"
	"github.com/explosion/wheelwright/src/provider"
)

func newHistoryCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [release-id]",
		Short: "Show saved build outcomes",
		Long: `Without arguments, list recent builds newest first. With a release id,
show that build's checks, their log URLs and the downloaded wheels.

Requires POSTGRES_DSN.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := a.requireHistory(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				rec, err := st.GetOutcome(ctx, args[0])
				if err != nil {
					return err
				}
				printRecord(out, rec)
				return nil
			}

			recs, err := st.ListOutcomes(ctx, limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No builds recorded yet.")
				return nil
			}
			printHistory(out, recs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Max builds to list")
	return cmd
}

func printHistory(w io.Writer, recs []contracts.BuildRecord) {
	for _, r := range recs {
		verdict := r.Verdict
		if r.TimedOut {
			verdict += " (timed out)"
		}
		fmt.Fprintf(w, "%-40s %-22s %s\n", r.ReleaseID, verdict, r.FinishedAt.Local().Format(time.DateTime))
	}
}

func printRecord(w io.Writer, r *contracts.BuildRecord) {
	fmt.Fprintf(w, "Release:   %s\n", r.ReleaseID)
	if r.ReleaseURL != "" {
		fmt.Fprintf(w, "URL:       %s\n", r.ReleaseURL)
	}
	fmt.Fprintf(w, "Project:   %s@%s (%s)\n", r.PackageName, r.Commit, r.Repo)
	fmt.Fprintf(w, "Branch:    %s\n", r.Branch)
	fmt.Fprintf(w, "Verdict:   %s\n", r.Verdict)
	if r.TimedOut {
		fmt.Fprintf(w, "Timed out: yes\n")
	}
	fmt.Fprintf(w, "Duration:  %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	fmt.Fprintln(w, "Checks:")
	for _, c := range r.Checks {
		line := fmt.Sprintf("  %-10s %s", c.Name, c.State)
		if c.URL != "" {
			line += "  " + c.URL
		}
		fmt.Fprintln(w, line)
	}
	if len(r.Assets) > 0 {
		fmt.Fprintf(w, "Wheels (%s):\n", r.DownloadDir)
		for _, name := range r.Assets {
			fmt.Fprintf(w, "  %s\n", name)
		}
	}
}

func newEventsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow build events published to Redpanda",
		Long: `Print build lifecycle events as builds publish them, until interrupted.

Requires REDPANDA_BROKERS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if len(a.cfg.RedpandaBrokers) == 0 {
				return fmt.Errorf("%w: REDPANDA_BROKERS is not set", provider.ErrConfig)
			}
			b, err := a.broker()
			if err != nil {
				return err
			}
			defer b.Close()
			return followEvents(ctx, cmd.OutOrStdout(), b, a.log)
		},
	}
}

// followEvents prints events until ctx is done or the broker closes.
func followEvents(ctx context.Context, w io.Writer, b broker.Broker, log logger.Logger) error {
	msgs, err := b.Subscribe(ctx, contracts.TopicBuildEvents, "")
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", contracts.TopicBuildEvents, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := broker.DecodeEvent(msg)
			if err != nil {
				log.Error("%v", err)
				continue
			}
			fmt.Fprintln(w, formatEvent(ev))
		}
	}
}

func formatEvent(ev contracts.BuildEvent) string {
	id := ev.ReleaseID
	if id == "" {
		id = ev.RunID
	}
	line := fmt.Sprintf("%s %-40s %-18s", ev.Timestamp, id, ev.Phase)
	if len(ev.Checks) > 0 {
		parts := make([]string, 0, len(ev.Checks))
		for _, c := range ev.Checks {
			parts = append(parts, fmt.Sprintf("[%s - %s]", c.Name, c.State))
		}
		line += " " + strings.Join(parts, " ")
	} else if ev.Message != "" {
		line += " " + ev.Message
	}
	return strings.TrimRight(line, " ")
}

func newMCPCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve build history and release tools over MCP (stdio)",
		Long: `Run a Model Context Protocol server on stdin/stdout with the tools
get_build_outcome, list_build_outcomes, list_release_assets and
read_build_spec.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			// stdout belongs to the protocol
			a.log = logger.NewSilentLogger()

			releases, _, err := a.releases()
			if err != nil {
				return err
			}
			st, err := a.history(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			return mcp.NewServer(version, st, releases).Run()
		},
	}
}
