// Package main provides the wheelwright CLI: build wheels for a project
// commit on hosted CI, using GitHub releases of a build repository as the
// queue and artifact store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/explosion/wheelwright/src/config"
	"github.com/explosion/wheelwright/src/logger"
	"github.com/explosion/wheelwright/src/provider"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", provider.WrapError(err))
		os.Exit(1)
	}
}

// app carries what every command needs once flags are parsed.
type app struct {
	cfg     *config.Config
	log     logger.Logger
	out     io.Writer
	verbose bool
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}

	cmd := &cobra.Command{
		Use:   "wheelwright",
		Short: "Build Python wheels on hosted CI via GitHub releases",
		Long: `wheelwright builds wheels for a project commit on hosted CI services.

A build creates a release in the build repository, pushes a branch carrying
build-spec.json, waits for the CI statuses of that commit and downloads the
wheels the CI jobs uploaded to the release.

The build repository comes from WHEELWRIGHT_REPO or the git remote of the
current directory; the token from GITHUB_SECRET_TOKEN or
github-secret-token.txt.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.NewConsoleLogger(a.verbose)
			return nil
		},
	}
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Show debug output")
	cmd.SetOut(out)

	cmd.AddCommand(newBuildCommand(a))
	cmd.AddCommand(newDownloadCommand(a))
	cmd.AddCommand(newUploadCommand(a))
	cmd.AddCommand(newBuildSpecCommand(a))
	cmd.AddCommand(newWindowsBuildCommand(a))
	cmd.AddCommand(newCheckCommand(a))
	cmd.AddCommand(newHistoryCommand(a))
	cmd.AddCommand(newEventsCommand(a))
	cmd.AddCommand(newMCPCommand(a))
	return cmd
}
