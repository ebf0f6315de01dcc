package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/explosion/wheelwright/src/broker"
	"github.com/explosion/wheelwright/src/logger"
	"github.com/explosion/wheelwright/src/orchestrator"
	"github.com/explosion/wheelwright/src/provider"
	"github.com/explosion/wheelwright/src/tui"
)

func newBuildCommand(a *app) *cobra.Command {
	var (
		packageName string
		llvm        bool
		useTUI      bool
		options     map[string]string
	)

	cmd := &cobra.Command{
		Use:   "build <user/repo> <commit>",
		Short: "Build wheels for a repo and commit or tag",
		Long: `Build wheels for a project commit or tag on the CI services that watch
the build repository, then download them into the wheels directory.

Example:
  wheelwright build explosion/cymem v2.0.2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			req := orchestrator.Request{
				Repo:        args[0],
				Commit:      args[1],
				PackageName: packageName,
				Options:     buildOptions(llvm, options),
			}
			if useTUI {
				a.log = logger.NewSilentLogger()
				title := fmt.Sprintf("Building %s@%s", req.Repo, req.Commit)
				_, err := tui.RunBuild(ctx, title, func(ctx context.Context, obs orchestrator.Observer) (*orchestrator.Outcome, error) {
					return a.runBuild(ctx, req, obs)
				})
				return err
			}
			_, err := a.runBuild(ctx, req, tui.NewConsoleObserver(cmd.OutOrStdout()))
			return err
		},
	}

	cmd.Flags().StringVar(&packageName, "package-name", "", "Package name, if it differs from the repository name")
	cmd.Flags().BoolVar(&llvm, "llvm", false, "Install LLVM on the build machines")
	cmd.Flags().BoolVar(&useTUI, "tui", false, "Show a live view of the build")
	cmd.Flags().StringToStringVar(&options, "option", nil, "Extra build option passed to CI as BUILD_SPEC_OPTION_<NAME> (repeatable)")
	return cmd
}

// buildOptions merges --llvm into the free-form options.
func buildOptions(llvm bool, options map[string]string) map[string]any {
	if !llvm && len(options) == 0 {
		return nil
	}
	out := make(map[string]any, len(options)+1)
	for k, v := range options {
		out[k] = v
	}
	if llvm {
		out["llvm"] = true
	}
	return out
}

func (a *app) runBuild(ctx context.Context, req orchestrator.Request, obs orchestrator.Observer) (*orchestrator.Outcome, error) {
	releases, client, err := a.releases()
	if err != nil {
		return nil, err
	}

	history, err := a.history(ctx)
	if err != nil {
		return nil, err
	}
	defer history.Close()

	events, err := a.broker()
	if err != nil {
		return nil, err
	}
	defer events.Close()

	opts := []orchestrator.Option{
		orchestrator.WithLogger(a.log),
		orchestrator.WithObserver(obs),
		orchestrator.WithEvents(broker.NewEventPublisher(events)),
		orchestrator.WithHistory(history),
	}
	m, err := a.mirror(ctx)
	if err != nil {
		return nil, err
	}
	if m != nil {
		opts = append(opts, orchestrator.WithMirror(m))
	}

	orch := orchestrator.New(releases, client, orchestrator.Settings{
		Registry:        a.cfg.Checks,
		PollInterval:    a.cfg.PollInterval,
		PollMaxInterval: a.cfg.PollMaxInterval,
		PollTimeout:     a.cfg.PollTimeout,
		MaxPolls:        a.cfg.MaxPolls,
		WheelsDir:       a.cfg.WheelsDir,
	}, opts...)

	a.log.Info("Build repo: %s", releases.Repo())
	return orch.Run(ctx, req)
}

func newDownloadCommand(a *app) *cobra.Command {
	var mirrorToS3 bool

	cmd := &cobra.Command{
		Use:   "download <release-id>",
		Short: "Download the wheels of an existing release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			releaseID := args[0]

			releases, _, err := a.releases()
			if err != nil {
				return err
			}
			var m orchestrator.Mirror
			if mirrorToS3 {
				s3m, err := a.mirror(ctx)
				if err != nil {
					return err
				}
				if s3m == nil {
					return fmt.Errorf("%w: --mirror needs S3_BUCKET", provider.ErrConfig)
				}
				m = s3m
			}

			a.log.Info("Downloading from repo %s", releases.Repo())
			report, dlErr := releases.DownloadAll(ctx, releaseID, a.cfg.WheelsDir)
			out := cmd.OutOrStdout()
			for _, asset := range report.Downloaded {
				fmt.Fprintf(out, "%s\n", asset.Path)
			}
			for _, f := range report.Failed {
				fmt.Fprintf(out, "failed: %s: %v\n", f.Path, f.Err)
			}

			var mirrorErr error
			if m != nil && len(report.Downloaded) > 0 {
				mirrorErr = m.MirrorAssets(ctx, releaseID, report.Downloaded)
			}
			if dlErr != nil {
				return dlErr
			}
			return mirrorErr
		},
	}

	cmd.Flags().BoolVar(&mirrorToS3, "mirror", false, "Also copy the wheels to the configured S3 bucket")
	return cmd
}
