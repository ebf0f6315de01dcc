package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/buildspec"
	"github.com/explosion/wheelwright/src/localbuild"
)

func newUploadCommand(a *app) *cobra.Command {
	var specPath string

	cmd := &cobra.Command{
		Use:   "upload --build-spec <path> <paths...>",
		Short: "Upload files to the release named in a build spec",
		Long: `Upload wheels and other files to the release named in a build spec.
Directories are expanded to the wheels they contain. Used by CI jobs after
building.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			spec, err := buildspec.Load(specPath)
			if err != nil {
				return err
			}
			client, err := a.githubClient()
			if err != nil {
				return err
			}

			report, err := a.releasesIn(client, spec.UploadTo.RepoID).Upload(ctx, spec.UploadTo.ReleaseID, args)
			printUploadReport(cmd.OutOrStdout(), report)
			return err
		},
	}

	cmd.Flags().StringVar(&specPath, "build-spec", "", "Path to build-spec.json")
	_ = cmd.MarkFlagRequired("build-spec")
	return cmd
}

func printUploadReport(w io.Writer, report artifact.UploadReport) {
	for _, a := range report.Uploaded {
		fmt.Fprintf(w, "uploaded: %s\n", a.Name)
	}
	for _, f := range report.Failed {
		fmt.Fprintf(w, "failed: %s: %v\n", filepath.Base(f.Path), f.Err)
	}
}

func newBuildSpecCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build-spec <path>",
		Short: "Print a build spec as shell variable assignments",
		Long: `Print the fields of a build spec as BUILD_SPEC_* assignments, one per
line, quoted for a POSIX shell. CI scripts eval the output:

  eval "$(wheelwright build-spec build-spec.json)"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := buildspec.Load(args[0])
			if err != nil {
				return err
			}
			for _, line := range spec.EnvLines() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newWindowsBuildCommand(a *app) *cobra.Command {
	var (
		specPath string
		workDir  string
		python   string
	)

	cmd := &cobra.Command{
		Use:   "windows-build --build-spec <path>",
		Short: "Build, test and upload wheels on this machine",
		Long: `Clone the commit named in a build spec, build its wheels with
setup.py bdist_wheel, install them, run the package tests from a scratch
directory and upload the wheels to the spec's release. Used by CI jobs on
Windows.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			spec, err := buildspec.Load(specPath)
			if err != nil {
				return err
			}
			client, err := a.githubClient()
			if err != nil {
				return err
			}

			runner := localbuild.ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr, Logger: a.log}
			driver := localbuild.NewDriver(runner, a.releasesIn(client, spec.UploadTo.RepoID),
				localbuild.WithPython(python),
				localbuild.WithLogger(a.log),
			)
			report, err := driver.Build(ctx, workDir, spec)
			printUploadReport(cmd.OutOrStdout(), report)
			return err
		},
	}

	cmd.Flags().StringVar(&specPath, "build-spec", "", "Path to build-spec.json")
	cmd.Flags().StringVar(&workDir, "work-dir", ".", "Directory to clone and build in")
	cmd.Flags().StringVar(&python, "python", "python", "Python interpreter used to build")
	_ = cmd.MarkFlagRequired("build-spec")
	return cmd
}
