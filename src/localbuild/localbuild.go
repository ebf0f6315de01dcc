// Package localbuild builds, tests and uploads wheels on the machine it runs
// on. CI jobs that cannot use a hosted build script (Windows) call it with
// the build spec found on their branch.
package localbuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/buildspec"
	"github.com/explosion/wheelwright/src/junit"
	"github.com/explosion/wheelwright/src/logger"
	"github.com/explosion/wheelwright/src/provider"
)

// ReportName is the pytest JUnit report written in the scratch directory.
const ReportName = "pytest-report.xml"

// Steps of a local build, in order.
const (
	StepClone    = "clone"
	StepCheckout = "checkout"
	StepDeps     = "install requirements"
	StepWheel    = "build wheel"
	StepInstall  = "install wheels"
	StepTest     = "test"
	StepUpload   = "upload"
)

// StepError reports which build step failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("local build: %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Runner runs one command in dir.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) error
}

// ExecRunner runs commands as child processes, streaming their output.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger logger.Logger
}

func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) error {
	if r.Logger != nil {
		r.Logger.Info("$ %s %s", name, strings.Join(args, " "))
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Uploader puts files on a release.
type Uploader interface {
	Upload(ctx context.Context, releaseID string, paths []string) (artifact.UploadReport, error)
}

// Driver runs the build steps.
type Driver struct {
	runner   Runner
	uploader Uploader
	logger   logger.Logger
	python   string
	pip      string
	pytest   string
}

// Option configures a Driver
type Option func(*Driver)

// WithPython sets the interpreter used for setup.py.
func WithPython(python string) Option {
	return func(d *Driver) { d.python = python }
}

func WithLogger(l logger.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

func NewDriver(runner Runner, uploader Uploader, opts ...Option) *Driver {
	d := &Driver{
		runner:   runner,
		uploader: uploader,
		logger:   logger.NewSilentLogger(),
		python:   "python",
		pip:      "pip",
		pytest:   "pytest",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Build clones the spec's commit into workDir/checkout, builds and installs
// its wheels, runs the package tests from a scratch directory so the
// installed package is imported, then uploads the wheels to the spec's
// release.
func (d *Driver) Build(ctx context.Context, workDir string, spec buildspec.Spec) (artifact.UploadReport, error) {
	if err := spec.Validate(); err != nil {
		return artifact.UploadReport{}, fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}
	checkout := filepath.Join(workDir, "checkout")
	scratch := filepath.Join(workDir, "tmp_for_test")

	steps := []struct {
		name string
		dir  string
		cmd  []string
	}{
		{StepClone, workDir, []string{"git", "clone", spec.CloneURL, checkout}},
		{StepCheckout, checkout, []string{"git", "checkout", spec.Commit}},
		{StepDeps, checkout, []string{d.pip, "install", "-Ur", "requirements.txt"}},
		{StepWheel, checkout, []string{d.python, "setup.py", "bdist_wheel"}},
	}
	for _, s := range steps {
		d.logger.Info("==> %s", s.name)
		if err := d.runner.Run(ctx, s.dir, s.cmd[0], s.cmd[1:]...); err != nil {
			return artifact.UploadReport{}, &StepError{Step: s.name, Err: err}
		}
	}

	wheels, err := filepath.Glob(filepath.Join(checkout, "dist", "*.whl"))
	if err != nil {
		return artifact.UploadReport{}, &StepError{Step: StepWheel, Err: err}
	}
	if len(wheels) == 0 {
		return artifact.UploadReport{}, &StepError{Step: StepWheel, Err: fmt.Errorf("no wheels in %s", filepath.Join(checkout, "dist"))}
	}
	sort.Strings(wheels)

	d.logger.Info("==> %s", StepInstall)
	if err := d.runner.Run(ctx, workDir, d.pip, append([]string{"install"}, wheels...)...); err != nil {
		return artifact.UploadReport{}, &StepError{Step: StepInstall, Err: err}
	}

	d.logger.Info("==> %s", StepTest)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return artifact.UploadReport{}, &StepError{Step: StepTest, Err: err}
	}
	report := filepath.Join(scratch, ReportName)
	if err := d.runner.Run(ctx, scratch, d.pytest, "--pyargs", spec.PackageName, "--junitxml="+report); err != nil {
		return artifact.UploadReport{}, &StepError{Step: StepTest, Err: d.testFailures(report, err)}
	}
	if sum, err := junit.ReadFile(report); err == nil {
		d.logger.Info("%s", sum)
	}

	d.logger.Info("==> %s", StepUpload)
	uploaded, err := d.uploader.Upload(ctx, spec.UploadTo.ReleaseID, wheels)
	if err != nil {
		return uploaded, &StepError{Step: StepUpload, Err: err}
	}
	return uploaded, nil
}

// testFailures names the failed tests from the pytest report, if pytest got
// far enough to write one.
func (d *Driver) testFailures(report string, runErr error) error {
	sum, err := junit.ReadFile(report)
	if err != nil || sum.Passed() {
		return runErr
	}
	names := make([]string, 0, len(sum.Failures))
	for _, f := range sum.Failures {
		d.logger.Error("%s", f)
		names = append(names, f.Test)
	}
	return fmt.Errorf("%w (%s; failed: %s)", runErr, sum, strings.Join(names, ", "))
}
