// Package orchestrator runs a remote wheel build end to end: it allocates a
// release, publishes the build spec, polls CI statuses until they settle and
// collects the wheels.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/buildspec"
	"github.com/explosion/wheelwright/src/contracts"
	"github.com/explosion/wheelwright/src/github"
	"github.com/explosion/wheelwright/src/logger"
	"github.com/explosion/wheelwright/src/provider"
	"github.com/explosion/wheelwright/src/status"
	"github.com/explosion/wheelwright/src/store"
)

// State is a phase of a build run.
type State string

const (
	AllocatingRelease State = "allocating_release"
	PublishingSpec    State = "publishing_spec"
	Polling           State = "polling"
	Succeeded         State = "succeeded"
	Failed            State = "failed"
)

// Releases is the artifact store as used by a run.
type Releases interface {
	Repo() string
	AllocateRelease(ctx context.Context, base string) (string, error)
	CreateRelease(ctx context.Context, releaseID string, spec buildspec.Spec, projectURL string) (*github.Release, error)
	PublishSpec(ctx context.Context, releaseID string, spec buildspec.Spec) (artifact.CommitRef, error)
	DownloadAll(ctx context.Context, releaseID, root string) (artifact.DownloadReport, error)
	MarkRelease(ctx context.Context, releaseID string, ok bool) error
}

// StatusSource fetches the combined commit status of a ref.
type StatusSource interface {
	GetCombinedStatus(ctx context.Context, repo, ref string) (*github.CombinedStatus, error)
}

// EventSink receives build lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, ev contracts.BuildEvent) error
}

// Mirror copies downloaded wheels somewhere else.
type Mirror interface {
	MirrorAssets(ctx context.Context, releaseID string, assets []artifact.Asset) error
}

// Request names the project commit to build.
type Request struct {
	// Repo is the project as "user/package".
	Repo   string
	Commit string
	// PackageName defaults to the repository name.
	PackageName string
	Options     map[string]any
}

func (r Request) validate() error {
	user, pkg, ok := strings.Cut(r.Repo, "/")
	if !ok || user == "" || pkg == "" || strings.Contains(pkg, "/") {
		return fmt.Errorf("%w: project %q is not of the form user/repo", provider.ErrConfig, r.Repo)
	}
	if r.Commit == "" {
		return fmt.Errorf("%w: no commit given", provider.ErrConfig)
	}
	return nil
}

func (r Request) packageName() string {
	if r.PackageName != "" {
		return r.PackageName
	}
	_, pkg, _ := strings.Cut(r.Repo, "/")
	return pkg
}

// DefaultPollTimeout bounds polling when neither PollTimeout nor MaxPolls
// is set.
const DefaultPollTimeout = 3 * time.Hour

// DefaultEventTimeout bounds the publishing of one lifecycle event.
const DefaultEventTimeout = 5 * time.Second

// Settings tune polling and downloads. Polling is always bounded: at least
// one of PollTimeout and MaxPolls applies.
type Settings struct {
	Registry        provider.Registry
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	// PollTimeout bounds the wall-clock time spent polling; 0 leaves only
	// MaxPolls.
	PollTimeout time.Duration
	// MaxPolls bounds the number of status fetches; 0 leaves only
	// PollTimeout.
	MaxPolls  int
	WheelsDir string
}

// Orchestrator runs builds. A single Orchestrator may run builds one after
// another; each run owns its own aggregator.
type Orchestrator struct {
	releases Releases
	statuses StatusSource
	settings Settings

	logger   logger.Logger
	observer Observer
	events   EventSink
	history  store.Store
	mirror   Mirror

	eventTimeout time.Duration

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	newRunID func() string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithLogger(l logger.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.observer = obs } }

func WithEvents(e EventSink) Option { return func(o *Orchestrator) { o.events = e } }

func WithHistory(s store.Store) Option { return func(o *Orchestrator) { o.history = s } }

func WithMirror(m Mirror) Option { return func(o *Orchestrator) { o.mirror = m } }

// WithEventTimeout bounds each event publish. A publish that runs over is
// logged and dropped.
func WithEventTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.eventTimeout = d }
}

// WithClock replaces the time source and the poll wait.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.sleep = sleep
	}
}

// New creates an orchestrator.
func New(releases Releases, statuses StatusSource, settings Settings, opts ...Option) *Orchestrator {
	if len(settings.Registry) == 0 {
		settings.Registry = provider.DefaultRegistry()
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 10 * time.Second
	}
	if settings.PollMaxInterval < settings.PollInterval {
		settings.PollMaxInterval = settings.PollInterval
	}
	if settings.PollTimeout <= 0 && settings.MaxPolls <= 0 {
		settings.PollTimeout = DefaultPollTimeout
	}

	o := &Orchestrator{
		releases: releases,
		statuses: statuses,
		settings: settings,
		logger:   logger.NewSilentLogger(),
		observer: NopObserver{},
		now:      time.Now,
		sleep:    sleepContext,
		newRunID: uuid.NewString,

		eventTimeout: DefaultEventTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run carries the state of one build.
type run struct {
	req     Request
	outcome *Outcome
}

// Run executes one build. A failed build returns the outcome together with
// a *BuildFailedError. Cancelling ctx stops the run where it is and returns
// ctx.Err(); the release and branch are left as they were.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	r := &run{
		req: req,
		outcome: &Outcome{
			RunID:       o.newRunID(),
			Repo:        o.releases.Repo(),
			PackageName: req.packageName(),
			Commit:      req.Commit,
			StartedAt:   o.now(),
		},
	}

	o.enter(ctx, r, AllocatingRelease, "Finding a unique name for this release...")
	base := fmt.Sprintf("%s-%s", r.outcome.PackageName, req.Commit)
	releaseID, err := o.releases.AllocateRelease(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("allocate release: %w", err)
	}
	r.outcome.ReleaseID = releaseID

	o.enter(ctx, r, PublishingSpec, fmt.Sprintf("Creating release %s to collect assets...", releaseID))
	spec := buildspec.New(buildspec.CloneURL(req.Repo), r.outcome.PackageName, req.Commit, o.releases.Repo(), releaseID, req.Options)
	release, err := o.releases.CreateRelease(ctx, releaseID, spec, "https://github.com/"+req.Repo)
	if err != nil {
		return nil, err
	}
	r.outcome.ReleaseURL = release.HTMLURL
	o.logger.Info("Release: %s", release.HTMLURL)

	ref, err := o.releases.PublishSpec(ctx, releaseID, spec)
	if err != nil {
		return nil, err
	}
	r.outcome.Branch = ref.Branch
	r.outcome.CommitSHA = ref.SHA
	o.logger.Info("Commit is %s in branch %s.", shortSHA(ref.SHA), ref.Branch)

	o.enter(ctx, r, Polling, "Waiting for build to complete...")
	verdict, err := o.poll(ctx, r)
	if err != nil {
		return nil, err
	}

	r.outcome.Checks = verdict.checks
	if verdict.failed {
		return o.fail(ctx, r)
	}
	return o.succeed(ctx, r)
}

type pollResult struct {
	checks []status.TrackedCheck
	failed bool
}

// poll waits for every tracked check to settle or the poll budget to run
// out. Report URLs are shown once per check.
func (o *Orchestrator) poll(ctx context.Context, r *run) (pollResult, error) {
	agg := status.NewAggregator(o.settings.Registry)

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = o.settings.PollInterval
	wait.Multiplier = 1.5
	wait.RandomizationFactor = 0
	wait.MaxInterval = o.settings.PollMaxInterval
	wait.Reset()

	start := o.now()
	shown := make(map[string]bool)

	for n := 1; ; n++ {
		if err := o.sleep(ctx, wait.NextBackOff()); err != nil {
			return pollResult{}, err
		}

		combined, err := o.statuses.GetCombinedStatus(ctx, o.releases.Repo(), r.outcome.CommitSHA)
		switch {
		case ctx.Err() != nil:
			return pollResult{}, ctx.Err()
		case errors.Is(err, provider.ErrAuthFailed):
			return pollResult{}, fmt.Errorf("fetch status: %w", err)
		case err != nil:
			o.logger.Error("fetch status (poll %d): %v", n, err)
		default:
			agg.Reset()
			agg.Apply(reports(combined))
		}

		v := agg.Reduce()
		checks := agg.Checks()
		for _, c := range checks {
			if c.ReportURL != "" && !shown[c.DisplayName] {
				shown[c.DisplayName] = true
				o.logger.Debug("%s logs: %s", c.DisplayName, c.ReportURL)
				o.observer.ReportURL(c.DisplayName, c.ReportURL)
			}
		}
		o.logger.Debug("poll %d: %s", n, status.Line(checks))
		o.observer.Polled(n, checks)
		o.publish(ctx, r, Polling, status.Line(checks), checks)

		if v.Terminal {
			return pollResult{checks: checks, failed: v.Failed}, nil
		}

		if o.settings.MaxPolls > 0 && n >= o.settings.MaxPolls {
			o.logger.Error("giving up after %d polls; still waiting on %s", n, strings.Join(v.Pending, ", "))
			r.outcome.TimedOut = true
			return pollResult{checks: checks, failed: true}, nil
		}
		if o.settings.PollTimeout > 0 && o.now().Sub(start) >= o.settings.PollTimeout {
			o.logger.Error("giving up after %s; still waiting on %s", o.settings.PollTimeout, strings.Join(v.Pending, ", "))
			r.outcome.TimedOut = true
			return pollResult{checks: checks, failed: true}, nil
		}
	}
}

func reports(cs *github.CombinedStatus) []status.Report {
	out := make([]status.Report, 0, len(cs.Statuses))
	for _, s := range cs.Statuses {
		out = append(out, status.Report{Context: s.Context, State: s.State, TargetURL: s.TargetURL})
	}
	return out
}

func (o *Orchestrator) succeed(ctx context.Context, r *run) (*Outcome, error) {
	r.outcome.Verdict = contracts.VerdictSucceeded
	o.logger.Info("Downloading to %s/...", o.settings.WheelsDir)

	report, dlErr := o.releases.DownloadAll(ctx, r.outcome.ReleaseID, o.settings.WheelsDir)
	r.outcome.Downloaded = report.Downloaded
	r.outcome.DownloadDir = report.Dir
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if dlErr == nil && o.mirror != nil {
		if err := o.mirror.MirrorAssets(ctx, r.outcome.ReleaseID, report.Downloaded); err != nil {
			o.logger.Error("mirror %s: %v", r.outcome.ReleaseID, err)
		}
	}

	if err := o.releases.MarkRelease(ctx, r.outcome.ReleaseID, true); err != nil {
		o.logger.Error("%v", err)
	}
	o.finish(ctx, r, Succeeded)

	if dlErr != nil {
		return r.outcome, fmt.Errorf("download %s: %w", r.outcome.ReleaseID, dlErr)
	}
	return r.outcome, nil
}

func (o *Orchestrator) fail(ctx context.Context, r *run) (*Outcome, error) {
	r.outcome.Verdict = contracts.VerdictFailed
	if err := o.releases.MarkRelease(ctx, r.outcome.ReleaseID, false); err != nil {
		o.logger.Error("%v", err)
	}
	o.finish(ctx, r, Failed)
	return r.outcome, &BuildFailedError{Outcome: r.outcome}
}

func (o *Orchestrator) finish(ctx context.Context, r *run, s State) {
	r.outcome.FinishedAt = o.now()
	o.enter(ctx, r, s, "")
	o.observer.Finished(r.outcome)

	if o.history == nil {
		return
	}
	rec := r.outcome.Record()
	if err := o.history.SaveOutcome(ctx, &rec); err != nil {
		o.logger.Error("save build history: %v", err)
	}
}

func (o *Orchestrator) enter(ctx context.Context, r *run, s State, msg string) {
	if msg != "" {
		o.logger.Info("%s", msg)
	}
	o.logger.Debug("state %s (release %s)", s, r.outcome.ReleaseID)
	o.observer.StateChanged(s, r.outcome.ReleaseID)
	o.publish(ctx, r, s, msg, nil)
}

func (o *Orchestrator) publish(ctx context.Context, r *run, s State, msg string, checks []status.TrackedCheck) {
	if o.events == nil {
		return
	}
	ev := contracts.BuildEvent{
		RunID:     r.outcome.RunID,
		ReleaseID: r.outcome.ReleaseID,
		Phase:     string(s),
		Message:   msg,
		Checks:    checkStates(checks),
	}
	ctx, cancel := context.WithTimeout(ctx, o.eventTimeout)
	defer cancel()
	if err := o.events.Publish(ctx, ev); err != nil {
		o.logger.Error("publish %s event: %v", s, err)
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
