package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/buildspec"
	"github.com/explosion/wheelwright/src/contracts"
	"github.com/explosion/wheelwright/src/github"
	"github.com/explosion/wheelwright/src/provider"
	"github.com/explosion/wheelwright/src/status"
	"github.com/explosion/wheelwright/src/store"
)

const (
	appveyor = "continuous-integration/appveyor/branch"
	travis   = "continuous-integration/travis-ci/push"
)

type fakeReleases struct {
	spec        buildspec.Spec
	projectURL  string
	marked      map[string]bool
	downloaded  bool
	downloadErr error
}

func (f *fakeReleases) Repo() string { return "explosion/wheelwright" }

func (f *fakeReleases) AllocateRelease(ctx context.Context, base string) (string, error) {
	return base + "-2", nil
}

func (f *fakeReleases) CreateRelease(ctx context.Context, releaseID string, spec buildspec.Spec, projectURL string) (*github.Release, error) {
	f.spec = spec
	f.projectURL = projectURL
	return &github.Release{TagName: releaseID, HTMLURL: "https://github.com/explosion/wheelwright/releases/tag/" + releaseID}, nil
}

func (f *fakeReleases) PublishSpec(ctx context.Context, releaseID string, spec buildspec.Spec) (artifact.CommitRef, error) {
	return artifact.CommitRef{Branch: artifact.BranchName(releaseID), SHA: "0123456789abcdef"}, nil
}

func (f *fakeReleases) DownloadAll(ctx context.Context, releaseID, root string) (artifact.DownloadReport, error) {
	f.downloaded = true
	return artifact.DownloadReport{
		Dir:        root + "/" + releaseID,
		Downloaded: []artifact.Asset{{Name: "cymem-2.0-cp38-win_amd64.whl"}},
	}, f.downloadErr
}

func (f *fakeReleases) MarkRelease(ctx context.Context, releaseID string, ok bool) error {
	if f.marked == nil {
		f.marked = make(map[string]bool)
	}
	f.marked[releaseID] = ok
	return nil
}

// scriptedStatuses returns one combined status per poll, repeating the last.
type scriptedStatuses struct {
	script [][]github.Status
	calls  int
	err    error
}

func (s *scriptedStatuses) GetCombinedStatus(ctx context.Context, repo, ref string) (*github.CombinedStatus, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	return &github.CombinedStatus{SHA: ref, Statuses: s.script[i]}, nil
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type recordingObserver struct {
	states []State
	urls   []string
	polls  int
	final  *Outcome
}

func (r *recordingObserver) StateChanged(s State, releaseID string) { r.states = append(r.states, s) }
func (r *recordingObserver) ReportURL(check, url string)            { r.urls = append(r.urls, check+"="+url) }
func (r *recordingObserver) Polled(n int, checks []status.TrackedCheck) {
	r.polls = n
}
func (r *recordingObserver) Finished(o *Outcome) { r.final = o }

type recordingEvents struct {
	mu     sync.Mutex
	events []contracts.BuildEvent
}

func (r *recordingEvents) Publish(ctx context.Context, ev contracts.BuildEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type harness struct {
	releases *fakeReleases
	statuses *scriptedStatuses
	clock    *fakeClock
	observer *recordingObserver
	events   *recordingEvents
	history  *store.MemoryStore
	orch     *Orchestrator
}

func newHarness(settings Settings, script ...[]github.Status) *harness {
	h := &harness{
		releases: &fakeReleases{},
		statuses: &scriptedStatuses{script: script},
		clock:    &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		observer: &recordingObserver{},
		events:   &recordingEvents{},
		history:  store.NewMemoryStore(),
	}
	if settings.PollInterval == 0 {
		settings.PollInterval = 10 * time.Second
	}
	if settings.PollMaxInterval == 0 {
		settings.PollMaxInterval = time.Minute
	}
	settings.WheelsDir = "/wheels"
	h.orch = New(h.releases, h.statuses, settings,
		WithClock(h.clock.Now, h.clock.Sleep),
		WithObserver(h.observer),
		WithEvents(h.events),
		WithHistory(h.history),
	)
	h.orch.newRunID = func() string { return "run-1" }
	return h
}

var request = Request{Repo: "explosion/cymem", Commit: "abc123"}

func TestOrchestrator_Success(t *testing.T) {
	h := newHarness(Settings{},
		nil,
		[]github.Status{{Context: travis, State: "pending", TargetURL: "https://travis/1"}},
		[]github.Status{
			{Context: travis, State: "pending", TargetURL: "https://travis/1"},
			{Context: appveyor, State: "pending", TargetURL: "https://appveyor/1"},
		},
		[]github.Status{
			{Context: travis, State: "success", TargetURL: "https://travis/1"},
			{Context: appveyor, State: "success", TargetURL: "https://appveyor/1"},
			{Context: "continuous-integration/travis-ci/pr", State: "failure"},
		},
	)

	outcome, err := h.orch.Run(context.Background(), request)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if outcome.Verdict != contracts.VerdictSucceeded {
		t.Errorf("Verdict = %s, want succeeded", outcome.Verdict)
	}
	if outcome.ReleaseID != "cymem-abc123-2" {
		t.Errorf("ReleaseID = %s, want cymem-abc123-2", outcome.ReleaseID)
	}
	if outcome.Branch != "branch-for-cymem-abc123-2" {
		t.Errorf("Branch = %s", outcome.Branch)
	}
	if !h.releases.downloaded {
		t.Error("wheels were not downloaded")
	}
	if ok, marked := h.releases.marked["cymem-abc123-2"]; !marked || !ok {
		t.Errorf("release marked = %v, %v, want success mark", ok, marked)
	}
	if len(outcome.Downloaded) != 1 {
		t.Errorf("Downloaded = %v", outcome.Downloaded)
	}

	spec := h.releases.spec
	if spec.CloneURL != "https://github.com/explosion/cymem.git" || spec.PackageName != "cymem" || spec.UploadTo.ReleaseID != "cymem-abc123-2" {
		t.Errorf("spec = %+v", spec)
	}
	if h.releases.projectURL != "https://github.com/explosion/cymem" {
		t.Errorf("projectURL = %s", h.releases.projectURL)
	}

	wantURLs := []string{"Travis=https://travis/1", "Appveyor=https://appveyor/1"}
	if !reflect.DeepEqual(h.observer.urls, wantURLs) {
		t.Errorf("report URLs = %v, want %v", h.observer.urls, wantURLs)
	}
	wantStates := []State{AllocatingRelease, PublishingSpec, Polling, Succeeded}
	if !reflect.DeepEqual(h.observer.states, wantStates) {
		t.Errorf("states = %v, want %v", h.observer.states, wantStates)
	}
	if h.observer.polls != 4 {
		t.Errorf("polls = %d, want 4", h.observer.polls)
	}

	wantSleeps := []time.Duration{10 * time.Second, 15 * time.Second, 22500 * time.Millisecond, 33750 * time.Millisecond}
	if !durationsEqual(h.clock.sleeps, wantSleeps) {
		t.Errorf("sleeps = %v, want %v", h.clock.sleeps, wantSleeps)
	}

	rec, err := h.history.GetOutcome(context.Background(), "cymem-abc123-2")
	if err != nil {
		t.Fatalf("history not saved: %v", err)
	}
	if rec.Verdict != contracts.VerdictSucceeded || len(rec.Assets) != 1 || rec.RunID != "run-1" {
		t.Errorf("history record = %+v", rec)
	}

	phases := make([]string, 0, len(h.events.events))
	for _, ev := range h.events.events {
		phases = append(phases, ev.Phase)
	}
	wantPhases := []string{"allocating_release", "publishing_spec", "polling", "polling", "polling", "polling", "polling", "succeeded"}
	if !reflect.DeepEqual(phases, wantPhases) {
		t.Errorf("event phases = %v, want %v", phases, wantPhases)
	}
}

func TestOrchestrator_StickyFailure(t *testing.T) {
	h := newHarness(Settings{},
		[]github.Status{
			{Context: appveyor, State: "failure", TargetURL: "https://appveyor/9"},
			{Context: travis, State: "pending", TargetURL: "https://travis/9"},
		},
		[]github.Status{
			{Context: appveyor, State: "success", TargetURL: "https://appveyor/10"},
			{Context: travis, State: "success", TargetURL: "https://travis/9"},
		},
	)

	outcome, err := h.orch.Run(context.Background(), request)
	if !errors.Is(err, provider.ErrBuildFailed) {
		t.Fatalf("Run() error = %v, want ErrBuildFailed", err)
	}
	if errors.Is(err, provider.ErrPollTimeout) {
		t.Error("failure should not count as a timeout")
	}
	if outcome == nil || outcome.Verdict != contracts.VerdictFailed {
		t.Fatalf("outcome = %+v, want failed", outcome)
	}
	if h.statuses.calls != 2 {
		t.Errorf("polls = %d, want 2 (poll until terminal)", h.statuses.calls)
	}
	if h.releases.downloaded {
		t.Error("failed build must not download")
	}
	if ok, marked := h.releases.marked["cymem-abc123-2"]; !marked || ok {
		t.Errorf("release marked = %v, %v, want failure mark", ok, marked)
	}

	failed := outcome.FailedChecks()
	if len(failed) != 1 || failed[0].DisplayName != "Appveyor" || failed[0].ReportURL != "https://appveyor/9" {
		t.Errorf("FailedChecks() = %+v, want Appveyor failure at https://appveyor/9", failed)
	}

	msg := err.Error()
	for _, want := range []string{"cymem-abc123-2", "Appveyor: failure (https://appveyor/9)", "https://travis/9"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %s", msg, want)
		}
	}

	got, ok := AsBuildFailed(err)
	if !ok || got != outcome {
		t.Errorf("AsBuildFailed() = %v, %v", got, ok)
	}
}

func TestOrchestrator_ImmediateFailure(t *testing.T) {
	h := newHarness(Settings{}, []github.Status{
		{Context: appveyor, State: "error", TargetURL: "https://appveyor/1"},
		{Context: travis, State: "failure", TargetURL: "https://travis/1"},
	})

	outcome, err := h.orch.Run(context.Background(), request)
	if !errors.Is(err, provider.ErrBuildFailed) {
		t.Fatalf("Run() error = %v, want ErrBuildFailed", err)
	}
	if len(outcome.FailedChecks()) != 2 {
		t.Errorf("FailedChecks() = %v, want both", outcome.FailedChecks())
	}
}

func TestOrchestrator_Timeouts(t *testing.T) {
	pending := []github.Status{{Context: travis, State: "success"}, {Context: appveyor, State: "pending"}}

	tests := []struct {
		name      string
		settings  Settings
		wantPolls int
	}{
		{
			name:      "max polls",
			settings:  Settings{MaxPolls: 3},
			wantPolls: 3,
		},
		{
			name:      "wall clock",
			settings:  Settings{PollTimeout: 30 * time.Second},
			wantPolls: 3, // 10s + 15s + 22.5s crosses 30s on the third poll
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.settings, pending)

			outcome, err := h.orch.Run(context.Background(), request)
			if !errors.Is(err, provider.ErrBuildFailed) || !errors.Is(err, provider.ErrPollTimeout) {
				t.Fatalf("Run() error = %v, want ErrBuildFailed and ErrPollTimeout", err)
			}
			if !outcome.TimedOut {
				t.Error("TimedOut = false, want true")
			}
			if h.statuses.calls != tt.wantPolls {
				t.Errorf("polls = %d, want %d", h.statuses.calls, tt.wantPolls)
			}
			if outcome.Checks[0].State != status.Pending {
				t.Errorf("Appveyor state = %s, want pending kept", outcome.Checks[0].State)
			}
			if h.releases.downloaded {
				t.Error("timed out build must not download")
			}
		})
	}
}

func TestOrchestrator_CheckNeverReports(t *testing.T) {
	h := newHarness(Settings{PollTimeout: time.Minute}, []github.Status{{Context: travis, State: "success"}})

	outcome, err := h.orch.Run(context.Background(), request)
	if !errors.Is(err, provider.ErrPollTimeout) {
		t.Fatalf("Run() error = %v, want ErrPollTimeout", err)
	}
	if outcome.Verdict != contracts.VerdictFailed {
		t.Errorf("Verdict = %s, want failed", outcome.Verdict)
	}
	if outcome.Checks[0].State != status.NotAvailable {
		t.Errorf("Appveyor state = %s, want n/a", outcome.Checks[0].State)
	}
	if outcome.Checks[1].State != status.Success {
		t.Errorf("Travis state = %s, want success", outcome.Checks[1].State)
	}
}

func TestOrchestrator_DefaultPollBound(t *testing.T) {
	h := newHarness(Settings{}, []github.Status{{Context: travis, State: "success"}})

	outcome, err := h.orch.Run(context.Background(), request)
	if !errors.Is(err, provider.ErrPollTimeout) {
		t.Fatalf("Run() error = %v, want ErrPollTimeout", err)
	}
	if !outcome.TimedOut {
		t.Error("TimedOut = false, want true")
	}
	if elapsed := h.clock.now.Sub(outcome.StartedAt); elapsed < DefaultPollTimeout || elapsed > DefaultPollTimeout+time.Minute {
		t.Errorf("polled for %s, want about %s", elapsed, DefaultPollTimeout)
	}
}

// stalledEvents blocks every publish until its context ends.
type stalledEvents struct {
	calls int
}

func (s *stalledEvents) Publish(ctx context.Context, ev contracts.BuildEvent) error {
	s.calls++
	<-ctx.Done()
	return ctx.Err()
}

func TestOrchestrator_StalledEventsDoNotBlock(t *testing.T) {
	h := newHarness(Settings{}, []github.Status{
		{Context: appveyor, State: "success"},
		{Context: travis, State: "success"},
	})
	events := &stalledEvents{}
	WithEvents(events)(h.orch)
	WithEventTimeout(10 * time.Millisecond)(h.orch)

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Run(context.Background(), request)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() blocked on event publishing")
	}
	if events.calls == 0 {
		t.Error("no events were attempted")
	}
}

func TestOrchestrator_BackoffCapped(t *testing.T) {
	pending := []github.Status{{Context: travis, State: "pending"}}
	h := newHarness(Settings{PollMaxInterval: 20 * time.Second, MaxPolls: 5}, pending)

	h.orch.Run(context.Background(), request)

	want := []time.Duration{10 * time.Second, 15 * time.Second, 20 * time.Second, 20 * time.Second, 20 * time.Second}
	if !durationsEqual(h.clock.sleeps, want) {
		t.Errorf("sleeps = %v, want %v", h.clock.sleeps, want)
	}
}

func TestOrchestrator_Cancelled(t *testing.T) {
	h := newHarness(Settings{}, []github.Status{{Context: travis, State: "pending"}})

	ctx, cancel := context.WithCancel(context.Background())
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	outcome, err := h.orch.Run(ctx, request)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if outcome != nil {
		t.Errorf("outcome = %+v, want nil", outcome)
	}
	if len(h.releases.marked) != 0 {
		t.Error("cancelled build must leave the release untouched")
	}
}

func TestOrchestrator_AuthErrorWhilePolling(t *testing.T) {
	h := newHarness(Settings{}, nil)
	h.statuses.err = fmt.Errorf("status: %w", provider.ErrAuthFailed)

	_, err := h.orch.Run(context.Background(), request)
	if !errors.Is(err, provider.ErrAuthFailed) {
		t.Errorf("Run() error = %v, want ErrAuthFailed", err)
	}
}

func TestOrchestrator_PartialDownload(t *testing.T) {
	h := newHarness(Settings{}, []github.Status{{Context: travis, State: "success"}, {Context: appveyor, State: "success"}})
	h.releases.downloadErr = fmt.Errorf("%w: 1 of 2 assets", provider.ErrPartialDownload)

	outcome, err := h.orch.Run(context.Background(), request)
	if !errors.Is(err, provider.ErrPartialDownload) {
		t.Fatalf("Run() error = %v, want ErrPartialDownload", err)
	}
	if outcome == nil || outcome.Verdict != contracts.VerdictSucceeded {
		t.Errorf("outcome = %+v, want succeeded verdict", outcome)
	}
}

func TestOrchestrator_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "no slash", req: Request{Repo: "cymem", Commit: "abc"}},
		{name: "too many parts", req: Request{Repo: "a/b/c", Commit: "abc"}},
		{name: "no commit", req: Request{Repo: "explosion/cymem"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(Settings{}, nil)
			if _, err := h.orch.Run(context.Background(), tt.req); !errors.Is(err, provider.ErrConfig) {
				t.Errorf("Run() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestOrchestrator_PackageNameOverride(t *testing.T) {
	h := newHarness(Settings{}, []github.Status{{Context: travis, State: "success"}, {Context: appveyor, State: "success"}})

	outcome, err := h.orch.Run(context.Background(), Request{Repo: "explosion/spaCy", Commit: "v2.1.0", PackageName: "spacy", Options: map[string]any{"llvm": true}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.ReleaseID != "spacy-v2.1.0-2" {
		t.Errorf("ReleaseID = %s, want spacy-v2.1.0-2", outcome.ReleaseID)
	}
	if h.releases.spec.Options["llvm"] != true {
		t.Errorf("Options = %v, want llvm", h.releases.spec.Options)
	}
}

func durationsEqual(got, want []time.Duration) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i].Round(time.Millisecond) != want[i] {
			return false
		}
	}
	return true
}
