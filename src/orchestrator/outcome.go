package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/contracts"
	"github.com/explosion/wheelwright/src/provider"
	"github.com/explosion/wheelwright/src/status"
)

// Outcome is the result of one build run.
type Outcome struct {
	RunID       string
	Repo        string
	PackageName string
	Commit      string
	ReleaseID   string
	ReleaseURL  string
	Branch      string
	CommitSHA   string
	// Verdict is contracts.VerdictSucceeded or contracts.VerdictFailed.
	Verdict string
	// Checks are in registry order.
	Checks      []status.TrackedCheck
	TimedOut    bool
	Downloaded  []artifact.Asset
	DownloadDir string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// FailedChecks returns the checks that reported failure or error.
func (o *Outcome) FailedChecks() []status.TrackedCheck {
	var out []status.TrackedCheck
	for _, c := range o.Checks {
		if c.State.Bad() {
			out = append(out, c)
		}
	}
	return out
}

// Record converts the outcome to its stored form.
func (o *Outcome) Record() contracts.BuildRecord {
	rec := contracts.BuildRecord{
		RunID:       o.RunID,
		ReleaseID:   o.ReleaseID,
		Repo:        o.Repo,
		PackageName: o.PackageName,
		Commit:      o.Commit,
		Branch:      o.Branch,
		CommitSHA:   o.CommitSHA,
		ReleaseURL:  o.ReleaseURL,
		Verdict:     o.Verdict,
		TimedOut:    o.TimedOut,
		Checks:      checkStates(o.Checks),
		DownloadDir: o.DownloadDir,
		StartedAt:   o.StartedAt,
		FinishedAt:  o.FinishedAt,
	}
	for _, a := range o.Downloaded {
		rec.Assets = append(rec.Assets, a.Name)
	}
	return rec
}

func checkStates(checks []status.TrackedCheck) []contracts.CheckState {
	if len(checks) == 0 {
		return nil
	}
	out := make([]contracts.CheckState, 0, len(checks))
	for _, c := range checks {
		out = append(out, contracts.CheckState{Name: c.DisplayName, State: string(c.State), URL: c.ReportURL})
	}
	return out
}

// BuildFailedError is returned when CI reported a failure or never
// finished. It always names the release and every check with its URL.
type BuildFailedError struct {
	Outcome *Outcome
}

func (e *BuildFailedError) Error() string {
	var b strings.Builder
	if e.Outcome.TimedOut {
		fmt.Fprintf(&b, "build %s timed out", e.Outcome.ReleaseID)
	} else {
		fmt.Fprintf(&b, "build %s failed", e.Outcome.ReleaseID)
	}
	for _, c := range e.Outcome.Checks {
		fmt.Fprintf(&b, "\n  %s: %s", c.DisplayName, c.State)
		if c.ReportURL != "" {
			fmt.Fprintf(&b, " (%s)", c.ReportURL)
		}
	}
	return b.String()
}

func (e *BuildFailedError) Unwrap() []error {
	if e.Outcome.TimedOut {
		return []error{provider.ErrBuildFailed, provider.ErrPollTimeout}
	}
	return []error{provider.ErrBuildFailed}
}

// AsBuildFailed extracts the outcome of a failed build from err.
func AsBuildFailed(err error) (*Outcome, bool) {
	var bf *BuildFailedError
	if errors.As(err, &bf) {
		return bf.Outcome, true
	}
	return nil, false
}
