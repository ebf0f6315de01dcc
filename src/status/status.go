// Package status reduces the commit statuses reported by several CI vendors
// to a single verdict over a fixed set of tracked checks.
package status

import (
	"fmt"
	"strings"

	"github.com/explosion/wheelwright/src/provider"
)

// State is the reported state of one tracked check.
type State string

const (
	NotAvailable State = "n/a"
	Pending      State = "pending"
	Success      State = "success"
	Failure      State = "failure"
	Error        State = "error"
)

// ParseState maps a raw vendor state. Unknown values count as pending.
func ParseState(raw string) State {
	switch State(strings.ToLower(raw)) {
	case Success:
		return Success
	case Failure:
		return Failure
	case Error:
		return Error
	default:
		return Pending
	}
}

// Final reports whether the check will not change again.
func (s State) Final() bool {
	return s == Success || s == Failure || s == Error
}

// Bad reports whether the state fails the build.
func (s State) Bad() bool {
	return s == Failure || s == Error
}

// Report is one raw status as returned by the hosting API.
type Report struct {
	Context   string
	State     string
	TargetURL string
}

// TrackedCheck is the current view of one registry entry.
type TrackedCheck struct {
	ExternalKey string `json:"external_key"`
	DisplayName string `json:"display_name"`
	State       State  `json:"state"`
	ReportURL   string `json:"report_url,omitempty"`
}

// Verdict is the reduction of all tracked checks.
type Verdict struct {
	Terminal bool
	Failed   bool
	Pending  []string
}

// Aggregator tracks the checks of one build run. It is not safe for
// concurrent use.
type Aggregator struct {
	registry provider.Registry
	checks   []TrackedCheck
	index    map[string]int
	// failures keeps the last bad report per check index, so a check that
	// recovers later in the run still shows why the build failed.
	failures map[int]TrackedCheck
}

// NewAggregator starts a run with every check NotAvailable.
func NewAggregator(registry provider.Registry) *Aggregator {
	a := &Aggregator{
		registry: registry,
		checks:   make([]TrackedCheck, len(registry)),
		index:    make(map[string]int, len(registry)),
		failures: make(map[int]TrackedCheck),
	}
	for i, c := range registry {
		a.index[c.ExternalKey] = i
	}
	a.Reset()
	return a
}

// Reset sets every tracked check back to NotAvailable for a new poll cycle.
// Failures already observed in this run stay sticky.
func (a *Aggregator) Reset() map[string]TrackedCheck {
	out := make(map[string]TrackedCheck, len(a.registry))
	for i, c := range a.registry {
		a.checks[i] = TrackedCheck{
			ExternalKey: c.ExternalKey,
			DisplayName: c.DisplayName,
			State:       NotAvailable,
		}
		out[c.DisplayName] = a.checks[i]
	}
	return out
}

// Apply records reports whose context exactly matches a tracked check.
// Later reports for the same context overwrite earlier ones.
func (a *Aggregator) Apply(reports []Report) {
	for _, r := range reports {
		i, ok := a.index[r.Context]
		if !ok {
			continue
		}
		state := ParseState(r.State)
		a.checks[i].State = state
		a.checks[i].ReportURL = r.TargetURL
		if state.Bad() {
			a.failures[i] = a.checks[i]
		}
	}
}

// Reduce computes the verdict over the current states.
func (a *Aggregator) Reduce() Verdict {
	v := Verdict{Terminal: true, Failed: len(a.failures) > 0}
	for _, c := range a.checks {
		if !c.State.Final() {
			v.Terminal = false
			v.Pending = append(v.Pending, c.DisplayName)
		}
		if c.State.Bad() {
			v.Failed = true
		}
	}
	return v
}

// Checks returns the tracked checks in registry order. A check that failed
// earlier in the run keeps its bad state and report URL.
func (a *Aggregator) Checks() []TrackedCheck {
	out := make([]TrackedCheck, len(a.checks))
	copy(out, a.checks)
	for i, f := range a.failures {
		if !out[i].State.Bad() {
			out[i] = f
		}
	}
	return out
}

// Failures returns every check that reported failure or error during the
// run, in registry order.
func (a *Aggregator) Failures() []TrackedCheck {
	var out []TrackedCheck
	for _, c := range a.Checks() {
		if c.State.Bad() {
			out = append(out, c)
		}
	}
	return out
}

// Line renders "[Appveyor - success] [Travis - pending]".
func Line(checks []TrackedCheck) string {
	parts := make([]string, 0, len(checks))
	for _, c := range checks {
		parts = append(parts, fmt.Sprintf("[%s - %s]", c.DisplayName, c.State))
	}
	return strings.Join(parts, " ")
}
