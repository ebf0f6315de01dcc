package orchestrator

import "github.com/explosion/wheelwright/src/status"

// Observer follows a run for display. Calls come from the goroutine
// executing Run.
type Observer interface {
	StateChanged(s State, releaseID string)
	// ReportURL is called once per check, the first time it reports a URL.
	ReportURL(check, url string)
	Polled(n int, checks []status.TrackedCheck)
	Finished(o *Outcome)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) StateChanged(State, string)        {}
func (NopObserver) ReportURL(string, string)          {}
func (NopObserver) Polled(int, []status.TrackedCheck) {}
func (NopObserver) Finished(*Outcome)                 {}
