// Package contracts defines the records wheelwright publishes and stores.
package contracts

import "time"

// Build phases, in the order a run moves through them.
const (
	PhaseAllocatingRelease = "allocating_release"
	PhasePublishingSpec    = "publishing_spec"
	PhasePolling           = "polling"
	PhaseSucceeded         = "succeeded"
	PhaseFailed            = "failed"
)

// Verdicts of a finished build.
const (
	VerdictSucceeded = "succeeded"
	VerdictFailed    = "failed"
)

// CheckState is one tracked CI check as last observed.
type CheckState struct {
	Name  string `json:"name"`
	State string `json:"state"`
	URL   string `json:"url,omitempty"`
}

// BuildEvent reports a build run entering a phase or observing new statuses.
// Published to: wheelwright.builds.events
// Key: {release_id}
type BuildEvent struct {
	// Unique identifier.
	ID string `json:"id"`
	// Identifier shared by every event of one run.
	RunID     string `json:"run_id"`
	ReleaseID string `json:"release_id,omitempty"`
	Phase     string `json:"phase"`
	Message   string `json:"message,omitempty"`
	// Checks is set on polling events.
	Checks    []CheckState `json:"checks,omitempty"`
	Timestamp string       `json:"timestamp"`
}

// BuildRecord is the stored outcome of one build run.
type BuildRecord struct {
	RunID       string       `json:"run_id"`
	ReleaseID   string       `json:"release_id"`
	Repo        string       `json:"repo"`
	PackageName string       `json:"package_name"`
	Commit      string       `json:"commit"`
	Branch      string       `json:"branch"`
	CommitSHA   string       `json:"commit_sha"`
	ReleaseURL  string       `json:"release_url,omitempty"`
	Verdict     string       `json:"verdict"`
	TimedOut    bool         `json:"timed_out"`
	Checks      []CheckState `json:"checks"`
	Assets      []string     `json:"assets,omitempty"`
	DownloadDir string       `json:"download_dir,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// TopicBuildEvents carries BuildEvent messages.
const TopicBuildEvents = "wheelwright.builds.events"
