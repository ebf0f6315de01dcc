package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/explosion/wheelwright/src/contracts"
	"github.com/explosion/wheelwright/src/orchestrator"
	"github.com/explosion/wheelwright/src/status"
)

// ConsoleObserver prints build progress as plain lines: report URLs once,
// a colored status line per poll and a summary at the end.
type ConsoleObserver struct {
	mu     sync.Mutex
	out    io.Writer
	styles *StyleConfig
	last   string
}

// NewConsoleObserver writes progress to out.
func NewConsoleObserver(out io.Writer) *ConsoleObserver {
	return &ConsoleObserver{out: out, styles: DefaultStyles()}
}

func (c *ConsoleObserver) StateChanged(orchestrator.State, string) {}

func (c *ConsoleObserver) ReportURL(check, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s logs: %s\n", check, url)
}

// Polled prints the status line only when it changed since the last poll.
func (c *ConsoleObserver) Polled(n int, checks []status.TrackedCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := status.Line(checks)
	if line == c.last {
		return
	}
	c.last = line
	fmt.Fprintln(c.out, c.styles.StatusLine(checks))
}

func (c *ConsoleObserver) Finished(o *orchestrator.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, Summary(c.styles, o))
}

// Summary renders the end-of-build report: verdict, release, every check
// with its URL and the downloaded wheels.
func Summary(styles *StyleConfig, o *orchestrator.Outcome) string {
	var b strings.Builder
	b.WriteString(styles.Verdict(o.Verdict == contracts.VerdictSucceeded, o.TimedOut))
	fmt.Fprintf(&b, "\nRelease: %s", o.ReleaseID)
	if o.ReleaseURL != "" {
		fmt.Fprintf(&b, " (%s)", o.ReleaseURL)
	}

	names := make([]string, 0, len(o.Checks))
	for _, ch := range o.Checks {
		names = append(names, ch.DisplayName)
	}
	w := nameWidth(names)
	for _, ch := range o.Checks {
		fmt.Fprintf(&b, "\n  %s  %s", PadRight(ch.DisplayName, w), styles.StateStyle(ch.State).Render(string(ch.State)))
		if ch.ReportURL != "" {
			fmt.Fprintf(&b, "  %s", ch.ReportURL)
		}
	}

	if len(o.Downloaded) > 0 {
		fmt.Fprintf(&b, "\nDownloaded %d file(s) to %s", len(o.Downloaded), o.DownloadDir)
		for _, a := range o.Downloaded {
			fmt.Fprintf(&b, "\n  %s", a.Name)
		}
	}
	return b.String()
}
