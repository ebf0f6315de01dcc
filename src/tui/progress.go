package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/explosion/wheelwright/src/orchestrator"
	"github.com/explosion/wheelwright/src/status"
)

// StateMsg reports a build phase change
type StateMsg struct {
	State     orchestrator.State
	ReleaseID string
}

// ReportURLMsg carries a check's log URL, sent once per check
type ReportURLMsg struct {
	Check string
	URL   string
}

// PolledMsg carries the checks after one status fetch
type PolledMsg struct {
	N      int
	Checks []status.TrackedCheck
}

// DoneMsg ends the view
type DoneMsg struct {
	Outcome *orchestrator.Outcome
	Err     error
}

type reportURL struct {
	check string
	url   string
}

// BuildModel is the live view of one build.
type BuildModel struct {
	title     string
	styles    *StyleConfig
	spinner   spinner.Model
	state     orchestrator.State
	releaseID string
	polls     int
	checks    []status.TrackedCheck
	urls      []reportURL
	outcome   *orchestrator.Outcome
	err       error
	done      bool
	quitting  bool
	width     int
}

func NewBuildModel(title string) BuildModel {
	styles := DefaultStyles()
	return BuildModel{
		title:  title,
		styles: styles,
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(styles.Pending)),
		),
	}
}

func (m BuildModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m BuildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case StateMsg:
		m.state = msg.State
		if msg.ReleaseID != "" {
			m.releaseID = msg.ReleaseID
		}
	case ReportURLMsg:
		m.urls = append(m.urls, reportURL{check: msg.Check, url: msg.URL})
	case PolledMsg:
		m.polls = msg.N
		m.checks = msg.Checks
	case DoneMsg:
		m.done = true
		m.outcome = msg.Outcome
		m.err = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m BuildModel) View() string {
	var lines []string
	lines = append(lines, m.styles.TitleStyle().Render(m.title))

	if m.done {
		if m.outcome != nil {
			lines = append(lines, Summary(m.styles, m.outcome))
		}
		if m.err != nil && m.outcome == nil {
			lines = append(lines, m.styles.StateStyle(status.Failure).Render("Error: "+m.err.Error()))
		}
		return m.fit(lines) + "\n"
	}
	if m.quitting {
		lines = append(lines, m.styles.HelpStyle().Render("Cancelling..."))
		return m.fit(lines) + "\n"
	}

	phase := phaseText(m.state)
	if m.releaseID != "" {
		phase += " " + m.releaseID
	}
	lines = append(lines, fmt.Sprintf("%s %s", m.spinner.View(), phase))

	if len(m.checks) > 0 {
		names := make([]string, 0, len(m.checks))
		for _, c := range m.checks {
			names = append(names, c.DisplayName)
		}
		w := nameWidth(names)
		var rows []string
		for _, c := range m.checks {
			rows = append(rows, PadRight(c.DisplayName, w)+"  "+m.styles.StateStyle(c.State).Render(string(c.State)))
		}
		lines = append(lines, m.styles.PanelStyle().Render(strings.Join(rows, "\n")))
		lines = append(lines, m.styles.HelpStyle().Render(fmt.Sprintf("poll %d", m.polls)))
	}
	for _, u := range m.urls {
		lines = append(lines, fmt.Sprintf("%s logs: %s", u.check, u.url))
	}
	lines = append(lines, m.styles.HelpStyle().Render("q: quit (cancels the build)"))
	return m.fit(lines) + "\n"
}

func (m BuildModel) fit(lines []string) string {
	var out []string
	for _, l := range lines {
		for _, row := range strings.Split(l, "\n") {
			out = append(out, FitLine(row, m.width))
		}
	}
	return strings.Join(out, "\n")
}

func phaseText(s orchestrator.State) string {
	switch s {
	case orchestrator.AllocatingRelease:
		return "Allocating release"
	case orchestrator.PublishingSpec:
		return "Publishing build spec for"
	case orchestrator.Polling:
		return "Waiting for CI on"
	case orchestrator.Succeeded:
		return "Downloaded"
	case orchestrator.Failed:
		return "Failed"
	default:
		return "Starting"
	}
}

// Sender is the part of *tea.Program the observer needs.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramObserver forwards orchestrator callbacks to a running program.
type ProgramObserver struct {
	p Sender
}

func NewProgramObserver(p Sender) *ProgramObserver {
	return &ProgramObserver{p: p}
}

func (o *ProgramObserver) StateChanged(s orchestrator.State, releaseID string) {
	o.p.Send(StateMsg{State: s, ReleaseID: releaseID})
}

func (o *ProgramObserver) ReportURL(check, url string) {
	o.p.Send(ReportURLMsg{Check: check, URL: url})
}

func (o *ProgramObserver) Polled(n int, checks []status.TrackedCheck) {
	o.p.Send(PolledMsg{N: n, Checks: checks})
}

// Finished is a no-op: the view ends on the DoneMsg sent by RunBuild, which
// also carries a failure that has no outcome.
func (o *ProgramObserver) Finished(*orchestrator.Outcome) {}

// BuildFunc runs one build, reporting to obs.
type BuildFunc func(ctx context.Context, obs orchestrator.Observer) (*orchestrator.Outcome, error)

// RunBuild shows build under a live view until it finishes. Quitting the
// view cancels the build.
func RunBuild(ctx context.Context, title string, build BuildFunc, opts ...tea.ProgramOption) (*orchestrator.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewBuildModel(title), opts...)

	type result struct {
		outcome *orchestrator.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := build(ctx, NewProgramObserver(p))
		done <- result{outcome: outcome, err: err}
		p.Send(DoneMsg{Outcome: outcome, Err: err})
	}()

	_, runErr := p.Run()
	cancel()
	r := <-done
	if runErr != nil && r.err == nil {
		return r.outcome, fmt.Errorf("run build view: %w", runErr)
	}
	return r.outcome, r.err
}
