package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/rrfs-ci/autoci/internal/expt"
)

// maxActivity bounds the activity log shown under the experiment table.
const maxActivity = 8

// EventMsg carries one poller event into the program.
type EventMsg struct {
	Event expt.Event
	At    time.Time
}

// DoneMsg is sent once the poll session has returned.
type DoneMsg struct {
	Summary *expt.Summary
	Err     error
}

// ExperimentRow is the display state of one experiment.
type ExperimentRow struct {
	Name     string
	State    expt.State
	LastLine string
}

type activityEntry struct {
	at      time.Time
	kind    expt.EventKind
	message string
}

// PollApp is the bubbletea model for a live poll session.
type PollApp struct {
	root          string
	maxIterations int
	iteration     int
	rows          map[string]*ExperimentRow
	activity      []activityEntry

	spinner  spinner.Model
	width    int
	done     bool
	quitting bool
	summary  *expt.Summary
	err      error

	// onQuit is called when the user quits before the session ends.
	onQuit func()

	titleStyle     lipgloss.Style
	labelStyle     lipgloss.Style
	valueStyle     lipgloss.Style
	progressFull   lipgloss.Style
	progressEmpty  lipgloss.Style
	completedStyle lipgloss.Style
	failedStyle    lipgloss.Style
	pendingStyle   lipgloss.Style
	mutedStyle     lipgloss.Style
}

// NewPollApp creates the model. onQuit may be nil.
func NewPollApp(root string, opts expt.Options, onQuit func()) *PollApp {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &PollApp{
		root:          root,
		maxIterations: opts.MaxIterations,
		rows:          make(map[string]*ExperimentRow),
		spinner:       s,
		onQuit:        onQuit,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),
		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14),
		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),
		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		completedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),
		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),
		mutedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// Init implements tea.Model.
func (a *PollApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *PollApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !a.done {
				a.quitting = true
				if a.onQuit != nil {
					a.onQuit()
				}
			}
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width

	case spinner.TickMsg:
		if a.done {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.apply(msg)

	case DoneMsg:
		a.done = true
		a.summary = msg.Summary
		a.err = msg.Err
		if msg.Summary != nil {
			a.iteration = msg.Summary.Iterations
			for _, e := range msg.Summary.Experiments {
				a.rows[e.Name] = &ExperimentRow{Name: e.Name, State: e.State, LastLine: e.LastLine}
			}
		}
		return a, tea.Quit
	}

	return a, nil
}

func (a *PollApp) apply(msg EventMsg) {
	ev := msg.Event
	switch ev.Kind {
	case expt.EventIteration:
		a.iteration = ev.Iteration
		return
	case expt.EventReadError:
		a.log(msg, fmt.Sprintf("%s: %v", ev.Name, ev.Err))
		return
	}

	state, ok := ev.State()
	if !ok {
		return
	}
	row, exists := a.rows[ev.Name]
	if !exists {
		row = &ExperimentRow{Name: ev.Name}
		a.rows[ev.Name] = row
	}
	// Terminal rows never move back to pending.
	if row.State.Terminal() && !state.Terminal() {
		return
	}
	row.State = state
	if ev.Line != "" {
		row.LastLine = ev.Line
	}

	switch ev.Kind {
	case expt.EventDiscovered:
		a.log(msg, ev.Name)
	case expt.EventCompleted, expt.EventFailed:
		a.log(msg, fmt.Sprintf("%s: %s", ev.Name, ev.Line))
	}
}

func (a *PollApp) log(msg EventMsg, text string) {
	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}
	a.activity = append(a.activity, activityEntry{at: at, kind: msg.Event.Kind, message: text})
	if len(a.activity) > maxActivity {
		a.activity = a.activity[len(a.activity)-maxActivity:]
	}
}

// Rows returns the experiments in name order.
func (a *PollApp) Rows() []ExperimentRow {
	out := make([]ExperimentRow, 0, len(a.rows))
	for _, r := range a.rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Counts returns completed, failed, and total experiments seen so far.
func (a *PollApp) Counts() (completed, failed, total int) {
	for _, r := range a.rows {
		switch r.State {
		case expt.StateCompleted:
			completed++
		case expt.StateFailed:
			failed++
		}
	}
	return completed, failed, len(a.rows)
}

// Iteration returns the last iteration reported by the poller.
func (a *PollApp) Iteration() int {
	return a.iteration
}

// Done reports whether the session has returned.
func (a *PollApp) Done() bool {
	return a.done
}

// Quitting reports whether the user quit before the session ended.
func (a *PollApp) Quitting() bool {
	return a.quitting
}

// View implements tea.Model.
func (a *PollApp) View() string {
	var b strings.Builder

	b.WriteString(a.titleStyle.Render("Experiment Poll"))
	b.WriteString("\n")

	b.WriteString(a.labelStyle.Render("Root:"))
	b.WriteString(a.valueStyle.Render(a.root))
	b.WriteString("\n")

	iter := fmt.Sprintf("%d", a.iteration)
	if a.maxIterations > 0 {
		iter = fmt.Sprintf("%d/%d", a.iteration, a.maxIterations)
	}
	b.WriteString(a.labelStyle.Render("Iteration:"))
	b.WriteString(a.valueStyle.Render(iter))
	b.WriteString("\n")

	completed, failed, total := a.Counts()
	b.WriteString(a.labelStyle.Render("Experiments:"))
	b.WriteString(fmt.Sprintf("%s done, %s failed, %d seen",
		a.completedStyle.Render(fmt.Sprintf("%d", completed)),
		a.failedStyle.Render(fmt.Sprintf("%d", failed)),
		total))
	b.WriteString("\n")

	pct := 0.0
	if total > 0 {
		pct = float64(completed+failed) / float64(total) * 100
	}
	b.WriteString(a.renderProgressBar(pct, 30))
	b.WriteString("\n\n")

	for _, row := range a.Rows() {
		b.WriteString(a.renderRow(row))
		b.WriteString("\n")
	}

	if len(a.activity) > 0 {
		b.WriteString("\n")
		b.WriteString(a.valueStyle.Render("Activity"))
		b.WriteString("\n")
		for _, e := range a.activity {
			b.WriteString(fmt.Sprintf("  %s %-10s %s\n",
				a.mutedStyle.Render(e.at.Format("15:04:05")),
				e.kind.String(),
				a.truncate(e.message, 20)))
		}
	}

	b.WriteString("\n")
	b.WriteString(a.footer())
	b.WriteString("\n")
	return b.String()
}

func (a *PollApp) renderRow(row ExperimentRow) string {
	var marker string
	switch row.State {
	case expt.StateCompleted:
		marker = a.completedStyle.Render("done   ")
	case expt.StateFailed:
		marker = a.failedStyle.Render("FAILED ")
	default:
		marker = a.pendingStyle.Render("running")
	}
	line := fmt.Sprintf("  %s  %s", marker, row.Name)
	if row.LastLine != "" {
		line += a.mutedStyle.Render("  " + a.truncate(row.LastLine, len(row.Name)+14))
	}
	return line
}

func (a *PollApp) footer() string {
	if !a.done {
		if a.quitting {
			return a.mutedStyle.Render("Stopping...")
		}
		return fmt.Sprintf("%s %s", a.spinner.View(), a.mutedStyle.Render("Polling. Press q to stop."))
	}
	if a.err != nil {
		return a.failedStyle.Render(fmt.Sprintf("Poll failed: %v", a.err))
	}
	if a.summary == nil {
		return a.mutedStyle.Render("Poll finished.")
	}
	msg := fmt.Sprintf("Done: %d of %d", a.summary.Completed, a.summary.Total)
	if a.summary.TimedOut {
		return a.pendingStyle.Render(msg + " (timed out)")
	}
	if a.summary.Failed > 0 {
		return a.failedStyle.Render(msg)
	}
	return a.completedStyle.Render(msg)
}

// truncate shortens s to fit the terminal after used columns. Unknown
// width leaves s alone.
func (a *PollApp) truncate(s string, used int) string {
	room := a.width - used
	if a.width == 0 || len(s) <= room {
		return s
	}
	if room <= 3 {
		return ""
	}
	return s[:room-3] + "..."
}

func (a *PollApp) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	bar := a.progressFull.Render(strings.Repeat("█", filled)) +
		a.progressEmpty.Render(strings.Repeat("░", width-filled))
	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

// NewPollProgram creates a program for a poll session. The view renders
// inline so tracker output written after it exits stays readable.
func NewPollProgram(root string, opts expt.Options, onQuit func(), progOpts ...tea.ProgramOption) (*tea.Program, *PollApp) {
	app := NewPollApp(root, opts, onQuit)
	return tea.NewProgram(app, progOpts...), app
}

// Observer returns a poller observer that forwards events to p. Send
// returns once the program has exited, so a quit never stalls the poller.
func Observer(p *tea.Program) func(expt.Event) {
	return func(ev expt.Event) {
		p.Send(EventMsg{Event: ev, At: time.Now()})
	}
}
