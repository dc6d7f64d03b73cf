// Package ui renders the live monitor status view: per-process scores and
// the most recent alerts, refreshed in place.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/NickEvans4130/Ransomware-Detection-System/alert"
	"github.com/NickEvans4130/Ransomware-Detection-System/model"
)

// alertTail is how many recent alerts stay on screen.
const alertTail = 8

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	headerStyle   = lipgloss.NewStyle().Faint(true)
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	suspectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	likelyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// SnapshotFn supplies the analyzer's per-process view.
type SnapshotFn func() []model.ProcessStatus

type tickMsg time.Time

type alertMsg model.AlertMessage

// Model is the bubbletea model for the status view.
type Model struct {
	snapshot SnapshotFn
	sub      *alert.Subscription

	processes []model.ProcessStatus
	alerts    []model.AlertMessage
	width     int
	started   time.Time
}

// NewModel creates the status view. sub may be nil (no alert tail).
func NewModel(snapshot SnapshotFn, sub *alert.Subscription) Model {
	return Model{snapshot: snapshot, sub: sub, started: time.Now()}
}

// Init starts the refresh tick and alert pump.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick()}
	if m.sub != nil {
		cmds = append(cmds, m.nextAlert())
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) nextAlert() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.sub.C()
		if !ok {
			return nil
		}
		return alertMsg(msg)
	}
}

// Update handles ticks, alerts, resizes, and quit keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		if m.snapshot != nil {
			m.processes = m.snapshot()
		}
		return m, tick()
	case alertMsg:
		m.alerts = append(m.alerts, model.AlertMessage(msg))
		if len(m.alerts) > alertTail {
			m.alerts = m.alerts[len(m.alerts)-alertTail:]
		}
		return m, m.nextAlert()
	}
	return m, nil
}

// View renders the status screen.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("ransomd — behavioral monitor"))
	b.WriteString(headerStyle.Render(fmt.Sprintf("  since %s · q to quit", m.started.Format("15:04:05"))))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s %-20s %6s %-11s %4s %6s %s",
		"PID", "PROCESS", "SCORE", "LEVEL", "ESC", "EVENTS", "LAST")))
	b.WriteString("\n")
	if len(m.processes) == 0 {
		b.WriteString(headerStyle.Render("(no active process windows)"))
		b.WriteString("\n")
	}
	for _, p := range m.processes {
		style := styleForLevel(p.Level)
		last := "-"
		if !p.LastEvent.IsZero() {
			last = humanize.Time(p.LastEvent)
		}
		b.WriteString(style.Render(fmt.Sprintf("%-8d %-20s %6d %-11s %4d %6d %s",
			p.PID, truncate(p.Process, 20), p.Score, p.Level.String(), p.Escalation, p.WindowLen, last)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("recent alerts"))
	b.WriteString("\n")
	if len(m.alerts) == 0 {
		b.WriteString(headerStyle.Render("(none)"))
		b.WriteString("\n")
	}
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		style := headerStyle
		switch a.Severity {
		case model.SeverityWarning:
			style = suspectStyle
		case model.SeverityCritical:
			style = criticalStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("%s  %-15s %s",
			a.Timestamp.Local().Format("15:04:05"), string(a.Type), summarize(a))))
		b.WriteString("\n")
	}
	return b.String()
}

func styleForLevel(l model.ThreatLevel) lipgloss.Style {
	switch l {
	case model.LevelCritical:
		return criticalStyle
	case model.LevelLikely:
		return likelyStyle
	case model.LevelSuspicious:
		return suspectStyle
	}
	return normalStyle
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func summarize(a model.AlertMessage) string {
	switch d := a.Data.(type) {
	case model.ThreatRecord:
		return fmt.Sprintf("pid=%d %s score=%d L%d", d.PID, d.Process, d.Score, d.Escalation)
	case model.RestoreResult:
		return fmt.Sprintf("entry=%d %s ok=%t integrity=%t", d.EntryID, d.Path, d.Success, d.IntegrityOK)
	case model.PendingAction:
		return fmt.Sprintf("#%d %s pid=%d %s", d.ID, string(d.Action), d.PID, string(d.Status))
	default:
		return fmt.Sprintf("%v", a.Data)
	}
}

// Run starts the status view and blocks until quit.
func Run(snapshot SnapshotFn, sub *alert.Subscription) error {
	p := tea.NewProgram(NewModel(snapshot, sub), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
