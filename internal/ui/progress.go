package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailfiler/internal/engine"
)

// recentLines is how many action outcomes the live display keeps
// visible.
const recentLines = 5

// DoneMsg ends the interactive display once the run has finished.
type DoneMsg struct {
	Stats       engine.Stats
	Interrupted bool
}

var (
	colorBlue = lipgloss.AdaptiveColor{Dark: "#4D96FF", Light: "#2B6CB0"}

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBlue).
			Padding(0, 1)
	panelTitle  = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
)

// Progress is the interactive display for one run: a live progress
// line, a statistics panel, the message currently being examined, and
// the most recent action outcomes. It consumes the engine's events;
// the engine itself runs in a separate goroutine and never touches
// terminal state.
type Progress struct {
	spinner spinner.Model
	cancel  func()

	totalMailboxes int
	mailbox        string
	mailboxTotal   int
	mailboxSeen    int

	subject string
	from    string
	to      string

	recent []string

	stats       engine.Stats
	interrupted bool
	done        bool

	width int
}

// NewProgress creates the display for a run over totalMailboxes
// mailboxes. cancel is invoked when the user interrupts; the run is
// then expected to finish the in-flight message and send a DoneMsg.
func NewProgress(cancel func(), totalMailboxes int) Progress {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorBlue)

	return Progress{
		spinner:        sp,
		cancel:         cancel,
		totalMailboxes: totalMailboxes,
		width:          80,
	}
}

func (m Progress) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case engine.Event:
		m.stats = msg.Stats
		switch msg.Kind {
		case engine.EventMailbox:
			m.mailbox = msg.Mailbox
			m.mailboxTotal = msg.Total
			m.mailboxSeen = 0
			m.subject, m.from, m.to = "", "", ""
		case engine.EventMessage:
			m.mailboxSeen++
			m.subject = msg.Subject
			m.from = msg.From
			m.to = msg.To
		case engine.EventAction:
			m.recent = append(m.recent, actionLine(msg))
			if len(m.recent) > recentLines {
				m.recent = m.recent[len(m.recent)-recentLines:]
			}
		}
		return m, nil

	case DoneMsg:
		m.stats = msg.Stats
		m.interrupted = m.interrupted || msg.Interrupted
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if !m.interrupted {
				m.interrupted = true
				m.cancel()
			}
			return m, nil
		}
	}
	return m, nil
}

func (m Progress) View() string {
	if m.done {
		// The final summary is printed by the caller once the
		// terminal is restored.
		return ""
	}

	var sections []string
	sections = append(sections, summaryTitle.Render("mailfiler"))
	sections = append(sections, m.progressPanel())
	sections = append(sections, m.statsPanel())
	sections = append(sections, m.currentPanel())
	if len(m.recent) > 0 {
		sections = append(sections, m.recentPanel())
	}
	if m.interrupted {
		sections = append(sections, bannerStyle.Render(
			"Interrupt received. Processing stops after the current message..."))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func (m Progress) progressPanel() string {
	if m.mailbox == "" {
		return panelStyle.Render(m.spinner.View() + "Initializing...")
	}
	lines := fmt.Sprintf("%sMailbox %d/%d: %s\nmessage %d/%d",
		m.spinner.View(),
		m.stats.Mailboxes, m.totalMailboxes, m.mailbox,
		m.mailboxSeen, m.mailboxTotal)
	return panelStyle.Render(lines)
}

func (m Progress) statsPanel() string {
	errors := fmt.Sprintf("%d", m.stats.Errors)
	if m.stats.Errors > 0 {
		errors = errStyle.Render(errors)
	}
	rows := []string{
		panelTitle.Render("Statistics"),
		fmt.Sprintf("Mailboxes %4d/%d", m.stats.Mailboxes, m.totalMailboxes),
		fmt.Sprintf("Messages  %6d", m.stats.Messages),
		fmt.Sprintf("Processed %6d", m.stats.Processed),
		fmt.Sprintf("Moved     %6d", m.stats.Moved),
		fmt.Sprintf("Deleted   %6d", m.stats.Deleted),
		fmt.Sprintf("Flagged   %6d", m.stats.Flagged),
		fmt.Sprintf("Errors    %6s", errors),
	}
	return panelStyle.Render(strings.Join(rows, "\n"))
}

func (m Progress) currentPanel() string {
	title := panelTitle.Render("Current: " + m.mailbox)
	if m.subject == "" {
		return panelStyle.Render(title + "\nWaiting...")
	}
	lines := []string{title, truncate(m.subject, 60)}
	if m.from != "" {
		lines = append(lines, "From: "+truncate(m.from, 50))
	}
	if m.to != "" {
		lines = append(lines, "To:   "+truncate(m.to, 50))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func (m Progress) recentPanel() string {
	return panelStyle.Render(
		panelTitle.Render("Actions") + "\n" + strings.Join(m.recent, "\n"))
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
