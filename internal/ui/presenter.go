// Package ui renders the engine's per-decision events and the run
// summary to the terminal. It owns all presentation state; the engine
// only emits events.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailfiler/internal/engine"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	colorGreen = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	colorRed   = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	colorGray  = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
)

var (
	verbStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	subtleStyle  = lipgloss.NewStyle().Foreground(colorGray)
	summaryTitle = lipgloss.NewStyle().Bold(true)
)

// Presenter writes one line per decision and a styled summary at the
// end of the run.
type Presenter struct {
	out io.Writer
}

// NewPresenter creates a Presenter writing to out.
func NewPresenter(out io.Writer) *Presenter {
	return &Presenter{out: out}
}

// HandleEvent renders one engine event. Progress markers are for the
// interactive display; only action outcomes get a log line here.
func (p *Presenter) HandleEvent(ev engine.Event) {
	if ev.Kind != engine.EventAction {
		return
	}
	fmt.Fprintln(p.out, actionLine(ev))
}

// actionLine renders one action outcome. Shared with the interactive
// progress display.
func actionLine(ev engine.Event) string {
	if ev.Err != nil {
		return fmt.Sprintf("%s %s %s: %v",
			errStyle.Render("error"), ev.MessageID,
			subtleStyle.Render("("+ev.Subject+")"), ev.Err)
	}

	verb := ev.Action
	if ev.DryRun {
		verb += " (dry run)"
	}
	line := fmt.Sprintf("%s %s %s %s",
		verbStyle.Render(verb), ev.MessageID,
		subtleStyle.Render("("+ev.Subject+")"), ev.Mailbox)
	if ev.Dest != "" {
		line += " -> " + ev.Dest
	}
	return line
}

// Summary renders the run statistics.
func (p *Presenter) Summary(stats engine.Stats, interrupted bool) {
	title := "Processing complete"
	if interrupted {
		title = "Processing interrupted"
	}
	fmt.Fprintln(p.out, summaryTitle.Render(title))

	fmt.Fprintf(p.out, "mailboxes %d, encountered %d messages, processed %d\n",
		stats.Mailboxes, stats.Messages, stats.Processed)
	fmt.Fprintf(p.out, "moved %d, deleted %d, flagged %d\n",
		stats.Moved, stats.Deleted, stats.Flagged)
	if stats.Errors > 0 {
		fmt.Fprintln(p.out, errStyle.Render(fmt.Sprintf("errors %d", stats.Errors)))
	}
}
