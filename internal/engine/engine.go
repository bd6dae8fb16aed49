// Package engine drives rule evaluation and action dispatch over the
// configured mailboxes: one mailbox at a time, one message at a time,
// first matching rule wins.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nhle/mailfiler/internal/actions"
	"github.com/nhle/mailfiler/internal/client"
	"github.com/nhle/mailfiler/internal/message"
	"github.com/nhle/mailfiler/internal/model"
	"github.com/nhle/mailfiler/internal/rules"
)

// EventKind distinguishes the records the engine emits: one per
// dispatched action or per-message failure, plus progress markers on
// entering a mailbox and on examining a message.
type EventKind int

const (
	EventAction EventKind = iota
	EventMailbox
	EventMessage
)

// Event is one structured record consumed by the presentation layer.
// Stats is a snapshot of the counters at emission time.
type Event struct {
	Kind      EventKind
	Action    string
	MessageID string
	Subject   string
	From      string
	To        string
	Mailbox   string
	Dest      string
	Total     int
	DryRun    bool
	Err       error
	Stats     Stats
}

// Stats accumulates counters for one run. It is owned and mutated by
// the engine only.
type Stats struct {
	Mailboxes int
	Messages  int
	Processed int
	Moved     int
	Deleted   int
	Flagged   int
	Errors    int
}

// pair is one configured rule with its paired action.
type pair struct {
	rule   rules.Rule
	action actions.Action
}

type mailboxPlan struct {
	name  string
	pairs []pair
}

// Option configures an Engine.
type Option func(*Engine)

// WithDryRun logs decisions without invoking actions.
func WithDryRun(dryRun bool) Option {
	return func(e *Engine) { e.dryRun = dryRun }
}

// WithEventHandler subscribes a presentation layer to per-decision
// events.
func WithEventHandler(fn func(Event)) Option {
	return func(e *Engine) { e.onEvent = fn }
}

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine holds the compiled rule lists and the mailbox client for one
// run.
type Engine struct {
	client  client.Client
	search  string
	plans   []mailboxPlan
	dryRun  bool
	onEvent func(Event)
	log     *slog.Logger
	runID   string
}

// New compiles every rule and action up front, so configuration-shape
// errors surface before any mailbox is touched. Errors name the
// offending mailbox and rule.
func New(c client.Client, cfg *model.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		client: c,
		search: cfg.Search,
		log:    slog.Default(),
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("run_id", e.runID)

	for _, mb := range cfg.Mailboxes {
		plan := mailboxPlan{name: mb.Name}
		for i, spec := range mb.Rules {
			r, err := rules.New(spec)
			if err != nil {
				return nil, fmt.Errorf("mailbox %q rule %d: %w", mb.Name, i, err)
			}
			a, err := actions.New(spec.Action, cfg)
			if err != nil {
				return nil, fmt.Errorf("mailbox %q rule %d: %w", mb.Name, i, err)
			}
			plan.pairs = append(plan.pairs, pair{rule: r, action: a})
		}
		e.plans = append(e.plans, plan)
	}
	return e, nil
}

// RunID identifies this run in log output and events.
func (e *Engine) RunID() string { return e.runID }

// TotalMailboxes reports how many mailboxes are configured for this
// run.
func (e *Engine) TotalMailboxes() int { return len(e.plans) }

// Run processes every configured mailbox in order. Per-message
// failures are counted and skipped; cancellation is honored between
// messages, after the in-flight action finishes. The accumulated
// statistics are returned in every case, alongside ctx.Err() when the
// run was interrupted.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	for _, plan := range e.plans {
		if ctx.Err() != nil {
			break
		}
		stats.Mailboxes++
		e.log.Debug("processing mailbox", "mailbox", plan.name)

		msgs, skipped, err := e.client.Fetch(plan.name, e.search)
		if err != nil {
			stats.Errors++
			e.log.Error("fetching mailbox failed", "mailbox", plan.name, "error", err)
			continue
		}
		if skipped > 0 {
			stats.Errors += skipped
			e.log.Warn("skipped unparsable messages",
				"mailbox", plan.name, "count", skipped)
		}
		e.emit(Event{
			Kind:    EventMailbox,
			Mailbox: plan.name,
			Total:   len(msgs),
			Stats:   stats,
		})

		for _, msg := range msgs {
			if ctx.Err() != nil {
				break
			}
			stats.Messages++
			e.emit(Event{
				Kind:      EventMessage,
				MessageID: msg.ID(),
				Subject:   msg.Subject(),
				From:      msg.Header("from"),
				To:        msg.Header("to"),
				Mailbox:   plan.name,
				Stats:     stats,
			})
			e.processMessage(plan, msg, &stats)
		}

		if err := e.client.Close(plan.name); err != nil {
			e.log.Warn("closing mailbox failed", "mailbox", plan.name, "error", err)
		}
	}

	return stats, ctx.Err()
}

// processMessage evaluates the mailbox's rules in configured order and
// dispatches the first match's action. At most one action runs per
// message.
func (e *Engine) processMessage(plan mailboxPlan, msg *message.Message, stats *Stats) {
	for _, p := range plan.pairs {
		if !p.rule.Match(msg) {
			continue
		}

		ev := Event{
			Action:    p.action.Name(),
			MessageID: msg.ID(),
			Subject:   msg.Subject(),
			Mailbox:   plan.name,
			DryRun:    e.dryRun,
		}

		if e.dryRun {
			stats.Processed++
			ev.Stats = *stats
			e.emit(ev)
			return
		}

		dest, err := p.action.Invoke(e.client, plan.name, msg)
		ev.Dest = dest
		if err != nil {
			stats.Errors++
			ev.Err = err
			ev.Stats = *stats
			e.log.Error("action failed",
				"action", p.action.Name(),
				"mailbox", plan.name,
				"message_id", msg.ID(),
				"error", err,
			)
			e.emit(ev)
			return
		}

		stats.Processed++
		e.count(p.action.Name(), stats)
		ev.Stats = *stats
		e.emit(ev)
		return
	}
	e.log.Debug("no rules match", "mailbox", plan.name, "message_id", msg.ID())
}

func (e *Engine) count(action string, stats *Stats) {
	switch action {
	case "move", "sort", "sort-mailing-list", "sort-by-year", "trash":
		stats.Moved++
	case "delete":
		stats.Deleted++
	case "flag", "unflag", "mark_read", "mark_unread":
		stats.Flagged++
	}
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}
