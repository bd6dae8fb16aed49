package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailfiler/internal/client/clienttest"
	"github.com/nhle/mailfiler/internal/model"
)

func rawMessage(headers map[string]string) []byte {
	raw := ""
	for name, value := range headers {
		raw += name + ": " + value + "\r\n"
	}
	return []byte(raw + "\r\nbody\r\n")
}

func subjectRule(substring string, action model.ActionSpec) model.RuleSpec {
	return model.RuleSpec{
		Headers: []model.HeaderMatchSpec{{Name: "subject", Substring: substring}},
		Action:  action,
	}
}

func TestRunMovesFirstMatch(t *testing.T) {
	fake := clienttest.New()
	fake.AddMessage("INBOX", rawMessage(map[string]string{
		"Subject": "Re: [PyATL] meetup",
	}))
	fake.AddMessage("INBOX", rawMessage(map[string]string{
		"Subject": "unrelated",
	}))

	cfg := &model.Config{
		Maildir: "unused",
		Mailboxes: []model.MailboxConfig{{
			Name: "INBOX",
			Rules: []model.RuleSpec{
				subjectRule("[pyatl]", model.ActionSpec{Name: "move", DestMailbox: "INBOX.PyATL"}),
			},
		}},
	}

	eng, err := New(fake, cfg)
	require.NoError(t, err)

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Mailboxes)
	assert.Equal(t, 2, stats.Messages)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Moved)
	assert.Equal(t, 0, stats.Errors)

	assert.Len(t, fake.MessageIDs("INBOX.PyATL"), 1)
	assert.Len(t, fake.MessageIDs("INBOX"), 1, "unmatched message left untouched")
}

func TestRunFirstMatchWins(t *testing.T) {
	fake := clienttest.New()
	fake.AddMessage("INBOX", rawMessage(map[string]string{
		"Subject": "both rules match this",
	}))

	cfg := &model.Config{
		Maildir: "unused",
		Mailboxes: []model.MailboxConfig{{
			Name: "INBOX",
			Rules: []model.RuleSpec{
				subjectRule("both", model.ActionSpec{Name: "move", DestMailbox: "INBOX.First"}),
				subjectRule("match", model.ActionSpec{Name: "move", DestMailbox: "INBOX.Second"}),
			},
		}},
	}

	eng, err := New(fake, cfg)
	require.NoError(t, err)

	var actions []Event
	eng.onEvent = func(ev Event) {
		if ev.Kind == EventAction {
			actions = append(actions, ev)
		}
	}

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	require.Len(t, actions, 1, "at most one action per message")
	assert.Equal(t, "INBOX.First", actions[0].Dest)
	assert.False(t, fake.HasMailbox("INBOX.Second"))
}

func TestRunActionFailureSkipsMessage(t *testing.T) {
	fake := clienttest.New()
	fake.AddMessage("INBOX", rawMessage(map[string]string{"Subject": "first"}))
	fake.AddMessage("INBOX", rawMessage(map[string]string{"Subject": "second"}))
	fake.MoveErr = errors.New("server said no")

	cfg := &model.Config{
		Maildir: "unused",
		Mailboxes: []model.MailboxConfig{{
			Name: "INBOX",
			Rules: []model.RuleSpec{
				subjectRule("first", model.ActionSpec{Name: "move", DestMailbox: "INBOX.A"}),
				subjectRule("second", model.ActionSpec{Name: "mark_read"}),
			},
		}},
	}

	eng, err := New(fake, cfg)
	require.NoError(t, err)

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Messages)
	assert.Equal(t, 1, stats.Errors, "move failure is counted")
	assert.Equal(t, 1, stats.Processed, "second message still processed")
	assert.Equal(t, 1, stats.Flagged)
}

func TestRunCountsUnparsableMessages(t *testing.T) {
	fake := clienttest.New()
	fake.AddMessage("INBOX", []byte("this is not a header\r\n\r\nbody\r\n"))
	fake.AddMessage("INBOX", rawMessage(map[string]string{"Subject": "healthy"}))

	cfg := &model.Config{
		Maildir: "unused",
		Mailboxes: []model.MailboxConfig{{
			Name: "INBOX",
			Rules: []model.RuleSpec{
				subjectRule("healthy", model.ActionSpec{Name: "mark_read"}),
			},
		}},
	}

	eng, err := New(fake, cfg)
	require.NoError(t, err)

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Errors, "unparsable message counts as an error")
	assert.Equal(t, 1, stats.Messages, "only the healthy message is examined")
	assert.Equal(t, 1, stats.Processed)
}

func TestRunEmitsProgressEvents(t *testing.T) {
	fake := clienttest.New()
	fake.AddMessage("INBOX", rawMessage(map[string]string{
		"Subject": "Re: [PyATL] meetup",
		"From":    "sender@example.com",
		"To":      "me@example.com",
	}))

	cfg := &model.Config{
		Maildir: "unused",
		Mailboxes: []model.MailboxConfig{{
			Name: "INBOX",
			Rules: []model.RuleSpec{
				subjectRule("[pyatl]", model.ActionSpec{Name: "move", DestMailbox: "INBOX.PyATL"}),
			},
		}},
	}

	var events []Event
	eng, err := New(fake, cfg,
		WithEventHandler(func(ev Event) { events = append(events, ev) }),
	)
	require.NoError(t, err)

	_, err = eng.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, events, 3)

	assert.Equal(t, EventMailbox, events[0].Kind)
	assert.Equal(t, "INBOX", events[0].Mailbox)
	assert.Equal(t, 1, events[0].Total)

	assert.Equal(t, EventMessage, events[1].Kind)
	assert.Equal(t, "Re: [PyATL] meetup", events[1].Subject)
	assert.Equal(t, "sender@example.com", events[1].From)
	assert.Equal(t, "me@example.com", events[1].To)
	assert.Equal(t, 1, events[1].Stats.Messages)

	assert.Equal(t, EventAction, events[2].Kind)
	assert.Equal(t, "INBOX.PyATL", events[2].Dest)
	assert.Equal(t, 1, events[2].Stats.Moved)
}

func TestRunFetchFailureSkipsMailbox(t *testing.T) {
	fake := clienttest.New()
	fake.AddMailbox("Broken")
	fake.AddMessage("INBOX", rawMessage(map[string]string{"Subject": "keep going"}))
	fake.FetchErr["Broken"] = errors.New("connection reset")

	cfg := &model.Config{
		Maildir: "unused",
		Mailboxes: []model.MailboxConfig{
			{Name: "Broken", Rules: []model.RuleSpec{
				subjectRule("x", model.ActionSpec{Name: "delete"}),
			}},
			{Name: "INBOX", Rules: []model.RuleSpec{
				subjectRule("keep", model.ActionSpec{Name: "mark_read"}),
			}},
		},
	}

	eng, err := New(fake, cfg)
	require.NoError(t, err)

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Mailboxes)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Processed, "later mailboxes still processed")
}

func TestRunDeleteFinalizedOnClose(t *testing.T) {
	fake := clienttest.New()
	fake.AddMessage("INBOX", rawMessage(map[string]string{"Subject": "old news"}))

	cfg := &model.Config{
		Maildir: "unused",
		Mailboxes: []model.MailboxConfig{{
			Name: "INBOX",
			Rules: []model.RuleSpec{
				subjectRule("old", model.ActionSpec{Name: "delete"}),
			},
		}},
	}

	eng, err := New(fake, cfg)
	require.NoError(t, err)

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.Empty(t, fake.MessageIDs("INBOX"))
}

func TestRunDryRun(t *testing.T) {
	fake := clienttest.New()
	fake.AddMessage("INBOX", rawMessage(map[string]string{"Subject": "Re: [PyATL] meetup"}))

	cfg := &model.Config{
		Maildir: "unused",
		Mailboxes: []model.MailboxConfig{{
			Name: "INBOX",
			Rules: []model.RuleSpec{
				subjectRule("[pyatl]", model.ActionSpec{Name: "move", DestMailbox: "INBOX.PyATL"}),
			},
		}},
	}

	var actions []Event
	eng, err := New(fake, cfg,
		WithDryRun(true),
		WithEventHandler(func(ev Event) {
			if ev.Kind == EventAction {
				actions = append(actions, ev)
			}
		}),
	)
	require.NoError(t, err)

	stats, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.Moved)
	assert.Len(t, fake.MessageIDs("INBOX"), 1, "nothing moved")
	require.Len(t, actions, 1)
	assert.True(t, actions[0].DryRun)
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	fake := clienttest.New()

	tests := []struct {
		name string
		rule model.RuleSpec
	}{
		{
			name: "unknown rule",
			rule: model.RuleSpec{Action: model.ActionSpec{Name: "delete"}},
		},
		{
			name: "unknown action",
			rule: subjectRule("x", model.ActionSpec{Name: "shred"}),
		},
		{
			name: "trash without trash mailbox",
			rule: subjectRule("x", model.ActionSpec{Name: "trash"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &model.Config{
				Maildir: "unused",
				Mailboxes: []model.MailboxConfig{{
					Name:  "INBOX",
					Rules: []model.RuleSpec{tt.rule},
				}},
			}
			_, err := New(fake, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), `mailbox "INBOX"`)
		})
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	fake := clienttest.New()
	fake.AddMessage("INBOX", rawMessage(map[string]string{"Subject": "anything"}))

	cfg := &model.Config{
		Maildir: "unused",
		Mailboxes: []model.MailboxConfig{{
			Name: "INBOX",
			Rules: []model.RuleSpec{
				subjectRule("anything", model.ActionSpec{Name: "mark_read"}),
			},
		}},
	}

	eng, err := New(fake, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := eng.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stats.Processed)
}
