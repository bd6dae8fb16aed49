// Package message provides a read-only projection of a single mail
// message: decoded headers, an opaque backend identifier, and the set
// of status flags the backend reported for it.
package message

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// Flag names shared by both backends. Backends translate these to and
// from their native flag representation.
const (
	FlagSeen     = "seen"
	FlagFlagged  = "flagged"
	FlagAnswered = "answered"
	FlagDraft    = "draft"
	FlagDeleted  = "deleted"
)

// Message is one fetched message. The identifier is only valid within
// the mailbox it was fetched from, for the duration of the session.
type Message struct {
	id     string
	header mail.Header
	flags  map[string]struct{}
}

// New parses raw RFC 5322 data (headers, optionally followed by a
// body) into a Message. Unknown charsets in encoded words are
// tolerated; the affected headers fall back to their raw form.
func New(id string, raw []byte, flags []string) (*Message, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing message %s: %w", id, err)
	}

	m := &Message{
		id:     id,
		header: mail.Header{Header: entity.Header},
		flags:  make(map[string]struct{}, len(flags)),
	}
	for _, f := range flags {
		m.flags[f] = struct{}{}
	}
	return m, nil
}

// ID returns the backend-assigned identifier.
func (m *Message) ID() string { return m.id }

// Header returns the decoded value of the named header. The lookup is
// case-insensitive. A missing header yields the empty string.
func (m *Message) Header(name string) string {
	text, err := m.header.Text(name)
	if err != nil {
		return m.header.Get(name)
	}
	return text
}

// Subject is shorthand for the decoded Subject header.
func (m *Message) Subject() string { return m.Header("Subject") }

// Date parses the Date header. A missing or malformed header is an
// error; callers decide the fallback.
func (m *Message) Date() (time.Time, error) {
	if strings.TrimSpace(m.header.Get("Date")) == "" {
		return time.Time{}, fmt.Errorf("message %s has no date header", m.id)
	}
	t, err := m.header.Date()
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date of message %s: %w", m.id, err)
	}
	return t, nil
}

// HasFlag reports whether the named flag is currently set.
func (m *Message) HasFlag(name string) bool {
	_, ok := m.flags[name]
	return ok
}

// SetFlag records the named flag. Setting an already-set flag is a
// no-op.
func (m *Message) SetFlag(name string) {
	m.flags[name] = struct{}{}
}

// ClearFlag removes the named flag. Clearing an absent flag is a
// no-op.
func (m *Message) ClearFlag(name string) {
	delete(m.flags, name)
}

// Flags returns the current flag set in sorted order.
func (m *Message) Flags() []string {
	out := make([]string, 0, len(m.flags))
	for f := range m.flags {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
