// Package clienttest provides an in-memory Client used by the rule,
// action, and engine tests.
package clienttest

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/nhle/mailfiler/internal/client"
	"github.com/nhle/mailfiler/internal/message"
)

type storedMessage struct {
	raw     []byte
	flags   map[string]struct{}
	deleted bool
}

// Fake implements client.Client against an in-memory mailbox map.
// Deletions are deferred until Close, mirroring the IMAP backend.
type Fake struct {
	mailboxes map[string]map[string]*storedMessage
	nextID    int

	// FetchErr injects a fetch failure for the named mailbox.
	FetchErr map[string]error

	// MoveErr and DeleteErr inject failures into every Move or
	// Delete call.
	MoveErr   error
	DeleteErr error
}

var _ client.Client = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		mailboxes: make(map[string]map[string]*storedMessage),
		FetchErr:  make(map[string]error),
	}
}

// AddMailbox creates an empty mailbox.
func (f *Fake) AddMailbox(name string) {
	if _, ok := f.mailboxes[name]; !ok {
		f.mailboxes[name] = make(map[string]*storedMessage)
	}
}

// AddMessage stores a raw message and returns its identifier.
func (f *Fake) AddMessage(mailbox string, raw []byte, flags ...string) string {
	f.AddMailbox(mailbox)
	f.nextID++
	id := strconv.Itoa(f.nextID)
	fl := make(map[string]struct{}, len(flags))
	for _, fg := range flags {
		fl[fg] = struct{}{}
	}
	f.mailboxes[mailbox][id] = &storedMessage{raw: raw, flags: fl}
	return id
}

// HasMailbox reports whether the named mailbox exists.
func (f *Fake) HasMailbox(name string) bool {
	_, ok := f.mailboxes[name]
	return ok
}

// MessageIDs returns the identifiers of the live (non-deleted)
// messages in the mailbox, sorted.
func (f *Fake) MessageIDs(mailbox string) []string {
	var ids []string
	for id, m := range f.mailboxes[mailbox] {
		if !m.deleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Flags returns the flag set of one stored message, sorted.
func (f *Fake) Flags(mailbox, id string) []string {
	m := f.mailboxes[mailbox][id]
	if m == nil {
		return nil
	}
	var flags []string
	for fl := range m.flags {
		flags = append(flags, fl)
	}
	sort.Strings(flags)
	return flags
}

// Raw returns the stored content of one message.
func (f *Fake) Raw(mailbox, id string) []byte {
	m := f.mailboxes[mailbox][id]
	if m == nil {
		return nil
	}
	return m.raw
}

func (f *Fake) get(mailbox, id string) (*storedMessage, error) {
	box, ok := f.mailboxes[mailbox]
	if !ok {
		return nil, fmt.Errorf("no mailbox %q", mailbox)
	}
	m, ok := box[id]
	if !ok || m.deleted {
		return nil, fmt.Errorf("no message %q in %q", id, mailbox)
	}
	return m, nil
}

func (f *Fake) ListMailboxes() ([]string, error) {
	var names []string
	for name := range f.mailboxes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) Fetch(mailbox, criteria string) ([]*message.Message, int, error) {
	if err := f.FetchErr[mailbox]; err != nil {
		return nil, 0, err
	}
	box, ok := f.mailboxes[mailbox]
	if !ok {
		return nil, 0, fmt.Errorf("no mailbox %q", mailbox)
	}

	var ids []string
	for id := range box {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var msgs []*message.Message
	var skipped int
	for _, id := range ids {
		m := box[id]
		if m.deleted {
			continue
		}
		if _, seen := m.flags[message.FlagSeen]; seen && criteria == client.SearchUnseen {
			continue
		}
		var flags []string
		for fl := range m.flags {
			flags = append(flags, fl)
		}
		msg, err := message.New(id, m.raw, flags)
		if err != nil {
			skipped++
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, skipped, nil
}

func (f *Fake) EnsureMailbox(name string) error {
	f.AddMailbox(name)
	return nil
}

func (f *Fake) Copy(mailbox, id, dest string) error {
	m, err := f.get(mailbox, id)
	if err != nil {
		return err
	}
	box, ok := f.mailboxes[dest]
	if !ok {
		return fmt.Errorf("no mailbox %q", dest)
	}
	f.nextID++
	flags := make(map[string]struct{}, len(m.flags))
	for fl := range m.flags {
		flags[fl] = struct{}{}
	}
	box[strconv.Itoa(f.nextID)] = &storedMessage{raw: m.raw, flags: flags}
	return nil
}

func (f *Fake) Move(mailbox, id, dest string) error {
	if f.MoveErr != nil {
		return f.MoveErr
	}
	if err := f.Copy(mailbox, id, dest); err != nil {
		return err
	}
	delete(f.mailboxes[mailbox], id)
	return nil
}

func (f *Fake) Delete(mailbox, id string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	m, err := f.get(mailbox, id)
	if err != nil {
		return err
	}
	m.deleted = true
	return nil
}

func (f *Fake) SetFlag(mailbox, id, flag string) error {
	m, err := f.get(mailbox, id)
	if err != nil {
		return err
	}
	m.flags[flag] = struct{}{}
	return nil
}

func (f *Fake) ClearFlag(mailbox, id, flag string) error {
	m, err := f.get(mailbox, id)
	if err != nil {
		return err
	}
	delete(m.flags, flag)
	return nil
}

// Close purges messages deleted since the last Close.
func (f *Fake) Close(mailbox string) error {
	box, ok := f.mailboxes[mailbox]
	if !ok {
		return nil
	}
	for id, m := range box {
		if m.deleted {
			delete(box, id)
		}
	}
	return nil
}

func (f *Fake) Disconnect() error { return nil }
