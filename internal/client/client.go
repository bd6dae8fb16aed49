// Package client defines the uniform mailbox operations the rule and
// action engines depend on, with an IMAP implementation and a local
// maildir implementation behind the same interface.
package client

import (
	"context"
	"fmt"

	"github.com/nhle/mailfiler/internal/message"
	"github.com/nhle/mailfiler/internal/model"
)

// Search criteria accepted by Fetch.
const (
	SearchAll    = "all"
	SearchUnseen = "unseen"
)

// Client is the capability interface over a mail store. Message
// identifiers are only valid within the mailbox they were fetched
// from, for the duration of the session.
type Client interface {
	// ListMailboxes enumerates the full mailbox hierarchy.
	ListMailboxes() ([]string, error)

	// Fetch returns the messages in the mailbox selected by the
	// search criteria, headers and flags populated. Messages whose
	// headers cannot be parsed are logged and skipped; skipped
	// reports how many, so callers can count them as errors without
	// losing the rest of the mailbox.
	Fetch(mailbox, criteria string) (msgs []*message.Message, skipped int, err error)

	// EnsureMailbox creates the mailbox if it does not exist.
	EnsureMailbox(name string) error

	// Copy duplicates the message into dest.
	Copy(mailbox, id, dest string) error

	// Move transfers the message to dest. Backends without an atomic
	// move perform a copy followed by a delete.
	Move(mailbox, id, dest string) error

	// Delete removes the message. Permanent removal may be deferred
	// until Close is called on the mailbox.
	Delete(mailbox, id string) error

	// SetFlag and ClearFlag mutate one of the message.Flag* markers.
	SetFlag(mailbox, id, flag string) error
	ClearFlag(mailbox, id, flag string) error

	// Close finalizes pending deletions for the mailbox.
	Close(mailbox string) error

	// Disconnect releases the backend session.
	Disconnect() error
}

// PasswordFunc supplies the account password on demand, so that a
// prompt only happens when a backend actually needs one.
type PasswordFunc func() (string, error)

// Open connects to the backend described by the configuration.
func Open(ctx context.Context, cfg *model.Config, password PasswordFunc) (Client, error) {
	switch {
	case cfg.Server != nil:
		return OpenIMAP(ctx, cfg.Server, password)
	case cfg.Maildir != "":
		return OpenMaildir(cfg.Maildir)
	}
	return nil, fmt.Errorf("no connection information in config")
}
