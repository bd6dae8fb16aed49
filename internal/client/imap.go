package client

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailfiler/internal/message"
	"github.com/nhle/mailfiler/internal/model"
)

// imapFlags maps the shared flag vocabulary to IMAP system flags.
var imapFlags = map[string]imap.Flag{
	message.FlagSeen:     imap.FlagSeen,
	message.FlagFlagged:  imap.FlagFlagged,
	message.FlagAnswered: imap.FlagAnswered,
	message.FlagDraft:    imap.FlagDraft,
	message.FlagDeleted:  imap.FlagDeleted,
}

var imapFlagNames = map[imap.Flag]string{
	imap.FlagSeen:     message.FlagSeen,
	imap.FlagFlagged:  message.FlagFlagged,
	imap.FlagAnswered: message.FlagAnswered,
	imap.FlagDraft:    message.FlagDraft,
	imap.FlagDeleted:  message.FlagDeleted,
}

// IMAP is the Client implementation backed by a remote IMAP server.
// It keeps a single connection and selects one mailbox at a time.
type IMAP struct {
	cli      *imapclient.Client
	selected string
}

// OpenIMAP dials the configured server and authenticates. The caller
// is responsible for calling Disconnect on the returned client.
func OpenIMAP(_ context.Context, cfg *model.ServerConfig, password PasswordFunc) (*IMAP, error) {
	port := cfg.Port
	if port == 0 {
		if cfg.UseTLS {
			port = 993
		} else {
			port = 143
		}
	}
	addr := fmt.Sprintf("%s:%d", cfg.Hostname, port)

	var cli *imapclient.Client
	var err error
	if cfg.UseTLS {
		cli, err = imapclient.DialTLS(addr, nil)
	} else {
		cli, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	pass, err := password()
	if err != nil {
		_ = cli.Logout().Wait()
		return nil, err
	}
	if err := cli.Login(cfg.Username, pass).Wait(); err != nil {
		_ = cli.Logout().Wait()
		return nil, fmt.Errorf("authentication failed for %s: %w", cfg.Username, err)
	}

	return &IMAP{cli: cli}, nil
}

// ListMailboxes returns the names of every mailbox on the server.
func (c *IMAP) ListMailboxes() ([]string, error) {
	data, err := c.cli.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing mailboxes: %w", err)
	}
	names := make([]string, 0, len(data))
	for _, d := range data {
		names = append(names, d.Mailbox)
	}
	return names, nil
}

func (c *IMAP) selectMailbox(mailbox string) error {
	if c.selected == mailbox {
		return nil
	}
	if _, err := c.cli.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", mailbox, err)
	}
	c.selected = mailbox
	return nil
}

// Fetch selects the mailbox, searches it, and returns one Message per
// matching UID with headers and flags populated. Bodies are never
// downloaded, and the peek fetch leaves seen state untouched. A
// message whose response cannot be collected or whose headers cannot
// be parsed is logged and skipped.
func (c *IMAP) Fetch(mailbox, criteria string) ([]*message.Message, int, error) {
	if err := c.selectMailbox(mailbox); err != nil {
		return nil, 0, err
	}

	search := &imap.SearchCriteria{}
	switch criteria {
	case "", SearchAll:
	case SearchUnseen:
		search.NotFlag = []imap.Flag{imap.FlagSeen}
	default:
		return nil, 0, fmt.Errorf("unknown search criteria %q", criteria)
	}

	searchData, err := c.cli.UIDSearch(search, nil).Wait()
	if err != nil {
		return nil, 0, fmt.Errorf("searching %s: %w", mailbox, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, 0, nil
	}

	headerSection := &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierHeader,
		Peek:      true,
	}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{headerSection},
	}

	fetchCmd := c.cli.Fetch(imap.UIDSetNum(uids...), fetchOpts)

	var msgs []*message.Message
	var skipped int
	for {
		data := fetchCmd.Next()
		if data == nil {
			break
		}
		buf, err := data.Collect()
		if err != nil {
			slog.Warn("skipping uncollectable message",
				"mailbox", mailbox, "error", err)
			skipped++
			continue
		}

		flags := make([]string, 0, len(buf.Flags))
		for _, f := range buf.Flags {
			if name, ok := imapFlagNames[f]; ok {
				flags = append(flags, name)
			}
		}

		id := strconv.FormatUint(uint64(buf.UID), 10)
		raw := buf.FindBodySection(headerSection)
		msg, err := message.New(id, raw, flags)
		if err != nil {
			slog.Warn("skipping unparsable message",
				"mailbox", mailbox, "id", id, "error", err)
			skipped++
			continue
		}
		msgs = append(msgs, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		return msgs, skipped, fmt.Errorf("fetching from %s: %w", mailbox, err)
	}
	return msgs, skipped, nil
}

// EnsureMailbox creates the mailbox unless it already exists.
func (c *IMAP) EnsureMailbox(name string) error {
	data, err := c.cli.List("", name, nil).Collect()
	if err == nil && len(data) > 0 {
		return nil
	}
	if err := c.cli.Create(name, nil).Wait(); err != nil {
		return fmt.Errorf("creating mailbox %s: %w", name, err)
	}
	return nil
}

func (c *IMAP) uidSet(id string) (imap.UIDSet, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("bad message id %q: %w", id, err)
	}
	return imap.UIDSetNum(imap.UID(n)), nil
}

// Copy duplicates the message into dest.
func (c *IMAP) Copy(mailbox, id, dest string) error {
	if err := c.selectMailbox(mailbox); err != nil {
		return err
	}
	set, err := c.uidSet(id)
	if err != nil {
		return err
	}
	if _, err := c.cli.Copy(set, dest).Wait(); err != nil {
		return fmt.Errorf("copying %s to %s: %w", id, dest, err)
	}
	return nil
}

// Move transfers the message to dest, falling back to copy followed
// by delete when the server does not support MOVE.
func (c *IMAP) Move(mailbox, id, dest string) error {
	if err := c.selectMailbox(mailbox); err != nil {
		return err
	}
	set, err := c.uidSet(id)
	if err != nil {
		return err
	}
	if _, err := c.cli.Move(set, dest).Wait(); err == nil {
		return nil
	}
	if err := c.Copy(mailbox, id, dest); err != nil {
		return err
	}
	return c.Delete(mailbox, id)
}

// Delete flags the message for removal. The server expunges it when
// Close is called on the mailbox.
func (c *IMAP) Delete(mailbox, id string) error {
	return c.store(mailbox, id, imap.FlagDeleted, imap.StoreFlagsAdd)
}

// SetFlag adds one of the shared flag markers to the message.
func (c *IMAP) SetFlag(mailbox, id, flag string) error {
	f, ok := imapFlags[flag]
	if !ok {
		return fmt.Errorf("unknown flag %q", flag)
	}
	return c.store(mailbox, id, f, imap.StoreFlagsAdd)
}

// ClearFlag removes one of the shared flag markers from the message.
func (c *IMAP) ClearFlag(mailbox, id, flag string) error {
	f, ok := imapFlags[flag]
	if !ok {
		return fmt.Errorf("unknown flag %q", flag)
	}
	return c.store(mailbox, id, f, imap.StoreFlagsDel)
}

func (c *IMAP) store(mailbox, id string, flag imap.Flag, op imap.StoreFlagsOp) error {
	if err := c.selectMailbox(mailbox); err != nil {
		return err
	}
	set, err := c.uidSet(id)
	if err != nil {
		return err
	}
	storeCmd := c.cli.Store(set, &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  []imap.Flag{flag},
	}, nil)
	return storeCmd.Close()
}

// Close expunges pending deletions and unselects the mailbox.
func (c *IMAP) Close(mailbox string) error {
	if c.selected != mailbox {
		return nil
	}
	if err := c.cli.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s: %w", mailbox, err)
	}
	err := c.cli.Unselect().Wait()
	c.selected = ""
	if err != nil {
		return fmt.Errorf("closing %s: %w", mailbox, err)
	}
	return nil
}

// Disconnect logs out and releases the connection.
func (c *IMAP) Disconnect() error {
	return c.cli.Logout().Wait()
}
