// Package actions implements the operations applied to a matched
// message. The set of actions is closed: New is the only constructor,
// and unknown action names are rejected there, before any mailbox is
// touched.
package actions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nhle/mailfiler/internal/client"
	"github.com/nhle/mailfiler/internal/message"
	"github.com/nhle/mailfiler/internal/model"
)

// UnparsableDateMailbox is the sentinel destination suffix used by
// sort-by-year when the message date cannot be parsed.
const UnparsableDateMailbox = "unparsable-date"

// defaultSortRegex extracts the local part of an email address.
const defaultSortRegex = `([\w+-]+)@`

// defaultSortHeader is the header sort inspects when none is
// configured.
const defaultSortHeader = "to"

// listIDRe pulls the token between angle brackets out of a List-Id
// style header value.
var listIDRe = regexp.MustCompile(`<([^>]+)>`)

// Action is one side-effecting operation. Invoke reports the
// destination mailbox when the action filed the message somewhere,
// and an error instead of panicking so the processing loop can skip
// the message and continue.
type Action interface {
	// Name is the configuration name of the action.
	Name() string

	// Invoke applies the action to the message via the client.
	Invoke(c client.Client, mailbox string, msg *message.Message) (dest string, err error)
}

// New builds an Action from its configuration entry. Missing required
// parameters and ambiguous regex groups are construction errors.
func New(spec model.ActionSpec, cfg *model.Config) (Action, error) {
	switch spec.Name {
	case "move":
		if spec.DestMailbox == "" {
			return nil, fmt.Errorf("move: dest-mailbox is required")
		}
		return &moveAction{name: "move", dest: spec.DestMailbox}, nil
	case "sort":
		return newSort(spec, "sort", defaultSortHeader, defaultSortRegex)
	case "sort-mailing-list":
		return newSortMailingList(spec)
	case "sort-by-year":
		if spec.DestMailboxBase == "" {
			return nil, fmt.Errorf("sort-by-year: dest-mailbox-base is required")
		}
		return &sortByYearAction{base: spec.DestMailboxBase}, nil
	case "trash":
		dest := spec.DestMailbox
		if dest == "" {
			dest = cfg.TrashMailbox
		}
		if dest == "" {
			return nil, fmt.Errorf(`no "trash-mailbox" set in config`)
		}
		return &moveAction{name: "trash", dest: dest}, nil
	case "delete":
		return &deleteAction{}, nil
	case "flag":
		return &flagAction{name: "flag", flag: message.FlagFlagged, set: true}, nil
	case "unflag":
		return &flagAction{name: "unflag", flag: message.FlagFlagged, set: false}, nil
	case "mark_read":
		return &flagAction{name: "mark_read", flag: message.FlagSeen, set: true}, nil
	case "mark_unread":
		return &flagAction{name: "mark_unread", flag: message.FlagSeen, set: false}, nil
	}
	return nil, fmt.Errorf("unrecognized action %q", spec.Name)
}

// moveAction files the message into a fixed (possibly templated)
// destination. trash is a move whose destination comes from the
// global trash-mailbox setting.
type moveAction struct {
	name string
	dest string
}

func (a *moveAction) Name() string { return a.name }

func (a *moveAction) Invoke(c client.Client, mailbox string, msg *message.Message) (string, error) {
	dest := Expand(a.dest, msg)
	return dest, moveTo(c, mailbox, msg.ID(), dest)
}

func moveTo(c client.Client, mailbox, id, dest string) error {
	if err := c.EnsureMailbox(dest); err != nil {
		return err
	}
	return c.Move(mailbox, id, dest)
}

// sortAction computes the destination by applying a regex to a header
// value and appending the selected capture group to the base.
type sortAction struct {
	name   string
	header string
	re     *regexp.Regexp
	group  int
	base   string
}

func newSort(spec model.ActionSpec, name, defaultHeader, defaultRegex string) (*sortAction, error) {
	if spec.DestMailboxBase == "" {
		return nil, fmt.Errorf("%s: dest-mailbox-base is required", name)
	}
	header := spec.Header
	if header == "" {
		header = defaultHeader
	}
	pattern := spec.DestMailboxRegex
	if pattern == "" {
		pattern = defaultRegex
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: bad dest-mailbox-regex: %w", name, err)
	}
	group, err := selectGroup(re, spec.DestMailboxRegexGroup)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &sortAction{
		name:   name,
		header: header,
		re:     re,
		group:  group,
		base:   spec.DestMailboxBase,
	}, nil
}

// selectGroup picks the capture group to use. With no explicit index
// the regex must have at most one group; more than one is ambiguous
// and rejected at construction time.
func selectGroup(re *regexp.Regexp, explicit *int) (int, error) {
	n := re.NumSubexp()
	if explicit != nil {
		if *explicit < 0 || *explicit > n {
			return 0, fmt.Errorf("dest-mailbox-regex-group %d out of range (regex has %d groups)", *explicit, n)
		}
		return *explicit, nil
	}
	switch n {
	case 0:
		return 0, nil
	case 1:
		return 1, nil
	}
	return 0, fmt.Errorf("dest-mailbox-regex has %d groups; set dest-mailbox-regex-group", n)
}

func (a *sortAction) Name() string { return a.name }

func (a *sortAction) Invoke(c client.Client, mailbox string, msg *message.Message) (string, error) {
	dest, err := a.destination(msg, msg.Header(a.header))
	if err != nil {
		return "", err
	}
	return dest, moveTo(c, mailbox, msg.ID(), dest)
}

func (a *sortAction) destination(msg *message.Message, value string) (string, error) {
	m := a.re.FindStringSubmatch(value)
	if m == nil {
		return "", fmt.Errorf("%s: header %q value %q does not match %s",
			a.name, a.header, value, a.re)
	}
	return Expand(a.base, msg) + m[a.group], nil
}

// sortMailingListAction files list traffic by its list identifier.
// Without an override regex the token between angle brackets is used,
// or the whole header value when there are no brackets.
type sortMailingListAction struct {
	base   string
	header string
}

func newSortMailingList(spec model.ActionSpec) (Action, error) {
	if spec.DestMailboxRegex != "" {
		return newSort(spec, "sort-mailing-list", "list-id", spec.DestMailboxRegex)
	}
	if spec.DestMailboxBase == "" {
		return nil, fmt.Errorf("sort-mailing-list: dest-mailbox-base is required")
	}
	header := spec.Header
	if header == "" {
		header = "list-id"
	}
	return &sortMailingListAction{base: spec.DestMailboxBase, header: header}, nil
}

func (a *sortMailingListAction) Name() string { return "sort-mailing-list" }

func (a *sortMailingListAction) Invoke(c client.Client, mailbox string, msg *message.Message) (string, error) {
	value := strings.TrimSpace(msg.Header(a.header))
	if value == "" {
		return "", fmt.Errorf("sort-mailing-list: message %s has no %s header", msg.ID(), a.header)
	}
	if m := listIDRe.FindStringSubmatch(value); m != nil {
		value = m[1]
	}
	dest := Expand(a.base, msg) + value
	return dest, moveTo(c, mailbox, msg.ID(), dest)
}

// sortByYearAction appends the four-digit year of the message date to
// the base. Messages without a parsable date are routed to the fixed
// sentinel mailbox instead of failing the run.
type sortByYearAction struct {
	base string
}

func (a *sortByYearAction) Name() string { return "sort-by-year" }

func (a *sortByYearAction) Invoke(c client.Client, mailbox string, msg *message.Message) (string, error) {
	suffix := UnparsableDateMailbox
	if t, err := msg.Date(); err == nil {
		suffix = fmt.Sprintf("%04d", t.Year())
	}
	dest := Expand(a.base, msg) + suffix
	return dest, moveTo(c, mailbox, msg.ID(), dest)
}

// deleteAction removes the message permanently. The removal becomes
// effective when the mailbox is closed.
type deleteAction struct{}

func (a *deleteAction) Name() string { return "delete" }

func (a *deleteAction) Invoke(c client.Client, mailbox string, msg *message.Message) (string, error) {
	return "", c.Delete(mailbox, msg.ID())
}

// flagAction sets or clears one flag marker. Covers flag, unflag,
// mark_read, and mark_unread.
type flagAction struct {
	name string
	flag string
	set  bool
}

func (a *flagAction) Name() string { return a.name }

func (a *flagAction) Invoke(c client.Client, mailbox string, msg *message.Message) (string, error) {
	if a.set {
		if err := c.SetFlag(mailbox, msg.ID(), a.flag); err != nil {
			return "", err
		}
		msg.SetFlag(a.flag)
		return "", nil
	}
	if err := c.ClearFlag(mailbox, msg.ID(), a.flag); err != nil {
		return "", err
	}
	msg.ClearFlag(a.flag)
	return "", nil
}
