package client

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nhle/mailfiler/internal/message"
)

// maildirSeparator splits a message key from its flag suffix in the
// filename, e.g. "1454073938.host.21:2,FS".
const maildirSeparator = ':'

// maildirFlags maps the shared flag vocabulary to maildir info
// letters.
var maildirFlags = map[string]rune{
	message.FlagDraft:    'D',
	message.FlagFlagged:  'F',
	message.FlagAnswered: 'R',
	message.FlagSeen:     'S',
	message.FlagDeleted:  'T',
}

var maildirFlagNames = map[rune]string{
	'D': message.FlagDraft,
	'F': message.FlagFlagged,
	'R': message.FlagAnswered,
	'S': message.FlagSeen,
	'T': message.FlagDeleted,
}

// Maildir is the Client implementation over a local directory tree of
// maildirs. Each mailbox is a subdirectory of the root containing the
// usual cur, new, and tmp directories. Deletions are immediate, so
// Close has nothing to finalize.
type Maildir struct {
	root string
}

// OpenMaildir opens the maildir tree rooted at root.
func OpenMaildir(root string) (*Maildir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("opening maildir root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("maildir root %s is not a directory", root)
	}
	return &Maildir{root: root}, nil
}

func (c *Maildir) mailboxPath(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("bad mailbox name %q", name)
	}
	return filepath.Join(c.root, name), nil
}

// ListMailboxes returns the sorted names of the maildirs directly
// under the root.
func (c *Maildir) ListMailboxes() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("listing maildirs: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(c.root, e.Name(), "cur")); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Fetch rotates newly delivered messages from new into cur, then
// returns the messages in cur that pass the search criteria. The
// message key doubles as the identifier. A file that cannot be read
// or parsed is logged and skipped; the rest of the mailbox is still
// returned.
func (c *Maildir) Fetch(mailbox, criteria string) ([]*message.Message, int, error) {
	switch criteria {
	case "", SearchAll, SearchUnseen:
	default:
		return nil, 0, fmt.Errorf("unknown search criteria %q", criteria)
	}

	dir, err := c.mailboxPath(mailbox)
	if err != nil {
		return nil, 0, err
	}
	if err := c.rotateNew(dir); err != nil {
		return nil, 0, err
	}

	entries, err := os.ReadDir(filepath.Join(dir, "cur"))
	if err != nil {
		return nil, 0, fmt.Errorf("scanning %s: %w", mailbox, err)
	}

	var msgs []*message.Message
	var skipped int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		key, flags := splitKey(name)
		if criteria == SearchUnseen && slices.Contains(flags, message.FlagSeen) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, "cur", name))
		if err != nil {
			slog.Warn("skipping unreadable message",
				"mailbox", mailbox, "id", key, "error", err)
			skipped++
			continue
		}
		msg, err := message.New(key, raw, flags)
		if err != nil {
			slog.Warn("skipping unparsable message",
				"mailbox", mailbox, "id", key, "error", err)
			skipped++
			continue
		}
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID() < msgs[j].ID() })
	return msgs, skipped, nil
}

// rotateNew moves messages from new to cur, attaching the empty flag
// suffix. Seen state is not set, so the messages stay unseen.
func (c *Maildir) rotateNew(dir string) error {
	entries, err := os.ReadDir(filepath.Join(dir, "new"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		key, _ := splitKey(name)
		src := filepath.Join(dir, "new", name)
		dst := filepath.Join(dir, "cur", key+string(maildirSeparator)+"2,")
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("rotating %s: %w", key, err)
		}
	}
	return nil
}

// filename resolves a key to its current path inside cur, where the
// flag suffix may have changed since the key was fetched. The match
// is on the exact key, so a key that is a prefix of another key is
// not ambiguous.
func (c *Maildir) filename(mailbox, key string) (string, error) {
	dir, err := c.mailboxPath(mailbox)
	if err != nil {
		return "", err
	}
	cur := filepath.Join(dir, "cur")
	entries, err := os.ReadDir(cur)
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", mailbox, err)
	}
	var found string
	for _, e := range entries {
		k, _ := splitKey(e.Name())
		if k != key {
			continue
		}
		if found != "" {
			return "", fmt.Errorf("message %s matches multiple files in %s", key, mailbox)
		}
		found = filepath.Join(cur, e.Name())
	}
	if found == "" {
		return "", fmt.Errorf("no message %s in %s", key, mailbox)
	}
	return found, nil
}

// EnsureMailbox creates the maildir structure if it is absent.
func (c *Maildir) EnsureMailbox(name string) error {
	dir, err := c.mailboxPath(name)
	if err != nil {
		return err
	}
	for _, sub := range []string{"cur", "new", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("creating mailbox %s: %w", name, err)
		}
	}
	return nil
}

// Copy writes a duplicate of the message into dest under a fresh key,
// preserving its flags. The write goes through tmp and is renamed
// into cur once complete.
func (c *Maildir) Copy(mailbox, id, dest string) error {
	src, err := c.filename(mailbox, id)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading message %s: %w", id, err)
	}
	_, flags := splitKey(filepath.Base(src))

	destDir, err := c.mailboxPath(dest)
	if err != nil {
		return err
	}
	key, err := newKey()
	if err != nil {
		return err
	}
	tmpPath := filepath.Join(destDir, "tmp", key)
	if err := writeAndSync(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("delivering to %s: %w", dest, err)
	}
	curPath := filepath.Join(destDir, "cur", key+flagSuffix(flags))
	if err := os.Rename(tmpPath, curPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("delivering to %s: %w", dest, err)
	}
	return syncDir(filepath.Join(destDir, "cur"))
}

// Move renames the message file into dest, keeping its key and flags.
func (c *Maildir) Move(mailbox, id, dest string) error {
	src, err := c.filename(mailbox, id)
	if err != nil {
		return err
	}
	destDir, err := c.mailboxPath(dest)
	if err != nil {
		return err
	}
	dst := filepath.Join(destDir, "cur", filepath.Base(src))
	if err := os.Rename(src, dst); err != nil {
		// Rename can fail across filesystems; fall back to
		// copy followed by delete.
		if err := c.Copy(mailbox, id, dest); err != nil {
			return err
		}
		return c.Delete(mailbox, id)
	}
	return nil
}

// Delete removes the message file immediately.
func (c *Maildir) Delete(mailbox, id string) error {
	path, err := c.filename(mailbox, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	return nil
}

// SetFlag adds the flag letter to the message's filename suffix.
func (c *Maildir) SetFlag(mailbox, id, flag string) error {
	return c.updateFlags(mailbox, id, flag, true)
}

// ClearFlag removes the flag letter from the message's filename
// suffix.
func (c *Maildir) ClearFlag(mailbox, id, flag string) error {
	return c.updateFlags(mailbox, id, flag, false)
}

func (c *Maildir) updateFlags(mailbox, id, flag string, add bool) error {
	if _, ok := maildirFlags[flag]; !ok {
		return fmt.Errorf("unknown flag %q", flag)
	}
	path, err := c.filename(mailbox, id)
	if err != nil {
		return err
	}
	key, flags := splitKey(filepath.Base(path))

	updated := flags[:0:0]
	for _, f := range flags {
		if f != flag {
			updated = append(updated, f)
		}
	}
	if add {
		updated = append(updated, flag)
	}

	next := filepath.Join(filepath.Dir(path), key+flagSuffix(updated))
	if next == path {
		return nil
	}
	if err := os.Rename(path, next); err != nil {
		return fmt.Errorf("updating flags of %s: %w", id, err)
	}
	return nil
}

// Close is a no-op: maildir deletions are immediate.
func (c *Maildir) Close(string) error { return nil }

// Disconnect is a no-op: there is no session to release.
func (c *Maildir) Disconnect() error { return nil }

// splitKey separates a maildir filename into its key and the shared
// flag names encoded in its suffix.
func splitKey(name string) (key string, flags []string) {
	idx := strings.IndexRune(name, maildirSeparator)
	if idx < 0 {
		return name, nil
	}
	key = name[:idx]
	suffix := name[idx+1:]
	if !strings.HasPrefix(suffix, "2,") {
		return key, nil
	}
	for _, r := range suffix[2:] {
		if n, ok := maildirFlagNames[r]; ok {
			flags = append(flags, n)
		}
	}
	return key, flags
}

// flagSuffix encodes shared flag names as a sorted maildir info
// suffix.
func flagSuffix(flags []string) string {
	letters := make([]rune, 0, len(flags))
	for _, f := range flags {
		if r, ok := maildirFlags[f]; ok {
			letters = append(letters, r)
		}
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return string(maildirSeparator) + "2," + string(letters)
}

var deliveryCounter int64

// newKey generates a unique maildir key: seconds, hostname, and a
// pid/counter/random tail, per the maildir naming convention.
func newKey() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", err
	}
	host = strings.NewReplacer("/", "\\057", string(maildirSeparator), "\\072").Replace(host)

	bs := make([]byte, 10)
	if _, err := rand.Read(bs); err != nil {
		return "", err
	}
	n := atomic.AddInt64(&deliveryCounter, 1)
	return fmt.Sprintf("%d.%s.%d_%d%s",
		time.Now().Unix(), host, os.Getpid(), n, hex.EncodeToString(bs)), nil
}

func writeAndSync(path string, data []byte, perm os.FileMode) (err error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	if _, err = file.Write(data); err != nil {
		return err
	}
	return file.Sync()
}

func syncDir(dir string) error {
	file, err := os.Open(dir)
	if err != nil {
		return err
	}
	// Some filesystems do not support directory fsync.
	_ = file.Sync()
	return file.Close()
}
