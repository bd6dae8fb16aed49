// Package secrets resolves the account password from the providers
// the configuration enables: a cleartext value in the config file,
// the system keyring, or an interactive terminal prompt.
package secrets

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/nhle/mailfiler/internal/credential"
	"github.com/nhle/mailfiler/internal/model"
)

// Provider supplies a password on demand.
type Provider interface {
	Password() (string, error)
}

// Resolve picks the provider chain for the configured server: the
// config literal wins, then the keyring when enabled, then the
// interactive prompt.
func Resolve(cfg *model.ServerConfig) Provider {
	if cfg.Password != "" {
		return fixedPassword{password: cfg.Password}
	}
	if cfg.UseKeyring {
		return &keyringPassword{hostname: cfg.Hostname, username: cfg.Username}
	}
	return &askPassword{hostname: cfg.Hostname, username: cfg.Username}
}

// fixedPassword returns the cleartext password from the config file.
type fixedPassword struct {
	password string
}

func (p fixedPassword) Password() (string, error) {
	return p.password, nil
}

// Discard removes the password stored in the system keyring for the
// configured account, forcing a fresh prompt on the next run.
func Discard(cfg *model.ServerConfig) error {
	if !cfg.UseKeyring {
		return fmt.Errorf("no keyring configured for %s", cfg.Hostname)
	}
	return credential.Delete(keyringKey(cfg.Username, cfg.Hostname))
}

func keyringKey(username, hostname string) string {
	return username + "@" + hostname
}

// keyringPassword reads the password from the system keyring, asking
// once interactively and storing the answer when the keyring has no
// entry yet.
type keyringPassword struct {
	hostname string
	username string
}

func (p *keyringPassword) key() string {
	return keyringKey(p.username, p.hostname)
}

func (p *keyringPassword) Password() (string, error) {
	password, err := credential.Get(p.key())
	if err == nil && password != "" {
		return password, nil
	}

	password, err = promptPassword(fmt.Sprintf(
		"Password for %s (will be stored in the system keyring): ", p.username))
	if err != nil {
		return "", err
	}
	if err := credential.Set(p.key(), password); err != nil {
		return "", err
	}
	return password, nil
}

// askPassword prompts on every run.
type askPassword struct {
	hostname string
	username string
}

func (p *askPassword) Password() (string, error) {
	return promptPassword(fmt.Sprintf("Password for %s: ", p.username))
}

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for password: stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty password")
	}
	return string(raw), nil
}
