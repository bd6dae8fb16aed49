package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds the connection settings for the IMAP backend.
type ServerConfig struct {
	// Hostname is the IMAP server to connect to.
	Hostname string `mapstructure:"hostname" yaml:"hostname"`

	// Port is the IMAP port; 0 selects the default for the dial mode.
	Port int `mapstructure:"port" yaml:"port"`

	// Username is the login name.
	Username string `mapstructure:"username" yaml:"username"`

	// Password is the cleartext password. Discouraged; prefer the
	// keyring or the interactive prompt.
	Password string `mapstructure:"password" yaml:"password"`

	// UseKeyring enables looking the password up in (and storing a
	// prompted password into) the system keyring.
	UseKeyring bool `mapstructure:"use_keyring" yaml:"use_keyring"`

	// UseTLS selects implicit TLS; when false the connection starts
	// in cleartext and upgrades via STARTTLS.
	UseTLS bool `mapstructure:"use_tls" yaml:"use_tls"`
}

// HeaderMatchSpec describes one header matcher inside a headers rule.
// Exactly one of Substring, Regex, or Value must be set.
type HeaderMatchSpec struct {
	Name      string `mapstructure:"name" yaml:"name"`
	Substring string `mapstructure:"substring" yaml:"substring"`
	Regex     string `mapstructure:"regex" yaml:"regex"`
	Value     string `mapstructure:"value" yaml:"value"`
}

// MatchSpec describes a recipient rule: a substring or a regex matched
// across the standard recipient headers.
type MatchSpec struct {
	Substring string `mapstructure:"substring" yaml:"substring"`
	Regex     string `mapstructure:"regex" yaml:"regex"`
}

// MailingListSpec marks an is-mailing-list rule. It carries no
// parameters; presence of the key selects the rule.
type MailingListSpec struct{}

// TimeLimitSpec describes a time-limit rule.
type TimeLimitSpec struct {
	// Age is the threshold in days. Zero disables the rule.
	Age int `mapstructure:"age" yaml:"age"`
}

// NestedRules holds the children of an and/or rule.
type NestedRules struct {
	Rules []RuleSpec `mapstructure:"rules" yaml:"rules"`
}

// ActionSpec describes the action paired with a rule.
type ActionSpec struct {
	Name             string `mapstructure:"name" yaml:"name"`
	DestMailbox      string `mapstructure:"dest-mailbox" yaml:"dest-mailbox"`
	DestMailboxBase  string `mapstructure:"dest-mailbox-base" yaml:"dest-mailbox-base"`
	Header           string `mapstructure:"header" yaml:"header"`
	DestMailboxRegex string `mapstructure:"dest-mailbox-regex" yaml:"dest-mailbox-regex"`

	// DestMailboxRegexGroup selects the capture group of
	// DestMailboxRegex. Nil means "use the single group"; it is
	// required when the regex has more than one group.
	DestMailboxRegexGroup *int `mapstructure:"dest-mailbox-regex-group" yaml:"dest-mailbox-regex-group"`
}

// RuleSpec is one rule entry. Exactly one rule key is expected; the
// rule factory checks them in a fixed order.
type RuleSpec struct {
	Headers       []HeaderMatchSpec `mapstructure:"headers" yaml:"headers"`
	Recipient     *MatchSpec        `mapstructure:"recipient" yaml:"recipient"`
	IsMailingList *MailingListSpec  `mapstructure:"is-mailing-list" yaml:"is-mailing-list"`
	TimeLimit     *TimeLimitSpec    `mapstructure:"time-limit" yaml:"time-limit"`
	Or            *NestedRules      `mapstructure:"or" yaml:"or"`
	And           *NestedRules      `mapstructure:"and" yaml:"and"`

	// Action is the operation applied when the rule matches.
	// Actions on nested rules are ignored.
	Action ActionSpec `mapstructure:"action" yaml:"action"`
}

// MailboxConfig pairs a mailbox name with its ordered rule list.
type MailboxConfig struct {
	Name  string     `mapstructure:"name" yaml:"name"`
	Rules []RuleSpec `mapstructure:"rules" yaml:"rules"`
}

// Config is the top-level configuration.
type Config struct {
	// Server configures the IMAP backend. Mutually exclusive with
	// Maildir.
	Server *ServerConfig `mapstructure:"server" yaml:"server"`

	// Maildir is the root directory of a local maildir tree.
	Maildir string `mapstructure:"maildir" yaml:"maildir"`

	// TrashMailbox is the soft-delete destination used by the trash
	// action.
	TrashMailbox string `mapstructure:"trash-mailbox" yaml:"trash-mailbox"`

	// Search selects which messages to fetch per mailbox: "all" or
	// "unseen".
	Search string `mapstructure:"search" yaml:"search"`

	Mailboxes []MailboxConfig `mapstructure:"mailboxes" yaml:"mailboxes"`
}

// DefaultConfigPath returns ~/.mailfiler.yml, falling back to the
// working directory when the home directory cannot be determined.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailfiler.yml"
	}
	return filepath.Join(home, ".mailfiler.yml")
}

// LoadConfig reads and validates configuration from the given YAML
// file path using Viper.
func LoadConfig(path string) (*Config, error) {
	path = expandHome(path)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("search", "all")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Maildir = expandHome(cfg.Maildir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration shape. Rule and action contents
// are validated further by their factories.
func (c *Config) Validate() error {
	if c.Server == nil && c.Maildir == "" {
		return fmt.Errorf("no connection information: set either server or maildir")
	}
	if c.Server != nil && c.Maildir != "" {
		return fmt.Errorf("server and maildir are mutually exclusive")
	}
	if c.Server != nil {
		if c.Server.Hostname == "" {
			return fmt.Errorf("server.hostname is required")
		}
		if c.Server.Username == "" {
			return fmt.Errorf("server.username is required")
		}
	}
	switch c.Search {
	case "", "all", "unseen":
	default:
		return fmt.Errorf("unknown search criteria %q", c.Search)
	}
	if len(c.Mailboxes) == 0 {
		return fmt.Errorf("no mailboxes configured")
	}
	for i, mb := range c.Mailboxes {
		if mb.Name == "" {
			return fmt.Errorf("mailbox %d has no name", i)
		}
		if len(mb.Rules) == 0 {
			return fmt.Errorf("mailbox %q has no rules", mb.Name)
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
