// Package config defines the stubmail server configuration.
//
// Configuration can come from a TOML file (see LoadConfigFromFile) or from
// GreenMail-style property maps (see FromProperties), which is what the
// standalone runner uses.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultHostname       = "localhost"
	DefaultStartupTimeout = "1s"

	// Per-session inactivity deadline; IDLE is exempt.
	DefaultIdleTimeout = 5 * time.Minute
)

// DefaultPorts maps a protocol name to its well-known port. Test setups
// (setup.test.*) add TestPortOffset.
var DefaultPorts = map[string]int{
	"smtp":  25,
	"smtps": 465,
	"pop3":  110,
	"pop3s": 995,
	"imap":  143,
	"imaps": 993,
	"api":   8080,
}

const TestPortOffset = 3000

// LoggingConfig holds logging-related settings.
type LoggingConfig struct {
	Output string `toml:"output"` // "stdout", "stderr", or a file path
	Format string `toml:"format"` // "console" or "json"
	Level  string `toml:"level"`  // "debug", "info", "warn", "error"
}

// UserConfig declares a mail user known at startup.
type UserConfig struct {
	Email    string `toml:"email"`
	Login    string `toml:"login"`
	Password string `toml:"password"`
}

// AuthConfig controls authentication behavior shared by all protocols.
type AuthConfig struct {
	// Disabled makes any password valid and auto-provisions unknown users
	// on login and on delivery.
	Disabled bool `toml:"disabled"`

	// LoginForm is "local_part" (default) or "email" and decides which part
	// of a configured email address is used as the login name.
	LoginForm string `toml:"login_form"`

	Users []UserConfig `toml:"users"`
}

// ServerConfig describes a single protocol listener.
type ServerConfig struct {
	Start bool   `toml:"start"`
	Addr  string `toml:"addr"`

	// TLS selects implicit TLS for this listener (smtps/imaps/pop3s). For
	// plaintext listeners STARTTLS/STLS is offered when a certificate is
	// available.
	TLS         bool   `toml:"tls"`
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`

	// TLSSelfSigned generates an in-memory self-signed certificate when no
	// cert/key files are configured. This is the default for a test server.
	TLSSelfSigned bool `toml:"tls_self_signed"`

	// MaxMessageSize limits DATA payloads (SMTP only). Zero means the
	// built-in default of 10 MiB.
	MaxMessageSize int64 `toml:"max_message_size"`

	Debug bool `toml:"debug"`
}

// IMAPConfig holds IMAP-specific options.
type IMAPConfig struct {
	// QuotaEnabled announces the QUOTA capability. Quotas are never
	// enforced; the capability is announce-only.
	QuotaEnabled bool `toml:"quota_enabled"`
}

// APIConfig describes the HTTP control API listener.
type APIConfig struct {
	Start bool   `toml:"start"`
	Addr  string `toml:"addr"`
}

// PostStartConfig describes actions executed once all listeners are up.
type PostStartConfig struct {
	// FoldersCreate is "login:folder1,folder2,...".
	FoldersCreate string `toml:"folders_create"`
	// EmlFileLoad is "login:/path/to/message.eml".
	EmlFileLoad string `toml:"eml_file_load"`
	// EmlFilesDirLoad is "login:/path/to/dir" with one .eml file per message.
	EmlFilesDirLoad string `toml:"eml_files_dir_load"`
}

// Config is the root configuration.
type Config struct {
	Hostname       string `toml:"hostname"`
	StartupTimeout string `toml:"startup_timeout"`

	Logging   LoggingConfig   `toml:"logging"`
	Auth      AuthConfig      `toml:"auth"`
	SMTP      ServerConfig    `toml:"smtp"`
	SMTPS     ServerConfig    `toml:"smtps"`
	IMAP      ServerConfig    `toml:"imap"`
	IMAPS     ServerConfig    `toml:"imaps"`
	POP3      ServerConfig    `toml:"pop3"`
	POP3S     ServerConfig    `toml:"pop3s"`
	IMAPOpts  IMAPConfig      `toml:"imap_options"`
	API       APIConfig       `toml:"api"`
	PostStart PostStartConfig `toml:"post_start"`
}

// NewDefaultConfig returns a configuration with no listeners enabled.
func NewDefaultConfig() *Config {
	return &Config{
		Hostname:       DefaultHostname,
		StartupTimeout: DefaultStartupTimeout,
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		SMTPS: ServerConfig{TLS: true, TLSSelfSigned: true},
		IMAPS: ServerConfig{TLS: true, TLSSelfSigned: true},
		POP3S: ServerConfig{TLS: true, TLSSelfSigned: true},
	}
}

// LoadConfigFromFile loads configuration from a TOML file on top of the
// defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// GetHostname returns the configured hostname, falling back to the default.
func (c *Config) GetHostname() string {
	if c.Hostname == "" {
		return DefaultHostname
	}
	return c.Hostname
}

// GetStartupTimeout parses the startup timeout, falling back to the default
// on empty or malformed values.
func (c *Config) GetStartupTimeout() time.Duration {
	d, err := time.ParseDuration(c.StartupTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultStartupTimeout)
	}
	return d
}

// GetLoginForm normalizes the login form setting.
func (a *AuthConfig) GetLoginForm() string {
	if strings.EqualFold(a.LoginForm, "email") {
		return "email"
	}
	return "local_part"
}

// Servers returns the protocol listeners in a stable order, keyed by
// protocol name.
func (c *Config) Servers() []NamedServer {
	return []NamedServer{
		{"smtp", &c.SMTP},
		{"smtps", &c.SMTPS},
		{"imap", &c.IMAP},
		{"imaps", &c.IMAPS},
		{"pop3", &c.POP3},
		{"pop3s", &c.POP3S},
	}
}

// NamedServer pairs a protocol name with its listener config.
type NamedServer struct {
	Name   string
	Config *ServerConfig
}

// AnyServerEnabled reports whether at least one protocol or API listener is
// configured to start.
func (c *Config) AnyServerEnabled() bool {
	for _, s := range c.Servers() {
		if s.Config.Start {
			return true
		}
	}
	return c.API.Start
}
