package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the scrubber
type Config struct {
	Source      Endpoint      `yaml:"source"`
	Destination Endpoint      `yaml:"destination"`
	Tools       ToolsConfig   `yaml:"tools"`
	Scrub       ScrubConfig   `yaml:"scrub"`
	Logging     LoggingConfig `yaml:"logging"`
	Slack       SlackConfig   `yaml:"slack"`
}

// Endpoint describes one MongoDB database the scrubber talks to.
type Endpoint struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Database      string `yaml:"database"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	BackupDirname string `yaml:"backup_dirname"` // final dump directory name under tools.staging_dir
}

// ToolsConfig holds settings for the external dump and restore binaries
type ToolsConfig struct {
	Dump        string        `yaml:"dump"`         // default: mongodump
	Restore     string        `yaml:"restore"`      // default: mongorestore
	StagingDir  string        `yaml:"staging_dir"`  // default: /tmp
	DisableGzip bool          `yaml:"disable_gzip"` // gzip is on unless disabled
	Timeout     time.Duration `yaml:"timeout"`      // 0 = no watchdog
}

// ScrubConfig holds field-replacement behavior settings
type ScrubConfig struct {
	SafeCollections   []string `yaml:"safe_collections"`   // appended to the built-in collection safelist
	OperatorUsernames []string `yaml:"operator_usernames"` // appended to the built-in operator safelist
	EmailBase         string   `yaml:"email_base"`
	EmailDomain       string   `yaml:"email_domain"`
	Seed              uint64   `yaml:"seed"` // 0 = random
	MaxUniqueAttempts int      `yaml:"max_unique_attempts"`
	DataDir           string   `yaml:"data_dir"`
	StateFile         string   `yaml:"state_file"` // YAML run record instead of SQLite history
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
	// EnvFile is loaded into the process environment before overrides are
	// applied. Missing files are ignored.
	EnvFile string
}

// Load reads configuration from a YAML file. An empty path builds the
// configuration from defaults and environment variables alone.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{EnvFile: ".env"})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading env file: %w", err)
		}
	}

	if path == "" {
		return LoadBytes(nil)
	}

	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes, then applies environment
// overrides and defaults.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for run history.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".mongo-scrubber")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// applyEnv overrides individual fields from the environment. Each field is
// independent: an unset variable leaves the file value alone.
func (c *Config) applyEnv() error {
	linkedAddr := os.Getenv("SCRUBBER_MONGO_PORT_27017_TCP_ADDR")
	linkedPort := os.Getenv("SCRUBBER_MONGO_PORT_27017_TCP_PORT")

	if err := c.Source.applyEnv("SRC_MONGO_DB_", linkedAddr, linkedPort); err != nil {
		return err
	}
	if err := c.Destination.applyEnv("DEST_MONGO_DB_", linkedAddr, linkedPort); err != nil {
		return err
	}
	if v := os.Getenv("SRC_MONGO_DB_BACKUP_DIRNAME"); v != "" {
		c.Source.BackupDirname = v
	}
	if v := os.Getenv("DEST_MONGO_DB_BACKUP_DIRNAME"); v != "" {
		c.Destination.BackupDirname = v
	}
	return nil
}

func (e *Endpoint) applyEnv(prefix, linkedAddr, linkedPort string) error {
	if v := os.Getenv(prefix + "NAME"); v != "" {
		e.Database = v
	}
	if v := firstNonEmpty(os.Getenv(prefix+"HOSTNAME"), linkedAddr); v != "" && (e.Host == "" || os.Getenv(prefix+"HOSTNAME") != "") {
		e.Host = v
	}
	if v := firstNonEmpty(os.Getenv(prefix+"PORT"), linkedPort); v != "" && (e.Port == 0 || os.Getenv(prefix+"PORT") != "") {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT must be numeric, got %q", prefix, v)
		}
		e.Port = port
	}
	if v := os.Getenv(prefix + "USERNAME"); v != "" {
		e.Username = v
	}
	if v := os.Getenv(prefix + "PASSWORD"); v != "" {
		e.Password = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	// Source defaults
	if c.Source.Host == "" {
		c.Source.Host = "localhost"
	}
	if c.Source.Port == 0 {
		c.Source.Port = 27017
	}
	if c.Source.Database == "" {
		c.Source.Database = "devex"
	}
	if c.Source.BackupDirname == "" {
		c.Source.BackupDirname = "devexbackup"
	}

	// Destination defaults
	if c.Destination.Host == "" {
		c.Destination.Host = "localhost"
	}
	if c.Destination.Port == 0 {
		c.Destination.Port = 27017
	}
	if c.Destination.Database == "" {
		c.Destination.Database = "devexbackup"
	}
	if c.Destination.BackupDirname == "" {
		// The sanitized dump lands where the source dump was staged.
		c.Destination.BackupDirname = c.Source.BackupDirname
	}

	// Tools
	if c.Tools.Dump == "" {
		c.Tools.Dump = "mongodump"
	}
	if c.Tools.Restore == "" {
		c.Tools.Restore = "mongorestore"
	}
	if c.Tools.StagingDir == "" {
		c.Tools.StagingDir = os.TempDir()
	} else {
		c.Tools.StagingDir = expandTilde(c.Tools.StagingDir)
	}

	// Scrub
	if c.Scrub.EmailBase == "" {
		c.Scrub.EmailBase = "bcdevelopersexchange"
	}
	if c.Scrub.EmailDomain == "" {
		c.Scrub.EmailDomain = "gmail.com"
	}
	if c.Scrub.MaxUniqueAttempts == 0 {
		c.Scrub.MaxUniqueAttempts = 1000
	}
	if c.Scrub.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Scrub.DataDir = filepath.Join(home, ".mongo-scrubber")
	} else {
		c.Scrub.DataDir = expandTilde(c.Scrub.DataDir)
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Logging.File = expandTilde(c.Logging.File)
}

func (c *Config) validate() error {
	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if err := c.Destination.validate("destination"); err != nil {
		return err
	}

	// Dropping the destination must never touch the source.
	if c.Source.Address() == c.Destination.Address() && c.Source.Database == c.Destination.Database {
		return fmt.Errorf("destination.database must differ from source.database on the same server (%s)", c.Source.Database)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}
	if c.Scrub.MaxUniqueAttempts < 1 {
		return fmt.Errorf("scrub.max_unique_attempts must be positive")
	}
	if c.Tools.Timeout < 0 {
		return fmt.Errorf("tools.timeout must not be negative")
	}
	return nil
}

func (e Endpoint) validate(section string) error {
	if e.Host == "" {
		return fmt.Errorf("%s.host is required", section)
	}
	if e.Database == "" {
		return fmt.Errorf("%s.database is required", section)
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535, got %d", section, e.Port)
	}
	if strings.ContainsAny(e.Database, "/\\. \"$") {
		return fmt.Errorf("%s.database contains characters MongoDB does not allow: %q", section, e.Database)
	}
	return nil
}

// HasCredentials reports whether both username and password are set. A
// half-configured pair is treated as no credentials.
func (e Endpoint) HasCredentials() bool {
	return e.Username != "" && e.Password != ""
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URI returns the mongodb:// connection string for the endpoint.
func (e Endpoint) URI() string {
	if e.HasCredentials() {
		return fmt.Sprintf("mongodb://%s@%s/%s",
			url.UserPassword(e.Username, e.Password).String(), e.Address(), url.PathEscape(e.Database))
	}
	return fmt.Sprintf("mongodb://%s/%s", e.Address(), url.PathEscape(e.Database))
}

// Redacted returns the URI with the password masked, for logs.
func (e Endpoint) Redacted() string {
	if e.HasCredentials() {
		masked := e
		masked.Password = "xxxxx"
		return masked.URI()
	}
	return e.URI()
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	if sanitized.Source.Password != "" {
		sanitized.Source.Password = "[REDACTED]"
	}
	if sanitized.Destination.Password != "" {
		sanitized.Destination.Password = "[REDACTED]"
	}
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
