package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DaemonConfig controls the sync orchestrator's cadence and cache bounds.
type DaemonConfig struct {
	// IntervalSec is the fallback poll interval between scheduled cycles.
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`

	// KeepRecent is how many summaries the cache retains after pruning.
	KeepRecent int `mapstructure:"keep_recent" yaml:"keep_recent"`

	// Pages is how many pages of 20 messages each cycle refreshes.
	Pages int `mapstructure:"pages" yaml:"pages"`
}

// LogConfig holds optional log-file settings; empty File logs to stderr only.
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// UserEmail is the mailbox identity; it keys the refresh token in the
	// credential store and appears in the SASL payload.
	UserEmail string `mapstructure:"user_email" yaml:"user_email"`

	// IMAPServer is the mailbox host (implicit TLS on port 993).
	IMAPServer string `mapstructure:"imap_server" yaml:"imap_server"`

	// ClientID identifies the OAuth application. The matching client
	// secret, if any, lives in the credential store, not in this file.
	ClientID string `mapstructure:"client_id" yaml:"client_id"`

	// RedirectURI is the consent-flow callback; its host and port are the
	// exact bind address of the local listener.
	RedirectURI string `mapstructure:"redirect_uri" yaml:"redirect_uri"`

	AuthURL  string `mapstructure:"auth_url" yaml:"auth_url"`
	TokenURL string `mapstructure:"token_url" yaml:"token_url"`

	// DBPath is the location of the SQLite cache.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	Daemon DaemonConfig `mapstructure:"daemon" yaml:"daemon"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// ConfigDir returns the per-user application state directory,
// ~/.config/mailsync, creating it if needed.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "mailsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(dir, "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("imap_server", "imap.gmail.com")
	v.SetDefault("redirect_uri", "http://127.0.0.1:8080/callback")
	v.SetDefault("auth_url", "https://accounts.google.com/o/oauth2/v2/auth")
	v.SetDefault("token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("daemon.interval_sec", 5)
	v.SetDefault("daemon.keep_recent", 200)
	v.SetDefault("daemon.pages", 3)
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 3)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, a commented template is written there and an
// error is returned asking the user to edit it.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			if werr := writeTemplate(path); werr != nil {
				return nil, werr
			}
			return nil, fmt.Errorf(
				"created template config at %s, edit it and run again", path,
			)
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.UserEmail == "" {
		return nil, fmt.Errorf("user_email not set in %s", path)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client_id not set in %s", path)
	}

	if cfg.DBPath == "" {
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		cfg.DBPath = filepath.Join(dir, "mail.db")
	}

	return cfg, nil
}

const configTemplate = `# mailsync configuration
user_email: you@example.com
imap_server: imap.gmail.com
client_id: YOUR_CLIENT_ID.apps.googleusercontent.com
redirect_uri: http://127.0.0.1:8080/callback
# daemon:
#   interval_sec: 5
#   keep_recent: 200
#   pages: 3
# log:
#   file: ""
`

func writeTemplate(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing template config to %s: %w", path, err)
	}
	return nil
}
