// Package config provides TOML configuration file loading for the bridge.
// The configuration file lives at ~/.termbridge/config.toml by default, but
// can be overridden with the --config flag. CLI flags always take
// precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the bridge configuration file structure.
// Field names map to snake_case TOML keys via struct tags.
type Config struct {
	// Addr is the host:port the bridge listens on.
	// Default: 127.0.0.1:7170
	Addr string `toml:"addr"`

	// Command is the program run in new terminal sessions.
	// If empty, defaults to the user's shell ($SHELL or /bin/sh).
	Command string `toml:"command"`

	// WorkDir is the default working directory for new sessions.
	// If empty, defaults to the current working directory.
	WorkDir string `toml:"work_dir"`

	// AttachPolicy decides what happens when a connection attaches to a
	// session that already has one: "evict" (the old connection is
	// closed with a superseded status) or "reject".
	// Default: evict
	AttachPolicy string `toml:"attach_policy"`

	// MaxSessions caps concurrent sessions.
	// Default: 20
	MaxSessions int `toml:"max_sessions"`

	// IdleTimeoutSec terminates sessions with no bound connection after
	// this many seconds. Default: 600
	IdleTimeoutSec int `toml:"idle_timeout_sec"`

	// KillGraceSec is how long a terminating process gets between
	// SIGTERM and SIGKILL. Default: 3
	KillGraceSec int `toml:"kill_grace_sec"`

	// Database is the path to the SQLite database for session records
	// and access tokens. Default: ~/.termbridge/termbridge.db
	Database string `toml:"database"`

	// RequireAuth enables bearer-token authentication for session
	// creation and bridge connections. Default: false
	RequireAuth bool `toml:"require_auth"`

	// TLSCert is the path to the TLS certificate file.
	// Default: ~/.termbridge/certs/termbridge.crt (generated if missing)
	TLSCert string `toml:"tls_cert"`

	// TLSKey is the path to the TLS key file.
	// Default: ~/.termbridge/certs/termbridge.key (generated if missing)
	TLSKey string `toml:"tls_key"`

	// TLSEnabled serves wss instead of ws. Default: false
	TLSEnabled bool `toml:"tls_enabled"`

	// MdnsEnabled advertises the bridge on the local network so clients
	// can discover it without manual address entry.
	// Default: false (must be explicitly enabled)
	MdnsEnabled bool `toml:"mdns_enabled"`

	// QR prints a QR code of the connect URL at startup.
	// Default: false
	QR bool `toml:"qr"`

	// Client-side settings, used by the attach command.

	// PingIntervalSec is the heartbeat interval. Default: 30
	PingIntervalSec int `toml:"ping_interval_sec"`

	// ReconnectAttempts bounds automatic reconnection. Default: 3
	ReconnectAttempts int `toml:"reconnect_attempts"`

	// ReconnectDelaySec is the fixed delay between reconnection
	// attempts. Default: 2
	ReconnectDelaySec int `toml:"reconnect_delay_sec"`
}

// Validate checks field values that have constrained domains. Zero values
// mean "use default" and are always valid.
func (c *Config) Validate() error {
	switch c.AttachPolicy {
	case "", "evict", "reject":
	default:
		return fmt.Errorf("invalid attach_policy %q (must be \"evict\" or \"reject\")", c.AttachPolicy)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("invalid max_sessions %d (must not be negative)", c.MaxSessions)
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("invalid reconnect_attempts %d (must not be negative)", c.ReconnectAttempts)
	}
	if c.IdleTimeoutSec < 0 {
		return fmt.Errorf("invalid idle_timeout_sec %d (must not be negative)", c.IdleTimeoutSec)
	}
	return nil
}

// DefaultConfigPath returns the default config file location:
// ~/.termbridge/config.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".termbridge", "config.toml"), nil
}

// WriteDefault creates a commented config file at the given path.
//
// Behavior:
//   - If the file already exists, returns without error (never overwrites).
//   - Creates the parent directory if it doesn't exist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# termbridge configuration

# Listen address. Use 0.0.0.0 for LAN access.
addr = "127.0.0.1:7170"

# Program to run in new sessions. Empty means the user's shell.
command = ""

# Require bearer-token authentication.
require_auth = false

# What a second attach to a bound session does: "evict" or "reject".
attach_policy = "evict"
`

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path.
//
// Behavior:
//   - If path is empty, attempts the default location and returns an
//     empty Config without error if it doesn't exist.
//   - If path is specified, a missing file is an error.
//   - A file that exists but cannot be parsed is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
