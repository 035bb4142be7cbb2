// Package config loads the TOML configuration file: host profiles,
// session registry limits, and transport tuning knobs.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/termbridge/termbridge/internal/session"
)

// FileName is the config file name under the app directory.
const FileName = "config.toml"

// Duration parses TOML strings like "30s" into a time.Duration.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// HostDef is one saved server profile.
type HostDef struct {
	// Host is the hostname or IP address.
	Host string `toml:"host"`

	// User is the SSH username.
	User string `toml:"user"`

	// Port is the SSH port (default 22).
	Port int `toml:"port"`

	// IdentityFile is the path to the SSH private key. Supports ~
	// expansion. Password auth comes from the credential store instead.
	IdentityFile string `toml:"identity_file"`

	// TmuxPath overrides the tmux binary path on this host.
	TmuxPath string `toml:"tmux_path"`

	// Description is optional help text shown in the host picker.
	Description string `toml:"description"`
}

// SessionSettings bounds the tab registry.
type SessionSettings struct {
	// Capacity is the max number of concurrent tabs (default 3).
	Capacity int `toml:"capacity"`

	// Eviction is "reject" (default) or "evict-lru".
	Eviction string `toml:"eviction"`

	// Base is the remote tmux session name prefix (default "vide").
	Base string `toml:"base"`

	// Cols and Rows set the remote terminal geometry.
	Cols int `toml:"cols"`
	Rows int `toml:"rows"`
}

// ConnectionSettings tunes the transport.
type ConnectionSettings struct {
	ConnectTimeout    Duration `toml:"connect_timeout"`
	KeepAliveInterval Duration `toml:"keepalive_interval"`

	BackoffInitial     Duration `toml:"backoff_initial"`
	BackoffMax         Duration `toml:"backoff_max"`
	BackoffMultiplier  float64  `toml:"backoff_multiplier"`
	BackoffMaxAttempts int      `toml:"backoff_max_attempts"`
}

// ProbeSettings tunes the tmux availability probe.
type ProbeSettings struct {
	Interval Duration `toml:"interval"`
	Timeout  Duration `toml:"timeout"`
}

// OutputSettings tunes output coalescing.
type OutputSettings struct {
	BurstInterval     Duration `toml:"burst_interval"`
	SustainedInterval Duration `toml:"sustained_interval"`
}

// Config is the full TOML configuration.
type Config struct {
	// ActiveHost selects which hosts entry connects by default.
	ActiveHost string `toml:"active_host"`

	Hosts map[string]HostDef `toml:"hosts"`

	Sessions   SessionSettings    `toml:"sessions"`
	Connection ConnectionSettings `toml:"connection"`
	Probe      ProbeSettings      `toml:"probe"`
	Output     OutputSettings     `toml:"output"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Hosts: make(map[string]HostDef),
		Sessions: SessionSettings{
			Capacity: session.DefaultCapacity,
			Eviction: string(session.EvictReject),
		},
	}
}

// Dir returns the app config directory, honoring TERMBRIDGE_HOME.
func Dir() (string, error) {
	if dir := os.Getenv("TERMBRIDGE_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".termbridge"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config file at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("%s parse error: %w", filepath.Base(path), err)
	}
	if cfg.Hosts == nil {
		cfg.Hosts = make(map[string]HostDef)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config atomically (tmp + rename), 0600 like everything
// else that may sit next to key paths.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# termbridge configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize config save: %w", err)
	}
	return nil
}

// Validate rejects configs that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Sessions.Capacity < 0 {
		return fmt.Errorf("sessions.capacity must be non-negative")
	}
	switch session.EvictionPolicy(c.Sessions.Eviction) {
	case "", session.EvictReject, session.EvictLRU:
	default:
		return fmt.Errorf("sessions.eviction must be %q or %q, got %q",
			session.EvictReject, session.EvictLRU, c.Sessions.Eviction)
	}
	if c.ActiveHost != "" {
		if _, ok := c.Hosts[c.ActiveHost]; !ok {
			return fmt.Errorf("active_host %q has no hosts entry", c.ActiveHost)
		}
	}
	for name, h := range c.Hosts {
		if h.Host == "" {
			return fmt.Errorf("hosts.%s: host must not be empty", name)
		}
		if h.Port < 0 || h.Port > 65535 {
			return fmt.Errorf("hosts.%s: invalid port %d", name, h.Port)
		}
	}
	if c.Connection.BackoffMultiplier < 0 || (c.Connection.BackoffMultiplier > 0 && c.Connection.BackoffMultiplier < 1) {
		return fmt.Errorf("connection.backoff_multiplier must be >= 1")
	}
	return nil
}

// RegistryConfig maps the file settings onto the session registry's
// config, leaving zero values for the registry's own defaults.
func (c *Config) RegistryConfig(tmuxPath string) session.RegistryConfig {
	return session.RegistryConfig{
		Capacity:          c.Sessions.Capacity,
		Eviction:          session.EvictionPolicy(c.Sessions.Eviction),
		Base:              c.Sessions.Base,
		TmuxPath:          tmuxPath,
		Cols:              c.Sessions.Cols,
		Rows:              c.Sessions.Rows,
		BurstInterval:     c.Output.BurstInterval.Std(),
		SustainedInterval: c.Output.SustainedInterval.Std(),
	}
}

// ExpandPath expands a leading ~ in identity file paths.
func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
