package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termbridge/termbridge/internal/session"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, session.DefaultCapacity, cfg.Sessions.Capacity)
	assert.Equal(t, string(session.EvictReject), cfg.Sessions.Eviction)
	assert.Empty(t, cfg.Hosts)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
active_host = "home"

[hosts.home]
host = "home.example.com"
user = "dev"
port = 2222
identity_file = "~/.ssh/id_ed25519"
tmux_path = "/opt/homebrew/bin/tmux"

[hosts.work]
host = "10.0.0.5"
user = "ops"

[sessions]
capacity = 2
eviction = "evict-lru"
base = "vide"
cols = 50
rows = 40

[connection]
connect_timeout = "5s"
keepalive_interval = "45s"
backoff_initial = "500ms"
backoff_max = "20s"
backoff_multiplier = 1.5
backoff_max_attempts = 10

[probe]
interval = "3s"
timeout = "8s"

[output]
burst_interval = "10ms"
sustained_interval = "25ms"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "home", cfg.ActiveHost)
	require.Contains(t, cfg.Hosts, "home")
	assert.Equal(t, "home.example.com", cfg.Hosts["home"].Host)
	assert.Equal(t, 2222, cfg.Hosts["home"].Port)
	assert.Equal(t, "/opt/homebrew/bin/tmux", cfg.Hosts["home"].TmuxPath)

	assert.Equal(t, 2, cfg.Sessions.Capacity)
	assert.Equal(t, "evict-lru", cfg.Sessions.Eviction)

	assert.Equal(t, 5*time.Second, cfg.Connection.ConnectTimeout.Std())
	assert.Equal(t, 45*time.Second, cfg.Connection.KeepAliveInterval.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Connection.BackoffInitial.Std())
	assert.Equal(t, 1.5, cfg.Connection.BackoffMultiplier)
	assert.Equal(t, 10, cfg.Connection.BackoffMaxAttempts)

	assert.Equal(t, 3*time.Second, cfg.Probe.Interval.Std())
	assert.Equal(t, 10*time.Millisecond, cfg.Output.BurstInterval.Std())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
[connection]
connect_timeout = "five seconds"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownActiveHost(t *testing.T) {
	path := writeConfig(t, `
active_host = "nope"

[hosts.home]
host = "h"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active_host")
}

func TestValidateRejectsBadEviction(t *testing.T) {
	path := writeConfig(t, `
[sessions]
eviction = "random"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsEmptyHost(t *testing.T) {
	path := writeConfig(t, `
[hosts.broken]
user = "dev"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := Default()
	cfg.Hosts["home"] = HostDef{Host: "home.example.com", User: "dev", Port: 22}
	cfg.ActiveHost = "home"
	cfg.Connection.KeepAliveInterval = Duration(90 * time.Second)

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.ActiveHost, loaded.ActiveHost)
	assert.Equal(t, cfg.Hosts["home"], loaded.Hosts["home"])
	assert.Equal(t, 90*time.Second, loaded.Connection.KeepAliveInterval.Std())

	// No temp file left behind.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestRegistryConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Sessions = SessionSettings{Capacity: 2, Eviction: "evict-lru", Base: "tb", Cols: 50, Rows: 20}
	cfg.Output.BurstInterval = Duration(10 * time.Millisecond)

	rc := cfg.RegistryConfig("/usr/bin/tmux")
	assert.Equal(t, 2, rc.Capacity)
	assert.Equal(t, session.EvictLRU, rc.Eviction)
	assert.Equal(t, "tb", rc.Base)
	assert.Equal(t, "/usr/bin/tmux", rc.TmuxPath)
	assert.Equal(t, 10*time.Millisecond, rc.BurstInterval)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".ssh", "id_ed25519"), ExpandPath("~/.ssh/id_ed25519"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, "relative", ExpandPath("relative"))
}

func TestDirHonorsEnvOverride(t *testing.T) {
	t.Setenv("TERMBRIDGE_HOME", "/tmp/tb-test")
	dir, err := Dir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/tb-test", dir)
}
