// Package termbridge is the transport core for a phone-sized terminal
// client: one SSH connection to the user's own server, a small registry of
// tmux-backed tabs multiplexed over it, and a stream pipeline that turns
// raw pty bytes into clean UTF-8 frames for a renderer.
package termbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/termbridge/termbridge/internal/config"
	"github.com/termbridge/termbridge/internal/session"
	"github.com/termbridge/termbridge/internal/ssh"
	"github.com/termbridge/termbridge/internal/tmux"
)

// transport is the slice of the connection the manager drives. Production
// wraps *ssh.Connection; tests substitute an in-memory fake.
type transport interface {
	Connect(ctx context.Context) error
	Close() error
	Execute(ctx context.Context, command string) (string, error)
	OpenShell(ctx context.Context, initCommand string, cols, rows int) (session.TermChannel, error)
	IsConnected() bool
}

// sshTransport adapts *ssh.Connection to the transport interface.
type sshTransport struct {
	conn *ssh.Connection
}

func (t *sshTransport) Connect(ctx context.Context) error { return t.conn.Connect(ctx) }
func (t *sshTransport) Close() error                      { return t.conn.Close() }
func (t *sshTransport) IsConnected() bool                 { return t.conn.IsConnected() }

func (t *sshTransport) Execute(ctx context.Context, command string) (string, error) {
	return t.conn.Execute(ctx, command)
}

func (t *sshTransport) OpenShell(ctx context.Context, initCommand string, cols, rows int) (session.TermChannel, error) {
	return t.conn.OpenShellChannel(ctx, initCommand, cols, rows)
}

// Manager is the facade the app layer talks to: connect, manage tabs,
// send keystrokes, and receive rendered output through the event sinks.
type Manager struct {
	cfg      *config.Config
	tmuxPath string
	logger   *slog.Logger

	pool      *ssh.Pool
	transport transport
	registry  *session.Registry
	storage   *session.Storage
	events    eventFanout

	mu         sync.Mutex
	activeSlot int
	tmuxFound  bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the structured logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithEventSink adds a sink for output, connection, and tab events.
func WithEventSink(sink EventSink) ManagerOption {
	return func(m *Manager) { m.events.sinks = append(m.events.sinks, sink) }
}

// WithStorage attaches tab-state persistence (sessions.json).
func WithStorage(s *session.Storage) ManagerOption {
	return func(m *Manager) { m.storage = s }
}

// withTransport substitutes the transport (tests).
func withTransport(t transport) ManagerOption {
	return func(m *Manager) { m.transport = t }
}

// NewManager wires a manager for the named host profile in cfg.
func NewManager(cfg *config.Config, hostID string, creds ssh.CredentialStore, opts ...ManagerOption) (*Manager, error) {
	host, ok := cfg.Hosts[hostID]
	if !ok {
		return nil, fmt.Errorf("no hosts entry named %q", hostID)
	}

	m := &Manager{
		cfg:      cfg,
		tmuxPath: host.TmuxPath,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.transport == nil {
		// Every configured profile is registered so switching servers
		// reuses an already-established link instead of redialing.
		pool := ssh.NewPool()
		for id, def := range cfg.Hosts {
			opts := []ssh.Option{ssh.WithLogger(m.logger)}
			if id == hostID {
				opts = append(opts,
					ssh.WithStateSink(m.onConnectionState),
					ssh.WithReconnectHook(m.onReconnected),
				)
			}
			pool.Register(id, hostSSHConfig(cfg, def), creds, opts...)
		}
		conn, err := pool.Lookup(hostID)
		if err != nil {
			return nil, err
		}
		m.pool = pool
		m.transport = &sshTransport{conn: conn}
	}

	m.registry = session.NewRegistry(
		cfg.RegistryConfig(m.tmuxPath),
		func(ctx context.Context, initCommand string, cols, rows int) (session.TermChannel, error) {
			return m.transport.OpenShell(ctx, initCommand, cols, rows)
		},
		func(ctx context.Context, command string) (string, error) {
			return m.transport.Execute(ctx, command)
		},
		m.onOutput,
		session.WithRegistryLogger(m.logger),
		session.WithDetachHandler(m.onSessionDetached),
	)
	return m, nil
}

// hostSSHConfig maps a host profile plus the global connection settings
// onto the transport config.
func hostSSHConfig(cfg *config.Config, host config.HostDef) ssh.Config {
	sshCfg := ssh.Config{
		Host:              host.Host,
		Port:              host.Port,
		ConnectTimeout:    cfg.Connection.ConnectTimeout.Std(),
		KeepAliveInterval: cfg.Connection.KeepAliveInterval.Std(),
	}
	if cfg.Connection.BackoffInitial.Std() > 0 {
		sshCfg.Backoff = ssh.BackoffPolicy{
			Initial:     cfg.Connection.BackoffInitial.Std(),
			Multiplier:  cfg.Connection.BackoffMultiplier,
			Max:         cfg.Connection.BackoffMax.Std(),
			MaxAttempts: cfg.Connection.BackoffMaxAttempts,
			Jitter:      true,
		}
	}
	return sshCfg
}

// Connect establishes the transport link.
func (m *Manager) Connect(ctx context.Context) error {
	return m.transport.Connect(ctx)
}

// Disconnect tears everything down: channels first, then the transport,
// then any idle links to other pooled hosts.
func (m *Manager) Disconnect() error {
	m.saveState()
	m.registry.DetachAll()
	err := m.transport.Close()
	if m.pool != nil {
		m.pool.CloseAll()
	}
	return err
}

// Hosts lists the registered host profiles.
func (m *Manager) Hosts() []string {
	var hosts []string
	if m.pool != nil {
		hosts = m.pool.ListHosts()
	} else {
		for id := range m.cfg.Hosts {
			hosts = append(hosts, id)
		}
	}
	sort.Strings(hosts)
	return hosts
}

// Connected reports whether the transport is usable.
func (m *Manager) Connected() bool { return m.transport.IsConnected() }

// ProbeTmux checks once whether tmux exists on the remote.
func (m *Manager) ProbeTmux(ctx context.Context) (bool, error) {
	p := m.prober()
	found, err := p.Once(ctx, m.transport)
	if err != nil {
		return false, err
	}
	m.setTmuxFound(found)
	return found, nil
}

// WaitForTmux retries the probe until tmux appears or ctx is cancelled,
// covering the "user is installing tmux right now" window.
func (m *Manager) WaitForTmux(ctx context.Context) error {
	p := m.prober()
	if err := p.Run(ctx, m.transport); err != nil {
		return err
	}
	m.setTmuxFound(true)
	return nil
}

func (m *Manager) prober() *ssh.Prober {
	return &ssh.Prober{
		Command:  tmux.ProbeCommand(m.tmuxPath),
		Classify: tmux.ClassifyProbeOutput,
		Interval: m.cfg.Probe.Interval.Std(),
		Timeout:  m.cfg.Probe.Timeout.Std(),
		Logger:   m.logger,
	}
}

func (m *Manager) setTmuxFound(found bool) {
	m.mu.Lock()
	was := m.tmuxFound
	m.tmuxFound = found
	m.mu.Unlock()
	if found && !was {
		m.events.OnTabEvent(TabEvent{Kind: TabTmuxFound})
	}
}

// OpenSession opens a new tab in the lowest free slot.
func (m *Manager) OpenSession(ctx context.Context) (int, error) {
	sess, err := m.registry.Open(ctx)
	if err != nil {
		return 0, err
	}
	m.afterAttach(ctx, sess, TabOpened)
	return sess.Slot, nil
}

// AttachSession opens or resumes the tab in a specific slot.
func (m *Manager) AttachSession(ctx context.Context, slot int) error {
	sess, err := m.registry.Attach(ctx, slot)
	if err != nil {
		return err
	}
	m.afterAttach(ctx, sess, TabOpened)
	return nil
}

// afterAttach preloads scrollback, announces the tab, and persists state.
func (m *Manager) afterAttach(ctx context.Context, sess *session.Session, kind TabEventKind) {
	if history, err := m.registry.Scrollback(ctx, sess.Slot); err == nil && history != "" {
		m.events.OnOutput(OutputEvent{Slot: sess.Slot, Text: history, Scrollback: true})
	}
	m.setActive(sess.Slot)
	m.events.OnTabEvent(TabEvent{Kind: kind, Slot: sess.Slot, Target: sess.Target})
	m.saveState()
}

// CloseSession kills the tab's remote tmux session and frees the slot.
func (m *Manager) CloseSession(ctx context.Context, slot int) error {
	var target string
	if sess := m.registry.Get(slot); sess != nil {
		target = sess.Target
	}
	if err := m.registry.Close(ctx, slot); err != nil {
		return err
	}
	m.events.OnTabEvent(TabEvent{Kind: TabClosed, Slot: slot, Target: target})
	m.saveState()
	return nil
}

// DetachSession drops the tab's channel but keeps the remote shell alive.
func (m *Manager) DetachSession(slot int) {
	var target string
	if sess := m.registry.Get(slot); sess != nil {
		target = sess.Target
	}
	m.registry.Detach(slot)
	m.events.OnTabEvent(TabEvent{Kind: TabDetached, Slot: slot, Target: target})
	m.saveState()
}

// ResetSession kills and recreates the tab's remote session: a fresh
// shell under the same name.
func (m *Manager) ResetSession(ctx context.Context, slot int) error {
	sess, err := m.registry.Reset(ctx, slot)
	if err != nil {
		return err
	}
	m.events.OnTabEvent(TabEvent{Kind: TabReset, Slot: sess.Slot, Target: sess.Target})
	return nil
}

// SendText mirrors the app's input field into the slot's remote line.
func (m *Manager) SendText(slot int, field string) error {
	sess := m.registry.Get(slot)
	if sess == nil {
		return fmt.Errorf("slot %d not open", slot)
	}
	m.setActive(slot)
	return sess.SendText(field)
}

// Submit sends the pending line to the slot's shell.
func (m *Manager) Submit(slot int) error {
	sess := m.registry.Get(slot)
	if sess == nil {
		return fmt.Errorf("slot %d not open", slot)
	}
	return sess.Submit()
}

// Resize propagates a viewport change to the slot's remote pty.
func (m *Manager) Resize(slot, cols, rows int) error {
	sess := m.registry.Get(slot)
	if sess == nil {
		return fmt.Errorf("slot %d not open", slot)
	}
	return sess.Resize(cols, rows)
}

// FlushSession forces buffered output out, e.g. when a tab foregrounds.
func (m *Manager) FlushSession(slot int) {
	if sess := m.registry.Get(slot); sess != nil {
		sess.Flush()
	}
}

// Sessions lists the open tabs ordered by slot.
func (m *Manager) Sessions() []*session.Session { return m.registry.List() }

// ActiveSlot returns the most recently used slot, zero when none.
func (m *Manager) ActiveSlot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSlot
}

func (m *Manager) setActive(slot int) {
	m.mu.Lock()
	m.activeSlot = slot
	m.mu.Unlock()
}

// RestoreState reattaches the tabs recorded in storage, falling back to
// discovering this app's sessions on the remote when storage is empty.
func (m *Manager) RestoreState(ctx context.Context) error {
	if m.storage != nil {
		data, err := m.storage.Load()
		if err != nil {
			return err
		}
		if len(data.Tabs) > 0 {
			var firstErr error
			for _, tab := range data.Tabs {
				if err := m.AttachSession(ctx, tab.Slot); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			if data.ActiveSlot > 0 {
				m.setActive(data.ActiveSlot)
			}
			return firstErr
		}
	}

	adopted, err := m.registry.AdoptDiscovered(ctx)
	if err != nil {
		return err
	}
	for _, sess := range adopted {
		m.events.OnTabEvent(TabEvent{Kind: TabReattached, Slot: sess.Slot, Target: sess.Target})
	}
	m.saveState()
	return nil
}

func (m *Manager) saveState() {
	if m.storage == nil {
		return
	}
	if err := m.storage.Save(m.registry.List(), m.ActiveSlot()); err != nil {
		m.logger.Warn("failed to persist tab state", "err", err)
	}
}

// onOutput is the registry's render sink.
func (m *Manager) onOutput(slot int, text string) {
	m.events.OnOutput(OutputEvent{Slot: slot, Text: text})
}

// onSessionDetached surfaces a channel dying on its own, as opposed to a
// deliberate detach.
func (m *Manager) onSessionDetached(slot int, err error) {
	var target string
	if sess := m.registry.Get(slot); sess != nil {
		target = sess.Target
	}
	m.events.OnTabEvent(TabEvent{Kind: TabDead, Slot: slot, Target: target})
}

// onConnectionState forwards transport transitions to the sinks.
func (m *Manager) onConnectionState(change ssh.StateChange) {
	event := ConnectionEvent{State: change.State.String(), Attempt: change.Attempt}
	if change.Err != nil {
		event.Reason = change.Err.Error()
	}
	m.events.OnConnectionState(event)
}

// onReconnected restores every tab after the transport came back.
func (m *Manager) onReconnected() {
	ctx := context.Background()
	if err := m.registry.ReattachAll(ctx); err != nil {
		m.logger.Warn("reattach after reconnect incomplete", "err", err)
	}
	for _, sess := range m.registry.List() {
		if sess.Attached() {
			m.events.OnTabEvent(TabEvent{Kind: TabReattached, Slot: sess.Slot, Target: sess.Target})
		}
	}
}
