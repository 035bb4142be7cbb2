// Package ssh owns the single transport link to the remote host. One
// authenticated connection carries everything: one-shot probe commands,
// keepalives, and every session's interactive pty sub-channel. Remote hosts
// commonly cap concurrent channels, so nothing here ever dials a second
// transport for a check that can ride the existing one.
package ssh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gossh "golang.org/x/crypto/ssh"
)

// Config holds the connection parameters. Credential material is not part
// of it; that stays behind the CredentialStore.
type Config struct {
	Host string
	Port int // default 22

	// ConnectTimeout bounds the TCP dial and handshake (default 10s).
	ConnectTimeout time.Duration

	// KeepAliveInterval is how often a no-op request is sent on an idle
	// connection (default 60s). Two consecutive misses mark the link
	// degraded and start the reconnect loop.
	KeepAliveInterval time.Duration

	// Backoff shapes the reconnect schedule.
	Backoff BackoffPolicy

	// HostKeyCallback overrides host key verification. Nil accepts any
	// key, mirroring StrictHostKeyChecking=accept-new convenience.
	HostKeyCallback gossh.HostKeyCallback
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 60 * time.Second
	}
	if c.Backoff.Initial == 0 {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// Connection is the authenticated transport link to one remote host. At
// most one live Connection exists per app instance; every session fans out
// over it as a sub-channel.
type Connection struct {
	cfg    Config
	creds  CredentialStore
	dial   dialer
	logger *slog.Logger

	id string

	mu           sync.Mutex
	client       transportClient
	state        State
	lastActivity time.Time
	closed       bool

	sink StateSink

	// onReconnected fires after the reconnect loop restores the link, so
	// the session registry can reattach every open session. Set once
	// before Connect.
	onReconnected func()

	// background loop handles; starting a new loop cancels the prior one.
	keepaliveCancel context.CancelFunc
	retryCancel     context.CancelFunc
	retryRunning    bool

	missedKeepalives int
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithStateSink registers the UI event sink for state transitions.
func WithStateSink(sink StateSink) Option {
	return func(c *Connection) { c.sink = sink }
}

// WithReconnectHook registers the callback fired after a successful
// automatic reconnect.
func WithReconnectHook(fn func()) Option {
	return func(c *Connection) { c.onReconnected = fn }
}

// withDialer substitutes the transport dialer (tests).
func withDialer(d dialer) Option {
	return func(c *Connection) { c.dial = d }
}

// NewConnection creates a connection in the Disconnected state.
func NewConnection(cfg Config, creds CredentialStore, opts ...Option) *Connection {
	c := &Connection{
		cfg:    cfg.withDefaults(),
		creds:  creds,
		dial:   sshDial,
		logger: slog.Default(),
		id:     uuid.NewString()[:8],
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("conn", c.id, "host", c.cfg.Host)
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the transport is currently usable.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected || c.state == StateDegraded
}

// Connect establishes the transport. Auth failures are fatal; network
// failures are returned to the caller, who decides whether to retry (the
// automatic reconnect loop only guards an established link that drops).
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.client != nil {
		c.mu.Unlock()
		return nil
	}
	if c.retryRunning {
		// The reconnect loop is already dialing; a second transport here
		// would race it and orphan the loser.
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateChange{State: StateConnecting})

	client, err := c.dialOnce(ctx)
	if err != nil {
		if _, fatal := err.(*AuthError); fatal {
			c.setState(StateChange{State: StateFatal, Err: err})
		} else {
			c.setState(StateChange{State: StateDisconnected, Err: err})
		}
		return err
	}

	c.adoptClient(client)
	c.setState(StateChange{State: StateConnected})
	c.logger.Info("connected", "port", c.cfg.Port)
	return nil
}

// dialOnce fetches a fresh credential and dials.
func (c *Connection) dialOnce(ctx context.Context) (transportClient, error) {
	cred, err := c.creds.GetCredential()
	if err != nil {
		return nil, &AuthError{Err: fmt.Errorf("credential store: %w", err)}
	}
	return c.dial(ctx, c.cfg, cred)
}

// adoptClient installs a live transport and (re)starts the keepalive loop
// and the transport death watch.
func (c *Connection) adoptClient(client transportClient) {
	c.mu.Lock()
	c.client = client
	c.state = StateConnected
	c.lastActivity = time.Now()
	c.missedKeepalives = 0

	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
	}
	kctx, cancel := context.WithCancel(context.Background())
	c.keepaliveCancel = cancel
	c.mu.Unlock()

	go c.keepaliveLoop(kctx, client)
	go c.watchTransport(client)
}

// watchTransport notices the transport dying underneath us (TCP reset,
// server shutdown) without waiting for the next keepalive tick.
func (c *Connection) watchTransport(client transportClient) {
	err := client.Wait()

	c.mu.Lock()
	current := c.client == client
	closed := c.closed
	c.mu.Unlock()
	if !current || closed {
		return // superseded by a newer transport or an explicit Close
	}
	c.logger.Warn("transport lost", "err", err)
	c.handleDisconnect(err)
}

// Execute runs a one-shot diagnostic command over the existing transport
// and returns its combined output. Never opens a second transport-level
// connection.
func (c *Connection) Execute(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return "", ErrNotConnected
	}

	out, err := client.Exec(ctx, command)
	if err != nil {
		return string(out), err
	}
	c.touch()
	return string(out), nil
}

// OpenShellChannel opens an interactive pty sub-channel over the existing
// connection and runs the attach/create command on it.
func (c *Connection) OpenShellChannel(ctx context.Context, initCommand string, cols, rows int) (*Channel, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, ErrNotConnected
	}

	ch, err := client.OpenShell(ctx, initCommand, cols, rows)
	if err != nil {
		return nil, err
	}
	c.touch()
	return ch, nil
}

// keepaliveLoop sends a no-op request on a fixed interval so idle-timeout
// middleboxes keep the connection alive. A single missed reply marks the
// link degraded; a second consecutive miss triggers the reconnect loop.
func (c *Connection) keepaliveLoop(ctx context.Context, client transportClient) {
	ticker := time.NewTicker(c.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		errCh := make(chan error, 1)
		go func() { errCh <- client.Keepalive() }()

		var kerr error
		select {
		case kerr = <-errCh:
		case <-time.After(keepaliveTimeout):
			kerr = fmt.Errorf("keepalive reply timed out after %v", keepaliveTimeout)
		case <-ctx.Done():
			return
		}

		if kerr == nil {
			c.mu.Lock()
			c.missedKeepalives = 0
			recovering := c.state == StateDegraded
			if recovering {
				c.state = StateConnected
			}
			c.mu.Unlock()
			if recovering {
				c.notify(StateChange{State: StateConnected})
			}
			c.touch()
			continue
		}

		c.mu.Lock()
		c.missedKeepalives++
		missed := c.missedKeepalives
		c.mu.Unlock()
		c.logger.Warn("keepalive missed", "count", missed, "err", kerr)

		if missed == 1 {
			c.setState(StateChange{State: StateDegraded, Err: kerr})
			continue
		}
		c.handleDisconnect(kerr)
		return
	}
}

// handleDisconnect tears down the dead transport and starts the single
// in-flight reconnect loop.
func (c *Connection) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.client != nil {
		_ = c.client.Close()
		c.client = nil
	}
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
	if c.retryRunning {
		c.mu.Unlock()
		return
	}
	c.retryRunning = true
	rctx, cancel := context.WithCancel(context.Background())
	c.retryCancel = cancel
	c.mu.Unlock()

	go c.reconnectLoop(rctx, cause)
}

// reconnectLoop retries with exponential backoff until the link is
// restored, the policy's attempt budget runs out, auth fails, or Close
// cancels it. Exactly one instance runs per disconnect.
func (c *Connection) reconnectLoop(ctx context.Context, cause error) {
	defer func() {
		c.mu.Lock()
		c.retryRunning = false
		c.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		if c.cfg.Backoff.Exhausted(attempt) {
			c.logger.Error("reconnect attempts exhausted", "attempts", attempt-1)
			c.setState(StateChange{State: StateDisconnected, Err: cause})
			return
		}

		c.setState(StateChange{State: StateReconnecting, Attempt: attempt, Err: cause})

		delay := c.cfg.Backoff.Delay(attempt)
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		client, err := c.dialOnce(dialCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if _, fatal := err.(*AuthError); fatal {
				c.logger.Error("reconnect auth failure", "err", err)
				c.setState(StateChange{State: StateFatal, Err: err})
				return
			}
			cause = err
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "err", err)
			continue
		}

		c.adoptClient(client)
		c.setState(StateChange{State: StateConnected})
		c.logger.Info("reconnected", "attempt", attempt)
		if c.onReconnected != nil {
			c.onReconnected()
		}
		return
	}
}

// Close disconnects permanently. All background loops stop; the state
// becomes fatal and the connection cannot be reused.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.keepaliveCancel != nil {
		c.keepaliveCancel()
		c.keepaliveCancel = nil
	}
	if c.retryCancel != nil {
		c.retryCancel()
		c.retryCancel = nil
	}
	client := c.client
	c.client = nil
	c.state = StateFatal
	c.mu.Unlock()

	c.notify(StateChange{State: StateFatal})
	if client != nil {
		return client.Close()
	}
	return nil
}

// touch records transport activity.
func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns when the transport last did useful work.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// setState updates the state under lock and notifies the sink.
func (c *Connection) setState(change StateChange) {
	c.mu.Lock()
	c.state = change.State
	c.mu.Unlock()
	c.notify(change)
}

func (c *Connection) notify(change StateChange) {
	if c.sink != nil {
		c.sink(change)
	}
}
