package ssh

import (
	"context"
	"sync"
)

// poolEntry pairs a host profile with its credential source and the live
// connection, if one has been established.
type poolEntry struct {
	cfg   Config
	creds CredentialStore
	opts  []Option
	conn  *Connection
}

// Pool holds one Connection per registered host profile. Only one host is
// active at a time in practice, but the user can switch between saved
// server profiles without re-entering credentials, so established links
// are kept and reused.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*poolEntry
}

// NewPool creates an empty connection pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[string]*poolEntry)}
}

// Register adds a host profile without connecting. Options are applied to
// the Connection when it is first created. Re-registering a host replaces
// its profile; an existing live connection for it is closed.
func (p *Pool) Register(hostID string, cfg Config, creds CredentialStore, opts ...Option) {
	p.mu.Lock()
	old := p.entries[hostID]
	p.entries[hostID] = &poolEntry{cfg: cfg, creds: creds, opts: opts}
	p.mu.Unlock()

	if old != nil && old.conn != nil {
		_ = old.conn.Close()
	}
}

// Lookup returns the host's Connection without dialing, creating a fresh
// undialed one when none exists yet or the previous one was closed for
// good. The caller drives Connect itself.
func (p *Pool) Lookup(hostID string) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[hostID]
	if !ok {
		return nil, &NetworkError{Err: errUnknownHost(hostID)}
	}
	if entry.conn == nil || entry.conn.State() == StateFatal {
		entry.conn = NewConnection(entry.cfg, entry.creds, entry.opts...)
	}
	return entry.conn, nil
}

// Get returns a usable connection for the host, dialing if needed.
func (p *Pool) Get(ctx context.Context, hostID string) (*Connection, error) {
	p.mu.RLock()
	entry, ok := p.entries[hostID]
	p.mu.RUnlock()
	if !ok {
		return nil, &NetworkError{Err: errUnknownHost(hostID)}
	}

	p.mu.Lock()
	if entry.conn != nil && entry.conn.State() != StateFatal {
		conn := entry.conn
		p.mu.Unlock()
		if conn.IsConnected() {
			return conn, nil
		}
		return conn, conn.Connect(ctx)
	}
	conn := NewConnection(entry.cfg, entry.creds, entry.opts...)
	entry.conn = conn
	p.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// GetIfConnected returns the host's connection only if it is already
// usable, nil otherwise. Never dials.
func (p *Pool) GetIfConnected(hostID string) *Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.entries[hostID]
	if ok && entry.conn != nil && entry.conn.IsConnected() {
		return entry.conn
	}
	return nil
}

// Close shuts down one host's connection, keeping its registration.
func (p *Pool) Close(hostID string) {
	p.mu.Lock()
	entry, ok := p.entries[hostID]
	var conn *Connection
	if ok {
		conn = entry.conn
		entry.conn = nil
	}
	p.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// CloseAll shuts down every live connection. Registrations survive so the
// hosts can be redialed later.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	var conns []*Connection
	for _, entry := range p.entries {
		if entry.conn != nil {
			conns = append(conns, entry.conn)
			entry.conn = nil
		}
	}
	p.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// ListHosts returns all registered host IDs.
func (p *Pool) ListHosts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	hosts := make([]string, 0, len(p.entries))
	for hostID := range p.entries {
		hosts = append(hosts, hostID)
	}
	return hosts
}
