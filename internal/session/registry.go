package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/stream"
	"github.com/termbridge/termbridge/internal/tmux"
)

// DefaultCapacity is how many concurrent tabs a registry allows. Phone
// screens show few tabs and every open tab costs a remote pty, so the cap
// is deliberately small.
const DefaultCapacity = 3

// EvictionPolicy decides what happens when a tab is opened at capacity.
type EvictionPolicy string

const (
	// EvictReject refuses the open with a CapacityError.
	EvictReject EvictionPolicy = "reject"
	// EvictLRU detaches the least recently used tab to make room. Its
	// remote tmux session keeps running.
	EvictLRU EvictionPolicy = "evict-lru"
)

// CapacityError reports an open refused because the registry is full.
type CapacityError struct {
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("session registry full (%d tabs); close one first", e.Capacity)
}

// Opener opens a pty sub-channel running initCommand. The registry never
// talks to the transport directly; the manager binds this to the live
// connection.
type Opener func(ctx context.Context, initCommand string, cols, rows int) (TermChannel, error)

// Runner executes a one-shot command on the remote (kill, capture-pane).
type Runner func(ctx context.Context, command string) (string, error)

// RegistryConfig tunes the registry. Zero values take defaults.
type RegistryConfig struct {
	Capacity int
	Eviction EvictionPolicy
	Base     string // tmux session name base, default "vide"
	TmuxPath string
	Cols     int
	Rows     int

	// Coalescing intervals forwarded to each session's output pipeline.
	BurstInterval     time.Duration
	SustainedInterval time.Duration
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Eviction == "" {
		c.Eviction = EvictReject
	}
	if c.Base == "" {
		c.Base = tmux.DefaultSessionBase
	}
	if c.TmuxPath == "" {
		c.TmuxPath = "tmux"
	}
	if c.Cols == 0 {
		c.Cols = tmux.DefaultCols
	}
	if c.Rows == 0 {
		c.Rows = tmux.DefaultRows
	}
	if c.BurstInterval == 0 {
		c.BurstInterval = stream.DefaultBurstInterval
	}
	if c.SustainedInterval == 0 {
		c.SustainedInterval = stream.DefaultSustainedInterval
	}
	return c
}

// Registry owns the open tabs, keyed by slot number. Slot names are
// deterministic, so attaching a slot that already has a tmux session on
// the remote resumes it instead of creating a duplicate.
type Registry struct {
	cfg    RegistryConfig
	open   Opener
	run    Runner
	sink   RenderSink
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[int]*Session

	// onDetach is invoked outside the registry lock when a session's
	// channel dies on its own (not via Detach/Close).
	onDetach func(slot int, err error)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the structured logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithDetachHandler registers a callback for channels that die on their
// own, so the UI can mark the tab disconnected.
func WithDetachHandler(fn func(slot int, err error)) RegistryOption {
	return func(r *Registry) { r.onDetach = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, open Opener, run Runner, sink RenderSink, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:      cfg.withDefaults(),
		open:     open,
		run:      run,
		sink:     sink,
		logger:   slog.Default(),
		sessions: make(map[int]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open attaches the lowest free slot and returns its session. At capacity
// the eviction policy applies first, so slot numbers stay low and reuse
// the reclaimed name rather than growing unboundedly.
func (r *Registry) Open(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	if len(r.sessions) >= r.cfg.Capacity {
		if r.cfg.Eviction != EvictLRU {
			capacity := r.cfg.Capacity
			r.mu.Unlock()
			return nil, &CapacityError{Capacity: capacity}
		}
		victim := r.lruLocked()
		delete(r.sessions, victim.Slot)
		r.mu.Unlock()
		r.logger.Info("evicting least recently used tab", "slot", victim.Slot)
		victim.detach()
		r.mu.Lock()
	}
	slot := 0
	for i := 1; ; i++ {
		if _, taken := r.sessions[i]; !taken {
			slot = i
			break
		}
	}
	r.mu.Unlock()
	return r.Attach(ctx, slot)
}

// Attach opens (or resumes) the tab in the given slot. Attaching a slot
// that is already live is a no-op returning the existing session: the
// remote tmux attach command itself is idempotent, so retried attaches
// never stack duplicate sessions.
func (r *Registry) Attach(ctx context.Context, slot int) (*Session, error) {
	if slot < 1 {
		return nil, fmt.Errorf("slot must be positive, got %d", slot)
	}

	r.mu.Lock()
	if sess, ok := r.sessions[slot]; ok && sess.Attached() {
		r.mu.Unlock()
		return sess, nil
	}
	if _, ok := r.sessions[slot]; !ok && len(r.sessions) >= r.cfg.Capacity {
		if r.cfg.Eviction != EvictLRU {
			capacity := r.cfg.Capacity
			r.mu.Unlock()
			return nil, &CapacityError{Capacity: capacity}
		}
		victim := r.lruLocked()
		delete(r.sessions, victim.Slot)
		r.mu.Unlock()
		r.logger.Info("evicting least recently used tab", "slot", victim.Slot)
		victim.detach()
		r.mu.Lock()
	}

	sess, ok := r.sessions[slot]
	if !ok {
		target := tmux.TargetName(r.cfg.Base, slot)
		sess = newSession(slot, target, r.sink, r.handleDetach, r.logger)
		r.sessions[slot] = sess
	}
	cfg := r.cfg
	r.mu.Unlock()

	cmd := tmux.AttachCommand(cfg.TmuxPath, sess.Target, cfg.Cols, cfg.Rows)
	ch, err := r.open(ctx, cmd, cfg.Cols, cfg.Rows)
	if err != nil {
		r.mu.Lock()
		// Drop the placeholder only if nothing attached it meanwhile.
		if cur, ok := r.sessions[slot]; ok && cur == sess && !sess.Attached() {
			delete(r.sessions, slot)
		}
		r.mu.Unlock()
		return nil, fmt.Errorf("attach slot %d: %w", slot, err)
	}

	sess.attach(ch, cfg.BurstInterval, cfg.SustainedInterval)
	r.logger.Info("tab attached", "slot", slot, "target", sess.Target)
	return sess, nil
}

// handleDetach forwards self-detaches to the registered handler.
func (r *Registry) handleDetach(slot int, err error) {
	if r.onDetach != nil {
		r.onDetach(slot, err)
	}
}

// lruLocked returns the least recently used session. Caller holds r.mu
// and has verified the map is non-empty.
func (r *Registry) lruLocked() *Session {
	var victim *Session
	for _, sess := range r.sessions {
		if victim == nil || sess.LastUsed().Before(victim.LastUsed()) {
			victim = sess
		}
	}
	return victim
}

// Get returns the session in a slot, or nil.
func (r *Registry) Get(slot int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[slot]
}

// List returns open sessions ordered by slot.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Detach closes a tab's channel but leaves the remote tmux session
// running and the slot registered, so a later Attach resumes it.
func (r *Registry) Detach(slot int) {
	r.mu.Lock()
	sess := r.sessions[slot]
	r.mu.Unlock()
	if sess != nil {
		sess.detach()
	}
}

// Close detaches a tab and kills its remote tmux session. The slot is
// freed for reuse.
func (r *Registry) Close(ctx context.Context, slot int) error {
	r.mu.Lock()
	sess := r.sessions[slot]
	delete(r.sessions, slot)
	cfg := r.cfg
	r.mu.Unlock()
	if sess == nil {
		return nil
	}

	sess.detach()
	if _, err := r.run(ctx, tmux.KillCommand(cfg.TmuxPath, sess.Target)); err != nil {
		// The remote session may simply be gone already.
		r.logger.Warn("kill remote session failed", "slot", slot, "err", err)
		return err
	}
	r.logger.Info("tab closed", "slot", slot, "target", sess.Target)
	return nil
}

// Reset kills the slot's remote tmux session and attaches a fresh one:
// the recovery hammer for a wedged terminal.
func (r *Registry) Reset(ctx context.Context, slot int) (*Session, error) {
	if err := r.Close(ctx, slot); err != nil {
		return nil, err
	}
	return r.Attach(ctx, slot)
}

// Scrollback fetches the slot's full remote history (capture-pane) for
// preloading a freshly attached view.
func (r *Registry) Scrollback(ctx context.Context, slot int) (string, error) {
	r.mu.Lock()
	sess := r.sessions[slot]
	cfg := r.cfg
	r.mu.Unlock()
	if sess == nil {
		return "", fmt.Errorf("slot %d not open", slot)
	}
	return r.run(ctx, tmux.CaptureCommand(cfg.TmuxPath, sess.Target))
}

// ReattachAll reopens channels for every registered slot after the
// transport was restored. Targets are deterministic, so each tab resumes
// its own tmux session. Returns the first error but keeps going.
func (r *Registry) ReattachAll(ctx context.Context) error {
	r.mu.Lock()
	slots := make([]int, 0, len(r.sessions))
	for slot := range r.sessions {
		slots = append(slots, slot)
	}
	r.mu.Unlock()
	sort.Ints(slots)

	var firstErr error
	for _, slot := range slots {
		if _, err := r.Attach(ctx, slot); err != nil {
			r.logger.Warn("reattach failed", "slot", slot, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// DetachAll closes every channel without touching remote state, e.g. when
// the app backgrounds.
func (r *Registry) DetachAll() {
	for _, sess := range r.List() {
		sess.detach()
	}
}
