// Package session manages the registry of terminal tabs. Each tab maps to
// one remote tmux session and, while attached, one pty sub-channel over the
// shared connection. Tabs survive detach: the remote tmux session keeps
// running and a later attach picks it up by its deterministic name.
package session

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/termbridge/termbridge/internal/input"
	"github.com/termbridge/termbridge/internal/stream"
)

// TermChannel is the pty sub-channel a session reads output from and
// writes keystrokes to. *ssh.Channel satisfies it; tests use pipes.
type TermChannel interface {
	io.Reader
	io.Writer
	Resize(cols, rows int) error
	Close() error
	Done() <-chan struct{}
}

// RenderSink receives coalesced, valid-UTF-8 output frames for one slot.
type RenderSink func(slot int, text string)

const readBufSize = 32 * 1024

// Session is one terminal tab. All output flows read pump → decoder →
// coalescer → sink; all input flows through the keystroke synchronizer so
// the remote line editor mirrors the app's text field.
type Session struct {
	ID     string // stable across attach/detach cycles
	Slot   int
	Target string // tmux session name on the remote

	Title     string
	CreatedAt time.Time

	mu       sync.Mutex
	channel  TermChannel
	decoder  *stream.Decoder
	coal     *stream.Coalescer
	syncer   *input.Synchronizer
	lastUsed time.Time
	pumpDone chan struct{}

	sink     RenderSink
	onDetach func(slot int, err error)
	logger   *slog.Logger
}

func newSession(slot int, target string, sink RenderSink, onDetach func(int, error), logger *slog.Logger) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Slot:      slot,
		Target:    target,
		Title:     target,
		CreatedAt: time.Now(),
		lastUsed:  time.Now(),
		sink:      sink,
		onDetach:  onDetach,
		logger:    logger.With("slot", slot, "target", target),
	}
}

// Attached reports whether a live channel is bound to this session.
func (s *Session) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel != nil
}

// LastUsed returns the last time input or an attach touched this session.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// attach binds a fresh channel and starts the read pump. The previous
// channel, if any, is closed first; decoder and input state start clean
// because the tmux session replays its own screen state on attach.
func (s *Session) attach(ch TermChannel, burst, sustained time.Duration) {
	s.mu.Lock()
	old := s.channel
	oldPump := s.pumpDone
	s.channel = ch
	s.decoder = stream.NewDecoder()
	s.coal = stream.NewCoalescer(burst, sustained, func(text string) {
		s.sink(s.Slot, text)
	})
	s.syncer = input.NewSynchronizer(ch)
	s.lastUsed = time.Now()
	pumpDone := make(chan struct{})
	s.pumpDone = pumpDone
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
		if oldPump != nil {
			<-oldPump
		}
	}

	go s.readPump(ch, pumpDone)
}

// readPump drains the channel until it dies, feeding every chunk through
// the decoder and coalescer. Runs as long as the attach it belongs to.
func (s *Session) readPump(ch TermChannel, done chan struct{}) {
	defer close(done)

	buf := make([]byte, readBufSize)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			text, derr := s.decodeChunk(buf[:n])
			if derr != nil {
				s.logger.Warn("malformed output bytes replaced", "err", derr)
			}
			if text != "" {
				s.addFrame(text)
			}
		}
		if err != nil {
			s.detached(ch, err)
			return
		}
	}
}

func (s *Session) decodeChunk(chunk []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decoder == nil {
		return "", nil
	}
	return s.decoder.Decode(chunk)
}

func (s *Session) addFrame(text string) {
	s.mu.Lock()
	coal := s.coal
	s.mu.Unlock()
	if coal != nil {
		coal.Add(text)
	}
}

// detached handles the channel dying underneath the pump. A stale channel
// (already replaced by a newer attach) is ignored.
func (s *Session) detached(ch TermChannel, cause error) {
	s.mu.Lock()
	if s.channel != ch {
		s.mu.Unlock()
		return
	}
	s.channel = nil
	coal := s.coal
	s.coal = nil
	s.syncer = nil
	s.mu.Unlock()

	if coal != nil {
		coal.Close()
	}
	if cause == io.EOF {
		s.logger.Info("channel closed")
	} else {
		s.logger.Warn("channel lost", "err", cause)
	}
	if s.onDetach != nil {
		s.onDetach(s.Slot, cause)
	}
}

// detach closes the channel deliberately and waits for the pump to drain.
// The remote tmux session keeps running. The channel is released under
// the lock first so the pump's death path sees it as stale and stays
// silent: only a channel dying on its own reports through onDetach.
func (s *Session) detach() {
	s.mu.Lock()
	ch := s.channel
	pump := s.pumpDone
	s.channel = nil
	coal := s.coal
	s.coal = nil
	s.syncer = nil
	s.mu.Unlock()
	if ch == nil {
		return
	}
	if coal != nil {
		coal.Close()
	}
	_ = ch.Close()
	if pump != nil {
		<-pump
	}
}

// SendText mirrors the app's input field to the remote line editor.
func (s *Session) SendText(field string) error {
	s.mu.Lock()
	syncer := s.syncer
	s.lastUsed = time.Now()
	s.mu.Unlock()
	if syncer == nil {
		return fmt.Errorf("session %d: not attached", s.Slot)
	}
	return syncer.SyncText(field)
}

// Submit sends the pending line to the remote shell.
func (s *Session) Submit() error {
	s.mu.Lock()
	syncer := s.syncer
	s.lastUsed = time.Now()
	s.mu.Unlock()
	if syncer == nil {
		return fmt.Errorf("session %d: not attached", s.Slot)
	}
	return syncer.Submit()
}

// Resize propagates the app's viewport size to the remote pty.
func (s *Session) Resize(cols, rows int) error {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("session %d: not attached", s.Slot)
	}
	return ch.Resize(cols, rows)
}

// Flush forces out any coalesced output immediately (foregrounding a tab).
func (s *Session) Flush() {
	s.mu.Lock()
	coal := s.coal
	s.mu.Unlock()
	if coal != nil {
		coal.Flush()
	}
}

// ResetInput drops the synchronizer's mirror of the input field, e.g.
// after the remote line editor was cleared out-of-band (Ctrl-C).
func (s *Session) ResetInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncer != nil {
		s.syncer.Reset()
	}
}
