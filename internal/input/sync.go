// Package input reconciles a batch-edited local text field against the
// keystroke-oriented input widget of an interactive remote program.
//
// Programs with their own line editor expect literal keystroke delivery and
// echo each character as it arrives; writing a whole line at once breaks
// that assumption and produces no visible response. The synchronizer tracks
// what has already been sent and emits only the delta: the appended suffix,
// or one backspace per removed character.
package input

import (
	"fmt"
	"io"
)

// Control bytes sent to the remote pty.
const (
	backspaceByte = 0x7f // DEL, what terminals send for the backspace key
	returnByte    = '\r'
)

// Synchronizer owns the pending-input state for one session. It is not safe
// for concurrent use: callers must not overlap SyncText calls for the same
// session, or deltas could be sent out of order.
type Synchronizer struct {
	w io.Writer // session input channel

	// pending is the text known to have been delivered to the remote input
	// field. Reset on submit and on session reset.
	pending string
}

// NewSynchronizer creates a synchronizer writing keystrokes to w.
func NewSynchronizer(w io.Writer) *Synchronizer {
	return &Synchronizer{w: w}
}

// Pending returns the last text known to be in the remote input field.
func (s *Synchronizer) Pending() string { return s.pending }

// Reset clears the pending state without sending anything. Call it whenever
// the remote program is restarted or its input field is cleared by a path
// that does not go through SyncText.
func (s *Synchronizer) Reset() { s.pending = "" }

// SyncText brings the remote input field up to date with field, sending the
// minimal edit. Unchanged prefixes are never resent. The pending state is
// only advanced once the write succeeds, so a failed sync can be retried
// with the same field text.
func (s *Synchronizer) SyncText(field string) error {
	if field == s.pending {
		return nil
	}

	common := commonPrefixLen(s.pending, field)

	var delta []byte
	// Erase everything past the common prefix, one backspace per rune.
	for range s.pending[common:] {
		delta = append(delta, backspaceByte)
	}
	// Then type the new suffix.
	delta = append(delta, field[common:]...)

	if _, err := s.w.Write(delta); err != nil {
		return fmt.Errorf("sync input: %w", err)
	}
	s.pending = field
	return nil
}

// Submit sends a carriage return and clears the pending state; the remote
// program consumes and empties its own input field on submit.
func (s *Synchronizer) Submit() error {
	if _, err := s.w.Write([]byte{returnByte}); err != nil {
		return fmt.Errorf("submit input: %w", err)
	}
	s.pending = ""
	return nil
}

// commonPrefixLen returns the length in bytes of the longest common prefix
// of a and b that ends on a rune boundary. Cutting mid-rune would split a
// multi-byte character between a backspace run and retyped text.
func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	if n == len(a) || n == len(b) {
		return n
	}
	// Back up to the start of the rune the mismatch landed in.
	for n > 0 && !isRuneStart(a[n]) {
		n--
	}
	return n
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
