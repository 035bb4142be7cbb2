package ssh

import (
	"io"
	"sync"
)

// Channel is one interactive pty-backed sub-channel multiplexed over the
// shared connection. Reads stream the remote session's output; writes carry
// keystrokes. Writes are serialized so concurrent callers can never
// interleave partial byte sequences on the wire.
type Channel struct {
	stdout io.Reader

	writeMu sync.Mutex
	stdin   io.WriteCloser

	resizeFn func(cols, rows int) error
	closeFn  func() error

	closeOnce sync.Once
	done      chan struct{}
}

// Read reads remote output. Safe for a single reader; the session's read
// pump is the only consumer.
func (c *Channel) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

// Write sends input bytes to the remote pty. One write is in flight at a
// time.
func (c *Channel) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.stdin.Write(p)
}

// Resize propagates a window-size change to the remote pty.
func (c *Channel) Resize(cols, rows int) error {
	if c.resizeFn == nil {
		return nil
	}
	return c.resizeFn(cols, rows)
}

// Close tears down the sub-channel without touching the shared connection.
// Safe to call multiple times.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.stdin.Close()
		c.writeMu.Unlock()
		if c.closeFn != nil {
			err = c.closeFn()
		}
	})
	return err
}

// Done is closed when the channel has been closed locally.
func (c *Channel) Done() <-chan struct{} { return c.done }
