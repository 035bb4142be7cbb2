package stream

import (
	"sync"
	"time"
)

// Flush intervals for the adaptive coalescing policy. While chunks arrive
// back-to-back the coalescer flushes on a short timer so the first output of
// a burst renders quickly; once the burst sustains it stretches the timer to
// halve redraw frequency. Any buffered text is always delivered within one
// interval of the last chunk.
const (
	DefaultBurstInterval     = 8 * time.Millisecond
	DefaultSustainedInterval = 16 * time.Millisecond

	// sustainThreshold is how long a burst must run before the coalescer
	// switches to the longer interval.
	sustainThreshold = 48 * time.Millisecond
)

// coalescePhase is the state of the adaptive timer.
type coalescePhase int

const (
	phaseIdle coalescePhase = iota
	phaseBursting
	phaseSustained
)

// Coalescer batches decoded text for one session into render frames. Frames
// are delivered to the sink callback in the order text was appended; the
// sink is never called concurrently with itself.
//
// One Coalescer per session; coalescing state is never shared across
// sessions.
type Coalescer struct {
	burstInterval     time.Duration
	sustainedInterval time.Duration
	sink              func(text string)

	// deliverMu serializes sink calls and makes take-then-deliver atomic,
	// preserving frame order between the timer and explicit flushes.
	deliverMu sync.Mutex

	mu         sync.Mutex
	buf        []byte
	phase      coalescePhase
	burstStart time.Time
	timer      *time.Timer
	closed     bool

	// now is stubbed in tests.
	now func() time.Time
}

// NewCoalescer creates a coalescer delivering frames to sink. A zero
// interval selects the default.
func NewCoalescer(burst, sustained time.Duration, sink func(text string)) *Coalescer {
	if burst <= 0 {
		burst = DefaultBurstInterval
	}
	if sustained <= 0 {
		sustained = DefaultSustainedInterval
	}
	return &Coalescer{
		burstInterval:     burst,
		sustainedInterval: sustained,
		sink:              sink,
		now:               time.Now,
	}
}

// Add buffers text and (re)arms the flush timer. The timer is armed only
// when transitioning out of idle; while a burst is running the pending timer
// is left alone so delivery is never starved by a continuous stream.
func (c *Coalescer) Add(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.buf = append(c.buf, text...)

	now := c.now()
	switch c.phase {
	case phaseIdle:
		c.phase = phaseBursting
		c.burstStart = now
		c.armLocked(c.burstInterval)
	case phaseBursting:
		if now.Sub(c.burstStart) >= sustainThreshold {
			c.phase = phaseSustained
		}
	case phaseSustained:
		// timer already pending at the sustained interval
	}
}

// Flush delivers any buffered text immediately (explicit end-of-burst).
func (c *Coalescer) Flush() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	frame := c.takeLocked()
	c.mu.Unlock()
	if frame != "" {
		c.sink(frame)
	}
}

// Close stops the timer and delivers any remaining buffered text. The
// coalescer accepts no further input afterwards.
func (c *Coalescer) Close() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	frame := c.takeLocked()
	c.mu.Unlock()
	if frame != "" {
		c.sink(frame)
	}
}

// armLocked schedules a flush after d. Caller holds c.mu.
func (c *Coalescer) armLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, c.onTimer)
}

// onTimer fires on the flush interval. If more text arrived during the
// burst the timer is re-armed at the interval for the current phase;
// otherwise the burst is over and the coalescer returns to idle.
func (c *Coalescer) onTimer() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	frame := c.takeLocked()
	if frame == "" {
		// A full interval with no data: end of burst.
		c.phase = phaseIdle
		c.timer = nil
		c.mu.Unlock()
		return
	}
	interval := c.burstInterval
	if c.phase == phaseSustained {
		interval = c.sustainedInterval
	}
	c.armLocked(interval)
	c.mu.Unlock()

	c.sink(frame)
}

// takeLocked returns and clears the buffered text. Caller holds c.mu.
func (c *Coalescer) takeLocked() string {
	if len(c.buf) == 0 {
		return ""
	}
	frame := string(c.buf)
	c.buf = c.buf[:0]
	return frame
}
