package ssh

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultProbeInterval is the wait between probe attempts.
	DefaultProbeInterval = 2 * time.Second
	// DefaultProbeTimeout bounds a single probe execution.
	DefaultProbeTimeout = 10 * time.Second
)

// Prober runs a capability probe over the existing transport until it
// succeeds. The command and its output classification come from the
// caller; this package only owns the retry cadence and per-attempt
// timeout. Failures here are normal (the user may be installing the tool
// on the server right now), so the loop reports each miss and keeps going
// until cancelled.
type Prober struct {
	Command  string
	Classify func(output string) bool

	Interval time.Duration // default DefaultProbeInterval
	Timeout  time.Duration // default DefaultProbeTimeout

	// OnAttempt, if set, observes each attempt's outcome. err is nil
	// when the command ran but classified negative.
	OnAttempt func(attempt int, found bool, err error)

	Logger *slog.Logger
}

// executor is the slice of Connection the prober needs.
type executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// Run executes the probe until it classifies positive or ctx is cancelled.
// Execution errors (channel failures, timeouts) are treated the same as a
// negative result: log and retry. The only error Run returns is ctx's.
func (p *Prober) Run(ctx context.Context, exec executor) error {
	interval := p.Interval
	if interval == 0 {
		interval = DefaultProbeInterval
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := exec.Execute(attemptCtx, p.Command)
		cancel()

		found := err == nil && p.Classify(out)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, found, err)
		}
		if found {
			return nil
		}
		if err != nil {
			logger.Debug("probe attempt failed", "attempt", attempt, "err", err)
		} else {
			logger.Debug("probe negative", "attempt", attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Once runs a single probe attempt and reports its classification. An
// execution error is returned as-is with found=false.
func (p *Prober) Once(ctx context.Context, exec executor) (bool, error) {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = DefaultProbeTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := exec.Execute(attemptCtx, p.Command)
	if err != nil {
		return false, err
	}
	return p.Classify(out), nil
}
