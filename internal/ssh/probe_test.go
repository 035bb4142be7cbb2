package ssh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor answers Execute from a queue of canned results.
type scriptedExecutor struct {
	mu      sync.Mutex
	results []struct {
		out string
		err error
	}
	calls int
}

func (s *scriptedExecutor) push(out string, err error) {
	s.results = append(s.results, struct {
		out string
		err error
	}{out, err})
}

func (s *scriptedExecutor) Execute(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) == 0 {
		return "", errors.New("script exhausted")
	}
	next := s.results[0]
	s.results = s.results[1:]
	return next.out, next.err
}

func classifyFound(out string) bool {
	return strings.Contains(strings.ToUpper(strings.TrimSpace(out)), "FOUND") &&
		!strings.Contains(strings.ToUpper(out), "NOT_FOUND")
}

func TestProberRunSucceedsFirstAttempt(t *testing.T) {
	exec := &scriptedExecutor{}
	exec.push("FOUND\n", nil)

	p := &Prober{Command: "probe", Classify: classifyFound, Interval: time.Millisecond}
	require.NoError(t, p.Run(context.Background(), exec))
	assert.Equal(t, 1, exec.calls)
}

func TestProberRunRetriesUntilFound(t *testing.T) {
	exec := &scriptedExecutor{}
	exec.push("NOT_FOUND\n", nil)
	exec.push("", errors.New("channel open failed"))
	exec.push("found", nil)

	var attempts []bool
	p := &Prober{
		Command:  "probe",
		Classify: classifyFound,
		Interval: time.Millisecond,
		OnAttempt: func(attempt int, found bool, err error) {
			attempts = append(attempts, found)
		},
	}
	require.NoError(t, p.Run(context.Background(), exec))
	assert.Equal(t, []bool{false, false, true}, attempts)
	assert.Equal(t, 3, exec.calls)
}

func TestProberRunStopsOnCancel(t *testing.T) {
	exec := &scriptedExecutor{}
	for i := 0; i < 100; i++ {
		exec.push("NOT_FOUND", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Prober{Command: "probe", Classify: classifyFound, Interval: 5 * time.Millisecond}

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, exec) }()
	time.Sleep(12 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestProberOnce(t *testing.T) {
	exec := &scriptedExecutor{}
	exec.push("NOT_FOUND", nil)
	exec.push("FOUND", nil)
	exec.push("", errors.New("boom"))

	p := &Prober{Command: "probe", Classify: classifyFound}

	found, err := p.Once(context.Background(), exec)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = p.Once(context.Background(), exec)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = p.Once(context.Background(), exec)
	require.Error(t, err)
	assert.False(t, found)
}
