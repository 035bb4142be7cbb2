//go:build !windows

// Package localterm attaches the controlling terminal to a local tmux
// session, for running against localhost without any transport in the
// way. Ctrl+Q detaches and returns to the caller.
package localterm

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"
)

const detachKey = 0x11 // Ctrl+Q

// controlSeqGrace discards the terminal's own control-sequence replies
// that arrive immediately after entering raw mode.
const controlSeqGrace = 50 * time.Millisecond

// Attach creates-or-attaches the named tmux session locally and wires it
// to this process's terminal until the session exits or the user detaches.
func Attach(ctx context.Context, tmuxPath, target string) error {
	if tmuxPath == "" {
		tmuxPath = "tmux"
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, tmuxPath, "new-session", "-A", "-s", target)
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start pty: %w", err)
	}
	defer ptmx.Close()

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	winchDone := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-winchDone:
				return
			case _, ok := <-sigwinch:
				if !ok {
					return
				}
				if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
					_ = pty.Setsize(ptmx, ws)
				}
			}
		}
	}()
	sigwinch <- syscall.SIGWINCH // initial size

	detached := make(chan struct{})
	ioErrors := make(chan error, 2)
	start := time.Now()

	wg.Add(1)
	go func() {
		defer wg.Done()
		// A read error here is the pty closing on child exit, not a failure.
		_, _ = io.Copy(os.Stdout, ptmx)
	}()

	// Not in the WaitGroup: a blocking read on the raw terminal cannot be
	// interrupted, so this goroutine exits on the next keypress after the
	// pty closes. It holds no resources of its own.
	go func() {
		buf := make([]byte, 32)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				if err != io.EOF {
					select {
					case ioErrors <- fmt.Errorf("stdin read: %w", err):
					default:
					}
				}
				return
			}
			if time.Since(start) < controlSeqGrace {
				continue
			}
			if n == 1 && buf[0] == detachKey {
				close(detached)
				cancel()
				return
			}
			if _, err := ptmx.Write(buf[:n]); err != nil {
				select {
				case ioErrors <- fmt.Errorf("pty write: %w", err):
				default:
				}
				return
			}
		}
	}()

	waitErr := cmd.Wait()

	// Unblock the output copier and join the goroutines we can join
	// before the deferred cleanup tears the terminal state down.
	_ = ptmx.Close()
	signal.Stop(sigwinch)
	close(winchDone)
	wg.Wait()

	select {
	case <-detached:
		// User detach is a clean exit even though the process was killed.
		return nil
	default:
	}
	select {
	case err := <-ioErrors:
		return err
	default:
	}
	if waitErr != nil && ctx.Err() == nil {
		return fmt.Errorf("tmux exited: %w", waitErr)
	}
	return nil
}
