// Package tmux builds the remote command strings the transport runs on the
// host: attach-or-create for session channels, capability probes, and
// housekeeping like kill and resize. It never executes anything itself.
package tmux

import (
	"fmt"
	"strings"
)

// Default terminal geometry for remote sessions. Narrow columns avoid
// double-rendering artifacts in interactive TUIs on small displays.
const (
	DefaultCols = 40
	DefaultRows = 30
)

// DefaultSessionBase is the prefix of remote session names.
const DefaultSessionBase = "vide"

// TargetName derives the remote tmux session name for a local slot. It is a
// pure function of the slot so reattaching after a reconnect always lands on
// the same remote shell.
func TargetName(base string, slot int) string {
	if base == "" {
		base = DefaultSessionBase
	}
	return fmt.Sprintf("%s_%d", base, slot)
}

// AttachCommand returns the command run on the shell channel to attach the
// named session, creating it at the given geometry if it does not exist.
// `new-session -A` makes the operation idempotent: attaching twice to the
// same target never creates a second shell.
func AttachCommand(tmuxPath, target string, cols, rows int) string {
	if tmuxPath == "" {
		tmuxPath = "tmux"
	}
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}
	return fmt.Sprintf("%s new-session -A -s %s -x %d -y %d", tmuxPath, shellQuote(target), cols, rows)
}

// KillCommand returns the command that destroys the remote session outright.
// Used by session reset; a plain detach leaves the target alive.
func KillCommand(tmuxPath, target string) string {
	if tmuxPath == "" {
		tmuxPath = "tmux"
	}
	return fmt.Sprintf("%s kill-session -t %s", tmuxPath, shellQuote(target))
}

// ResizeCommand returns the command that resizes the session's window to
// match a changed client geometry.
func ResizeCommand(tmuxPath, target string, cols, rows int) string {
	if tmuxPath == "" {
		tmuxPath = "tmux"
	}
	return fmt.Sprintf("%s resize-window -t %s -x %d -y %d", tmuxPath, shellQuote(target), cols, rows)
}

// CaptureCommand returns the command that prints the session's full
// scrollback including escape sequences, used to preload history before
// live streaming starts.
func CaptureCommand(tmuxPath, target string) string {
	if tmuxPath == "" {
		tmuxPath = "tmux"
	}
	return fmt.Sprintf("%s capture-pane -t %s -p -e -S -", tmuxPath, shellQuote(target))
}

// ListCommand returns the command that prints one session name per line.
// The trailing echo keeps a missing server from turning into a non-zero
// exit; no sessions just means empty output.
func ListCommand(tmuxPath string) string {
	if tmuxPath == "" {
		tmuxPath = "tmux"
	}
	return fmt.Sprintf("%s list-sessions -F '#{session_name}' 2>/dev/null || echo ''", tmuxPath)
}

// ParseSessionList extracts the slot numbers of sessions named by
// TargetName with the given base. Foreign session names are ignored.
func ParseSessionList(base, output string) []int {
	if base == "" {
		base = DefaultSessionBase
	}
	prefix := base + "_"
	var slots []int
	for _, line := range strings.Split(output, "\n") {
		name := strings.TrimSpace(line)
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		var slot int
		if _, err := fmt.Sscanf(name[len(prefix):], "%d", &slot); err != nil || slot < 1 {
			continue
		}
		if fmt.Sprintf("%s%d", prefix, slot) != name {
			continue // trailing junk after the number
		}
		slots = append(slots, slot)
	}
	return slots
}

// shellQuote single-quotes s for safe interpolation into a remote shell
// command line.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " '\"\\$`&|;<>(){}*?#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
