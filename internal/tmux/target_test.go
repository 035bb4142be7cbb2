package tmux

import (
	"strings"
	"testing"
)

func TestTargetName_Deterministic(t *testing.T) {
	if got := TargetName("vide", 0); got != "vide_0" {
		t.Errorf("TargetName = %q, want %q", got, "vide_0")
	}
	if got := TargetName("", 2); got != "vide_2" {
		t.Errorf("TargetName with empty base = %q, want %q", got, "vide_2")
	}
	// Same slot always maps to the same target.
	if TargetName("work", 1) != TargetName("work", 1) {
		t.Error("TargetName must be a pure function of base and slot")
	}
}

func TestAttachCommand_IdempotentForm(t *testing.T) {
	cmd := AttachCommand("tmux", "vide_0", 40, 30)
	want := "tmux new-session -A -s vide_0 -x 40 -y 30"
	if cmd != want {
		t.Errorf("AttachCommand = %q, want %q", cmd, want)
	}
}

func TestAttachCommand_Defaults(t *testing.T) {
	cmd := AttachCommand("", "vide_1", 0, 0)
	if !strings.HasPrefix(cmd, "tmux ") {
		t.Errorf("empty tmuxPath should default to tmux: %q", cmd)
	}
	if !strings.Contains(cmd, "-x 40") || !strings.Contains(cmd, "-y 30") {
		t.Errorf("zero geometry should use defaults: %q", cmd)
	}
}

func TestAttachCommand_CustomPathAndGeometry(t *testing.T) {
	cmd := AttachCommand("/opt/homebrew/bin/tmux", "vide_2", 120, 40)
	want := "/opt/homebrew/bin/tmux new-session -A -s vide_2 -x 120 -y 40"
	if cmd != want {
		t.Errorf("AttachCommand = %q, want %q", cmd, want)
	}
}

func TestKillAndResizeAndCapture(t *testing.T) {
	if got := KillCommand("tmux", "vide_0"); got != "tmux kill-session -t vide_0" {
		t.Errorf("KillCommand = %q", got)
	}
	if got := ResizeCommand("tmux", "vide_0", 80, 24); got != "tmux resize-window -t vide_0 -x 80 -y 24" {
		t.Errorf("ResizeCommand = %q", got)
	}
	if got := CaptureCommand("tmux", "vide_0"); got != "tmux capture-pane -t vide_0 -p -e -S -" {
		t.Errorf("CaptureCommand = %q", got)
	}
}

func TestShellQuote_SpecialCharacters(t *testing.T) {
	cmd := AttachCommand("tmux", "my session", 40, 30)
	if !strings.Contains(cmd, "'my session'") {
		t.Errorf("target with space must be quoted: %q", cmd)
	}
}

func TestListCommand_SurvivesMissingServer(t *testing.T) {
	cmd := ListCommand("tmux")
	if !strings.Contains(cmd, "list-sessions -F '#{session_name}'") {
		t.Errorf("ListCommand missing format flag: %q", cmd)
	}
	if !strings.Contains(cmd, "|| echo ''") {
		t.Errorf("ListCommand must not fail when no server runs: %q", cmd)
	}
}

func TestParseSessionList(t *testing.T) {
	out := "vide_2\nother_app\nvide_1\n\nvide_99x\nvide_abc\nVIDE_3\nvide_10\n"
	got := ParseSessionList("vide", out)
	want := []int{2, 1, 10}
	if len(got) != len(want) {
		t.Fatalf("ParseSessionList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ParseSessionList = %v, want %v", got, want)
		}
	}
}

func TestParseSessionList_EmptyOutput(t *testing.T) {
	if got := ParseSessionList("vide", "\n"); len(got) != 0 {
		t.Errorf("expected no slots, got %v", got)
	}
}
