package tmux

import "strings"

// Sentinel tokens printed by the probe command. Matched case-insensitively
// with surrounding whitespace trimmed, so shells that echo extra noise or
// alter casing still classify correctly.
const (
	probeFound    = "FOUND"
	probeNotFound = "NOT_FOUND"
)

// ProbeCommand returns a single compound command that detects whether tmux
// is installed on the remote host. Three independent detection methods are
// chained as fallbacks so the probe works across shells and minimal PATH
// setups, and the whole thing costs one channel and one round trip: remote
// hosts commonly cap concurrent channels, so capability checks must never
// open one per method.
func ProbeCommand(tmuxPath string) string {
	if tmuxPath == "" {
		tmuxPath = "tmux"
	}
	return "command -v " + tmuxPath + " >/dev/null 2>&1 || " +
		"which " + tmuxPath + " >/dev/null 2>&1 || " +
		"test -x /usr/bin/tmux -o -x /usr/local/bin/tmux -o -x /opt/homebrew/bin/tmux; " +
		"if [ $? -eq 0 ]; then echo " + probeFound + "; else echo " + probeNotFound + "; fi"
}

// ClassifyProbeOutput interprets the probe's stdout. Anything that does not
// positively contain the FOUND sentinel (including empty or garbage output)
// classifies as not found; the probe loop just tries again.
func ClassifyProbeOutput(output string) bool {
	out := strings.ToUpper(strings.TrimSpace(output))
	if strings.Contains(out, probeNotFound) {
		return false
	}
	return strings.Contains(out, probeFound)
}
