// Command termbridge is a thin CLI over the transport core: probe a host
// for tmux, list the app's sessions on it, or attach a local tmux session
// directly. The mobile app links the library; this binary exists for
// server setup and debugging from a workstation.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/termbridge/termbridge"
	"github.com/termbridge/termbridge/internal/config"
	"github.com/termbridge/termbridge/internal/localterm"
	"github.com/termbridge/termbridge/internal/ssh"
	"github.com/termbridge/termbridge/internal/tmux"
)

const (
	exitSuccess      = 0
	exitGeneralError = 1
	exitNoTmux       = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitGeneralError)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var code int
	switch os.Args[1] {
	case "probe":
		code = runProbe(ctx, os.Args[2:])
	case "list":
		code = runList(ctx, os.Args[2:])
	case "attach":
		code = runAttach(ctx, os.Args[2:])
	case "hosts":
		code = runHosts(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		code = exitGeneralError
	}
	os.Exit(code)
}

func usage() {
	fmt.Println("Usage: termbridge <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  probe    Check whether tmux is installed on a configured host")
	fmt.Println("  list     List this app's tmux sessions on a configured host")
	fmt.Println("  attach   Attach a tmux session on the local machine (Ctrl+Q detaches)")
	fmt.Println("  hosts    Show configured host profiles")
	fmt.Println()
	fmt.Println("Configuration lives in ~/.termbridge/config.toml (or $TERMBRIDGE_HOME).")
	fmt.Println("Password auth reads $TERMBRIDGE_PASSWORD; key auth uses the host's")
	fmt.Println("identity_file entry.")
}

func logLevel() slog.Level {
	if os.Getenv("TERMBRIDGE_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelWarn
}

// loadConfig reads the config file, tolerating a missing one.
func loadConfig() (*config.Config, error) {
	path, err := config.Path()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// resolveHost picks the host profile: flag value, else active_host.
func resolveHost(cfg *config.Config, flagValue string) (string, error) {
	hostID := flagValue
	if hostID == "" {
		hostID = cfg.ActiveHost
	}
	if hostID == "" {
		return "", fmt.Errorf("no host given and no active_host configured")
	}
	if _, ok := cfg.Hosts[hostID]; !ok {
		return "", fmt.Errorf("no hosts entry named %q", hostID)
	}
	return hostID, nil
}

// fileCredentials resolves auth material for a host profile: the
// identity file when configured, otherwise $TERMBRIDGE_PASSWORD.
type fileCredentials struct {
	host config.HostDef
}

func (c fileCredentials) GetCredential() (ssh.Credential, error) {
	cred := ssh.Credential{User: c.host.User}
	if c.host.IdentityFile != "" {
		key, err := os.ReadFile(config.ExpandPath(c.host.IdentityFile))
		if err != nil {
			return ssh.Credential{}, fmt.Errorf("read identity file: %w", err)
		}
		cred.PrivateKey = key
		return cred, nil
	}
	if pw := os.Getenv("TERMBRIDGE_PASSWORD"); pw != "" {
		cred.Password = pw
		return cred, nil
	}
	return ssh.Credential{}, fmt.Errorf("host has no identity_file and $TERMBRIDGE_PASSWORD is unset")
}

// connectManager builds and connects a manager for the chosen host.
func connectManager(ctx context.Context, cfg *config.Config, hostID string) (*termbridge.Manager, error) {
	mgr, err := termbridge.NewManager(cfg, hostID, fileCredentials{host: cfg.Hosts[hostID]},
		termbridge.WithManagerLogger(slog.Default()))
	if err != nil {
		return nil, err
	}
	if err := mgr.Connect(ctx); err != nil {
		return nil, err
	}
	return mgr, nil
}

func runProbe(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	hostFlag := fs.String("host", "", "host profile name (default: active_host)")
	wait := fs.Bool("wait", false, "keep probing until tmux appears")
	_ = fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	hostID, err := resolveHost(cfg, *hostFlag)
	if err != nil {
		return fail(err)
	}

	mgr, err := connectManager(ctx, cfg, hostID)
	if err != nil {
		return fail(err)
	}
	defer mgr.Disconnect()

	if *wait {
		if err := mgr.WaitForTmux(ctx); err != nil {
			return fail(err)
		}
		fmt.Printf("%s: tmux found\n", hostID)
		return exitSuccess
	}

	found, err := mgr.ProbeTmux(ctx)
	if err != nil {
		return fail(err)
	}
	if !found {
		fmt.Printf("%s: tmux not found (install it, or set tmux_path)\n", hostID)
		return exitNoTmux
	}
	fmt.Printf("%s: tmux found\n", hostID)
	return exitSuccess
}

func runList(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	hostFlag := fs.String("host", "", "host profile name (default: active_host)")
	_ = fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	hostID, err := resolveHost(cfg, *hostFlag)
	if err != nil {
		return fail(err)
	}

	mgr, err := connectManager(ctx, cfg, hostID)
	if err != nil {
		return fail(err)
	}
	defer mgr.Disconnect()

	if err := mgr.RestoreState(ctx); err != nil {
		return fail(err)
	}
	sessions := mgr.Sessions()
	if len(sessions) == 0 {
		fmt.Printf("%s: no sessions\n", hostID)
		return exitSuccess
	}
	for _, sess := range sessions {
		fmt.Printf("  %d  %s\n", sess.Slot, sess.Target)
	}
	return exitSuccess
}

func runAttach(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	local := fs.Bool("local", false, "attach on this machine instead of over the network")
	slot := fs.Int("slot", 1, "session slot number")
	base := fs.String("base", tmux.DefaultSessionBase, "session name base")
	tmuxPath := fs.String("tmux", "", "tmux binary path")
	_ = fs.Parse(args)

	if !*local {
		fmt.Fprintln(os.Stderr, "only --local attach is supported from the CLI; the app attaches remotely")
		return exitGeneralError
	}

	target := tmux.TargetName(*base, *slot)
	if err := localterm.Attach(ctx, *tmuxPath, target); err != nil {
		return fail(err)
	}
	return exitSuccess
}

func runHosts(args []string) int {
	fs := flag.NewFlagSet("hosts", flag.ExitOnError)
	_ = fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return fail(err)
	}
	if len(cfg.Hosts) == 0 {
		fmt.Println("no hosts configured")
		return exitSuccess
	}
	for name, host := range cfg.Hosts {
		marker := " "
		if name == cfg.ActiveHost {
			marker = "*"
		}
		desc := host.Description
		if desc != "" {
			desc = "  # " + desc
		}
		fmt.Printf("%s %s  %s@%s%s\n", marker, name, host.User, host.Host, desc)
	}
	return exitSuccess
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	return exitGeneralError
}
