package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/termbridge/termbridge/internal/config"
)

func TestResolveHost_FlagWins(t *testing.T) {
	cfg := config.Default()
	cfg.Hosts["a"] = config.HostDef{Host: "a.example.com"}
	cfg.Hosts["b"] = config.HostDef{Host: "b.example.com"}
	cfg.ActiveHost = "a"

	hostID, err := resolveHost(cfg, "b")
	if err != nil {
		t.Fatalf("resolveHost failed: %v", err)
	}
	if hostID != "b" {
		t.Errorf("expected flag to win, got %q", hostID)
	}
}

func TestResolveHost_DefaultsToActive(t *testing.T) {
	cfg := config.Default()
	cfg.Hosts["a"] = config.HostDef{Host: "a.example.com"}
	cfg.ActiveHost = "a"

	hostID, err := resolveHost(cfg, "")
	if err != nil {
		t.Fatalf("resolveHost failed: %v", err)
	}
	if hostID != "a" {
		t.Errorf("expected active_host, got %q", hostID)
	}
}

func TestResolveHost_Errors(t *testing.T) {
	cfg := config.Default()
	if _, err := resolveHost(cfg, ""); err == nil {
		t.Error("expected error with no host and no active_host")
	}
	if _, err := resolveHost(cfg, "missing"); err == nil {
		t.Error("expected error for unknown host")
	}
}

func TestFileCredentials_IdentityFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "id_test")
	if err := os.WriteFile(keyPath, []byte("fake key material"), 0600); err != nil {
		t.Fatal(err)
	}

	creds := fileCredentials{host: config.HostDef{User: "dev", IdentityFile: keyPath}}
	cred, err := creds.GetCredential()
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred.User != "dev" {
		t.Errorf("User = %q", cred.User)
	}
	if string(cred.PrivateKey) != "fake key material" {
		t.Errorf("PrivateKey not read from file")
	}
}

func TestFileCredentials_PasswordFromEnv(t *testing.T) {
	t.Setenv("TERMBRIDGE_PASSWORD", "hunter2")
	creds := fileCredentials{host: config.HostDef{User: "dev"}}
	cred, err := creds.GetCredential()
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if cred.Password != "hunter2" {
		t.Errorf("Password = %q", cred.Password)
	}
}

func TestFileCredentials_NoMaterial(t *testing.T) {
	t.Setenv("TERMBRIDGE_PASSWORD", "")
	creds := fileCredentials{host: config.HostDef{User: "dev"}}
	if _, err := creds.GetCredential(); err == nil {
		t.Error("expected error with no key and no password")
	}
}
