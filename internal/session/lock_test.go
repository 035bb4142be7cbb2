package session

import (
	"path/filepath"
	"testing"
	"time"
)

func TestFileLockMutualExclusion(t *testing.T) {
	lock := newFileLock(filepath.Join(t.TempDir(), "sessions.json"))

	handle, err := lock.Lock()
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		h, err := lock.Lock()
		if err != nil {
			t.Errorf("second Lock() failed: %v", err)
			return
		}
		defer func() { _ = h.Unlock() }()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first was held")
	case <-time.After(50 * time.Millisecond):
	}

	if err := handle.Unlock(); err != nil {
		t.Fatalf("Unlock() failed: %v", err)
	}

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestFileLockDoubleUnlock(t *testing.T) {
	lock := newFileLock(filepath.Join(t.TempDir(), "sessions.json"))

	handle, err := lock.Lock()
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if err := handle.Unlock(); err != nil {
		t.Fatalf("first Unlock() failed: %v", err)
	}
	if err := handle.Unlock(); err != nil {
		t.Fatalf("second Unlock() should be a no-op, got: %v", err)
	}
}
