//go:build !windows

package session

import (
	"fmt"
	"os"
	"syscall"
)

// fileLock serializes sessions.json access across processes via flock.
type fileLock struct {
	path string
}

type lockHandle struct {
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path + ".lock"}
}

// Lock blocks until the exclusive lock is held.
func (l *fileLock) Lock() (*lockHandle, error) {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return &lockHandle{file: f}, nil
}

func (h *lockHandle) Unlock() error {
	if h == nil || h.file == nil {
		return nil
	}
	if err := syscall.Flock(int(h.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = h.file.Close()
		h.file = nil
		return fmt.Errorf("release lock: %w", err)
	}
	err := h.file.Close()
	h.file = nil
	return err
}
