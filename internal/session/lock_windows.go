//go:build windows

package session

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// fileLock serializes sessions.json access across processes via
// LockFileEx.
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
	ol := &windows.Overlapped{}
	if err := windows.LockFileEx(windows.Handle(f.Fd()), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return &lockHandle{file: f}, nil
}

func (h *lockHandle) Unlock() error {
	if h == nil || h.file == nil {
		return nil
	}
	ol := &windows.Overlapped{}
	if err := windows.UnlockFileEx(windows.Handle(h.file.Fd()), 0, 1, 0, ol); err != nil {
		_ = h.file.Close()
		h.file = nil
		return fmt.Errorf("release lock: %w", err)
	}
	err := h.file.Close()
	h.file = nil
	return err
}
