package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// maxBackupGenerations is the number of rolling backups to keep.
const maxBackupGenerations = 3

// StorageData is the on-disk shape of sessions.json.
type StorageData struct {
	Tabs       []*TabData `json:"tabs"`
	ActiveSlot int        `json:"active_slot,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TabData is one persisted tab. Enough to re-derive the remote target and
// restore the tab bar after an app restart.
type TabData struct {
	ID         string    `json:"id"`
	Slot       int       `json:"slot"`
	Target     string    `json:"target"`
	Title      string    `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// Storage persists tab state to a JSON file. Writes are atomic
// (tmp + fsync + rename) with rolling backups, and guarded by a
// cross-process flock so concurrent instances cannot interleave a
// read-modify-write.
type Storage struct {
	path   string
	lock   *fileLock
	logger *slog.Logger
}

// NewStorage creates storage at path, creating its directory with
// owner-only permissions.
func NewStorage(path string, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	s := &Storage{path: path, lock: newFileLock(path), logger: logger}
	s.cleanupTempFiles()
	return s, nil
}

// Path returns the file path this storage writes to.
func (s *Storage) Path() string { return s.path }

// cleanupTempFiles removes a leftover .tmp file from a previous crash.
func (s *Storage) cleanupTempFiles() {
	tmpPath := s.path + ".tmp"
	if _, err := os.Stat(tmpPath); err == nil {
		if err := os.Remove(tmpPath); err != nil {
			s.logger.Warn("failed to clean up temp file", "path", tmpPath, "err", err)
		}
	}
}

// Save persists the registry's tabs and the active slot.
func (s *Storage) Save(sessions []*Session, activeSlot int) error {
	data := StorageData{
		Tabs:       make([]*TabData, len(sessions)),
		ActiveSlot: activeSlot,
		UpdatedAt:  time.Now(),
	}
	for i, sess := range sessions {
		data.Tabs[i] = &TabData{
			ID:         sess.ID,
			Slot:       sess.Slot,
			Target:     sess.Target,
			Title:      sess.Title,
			CreatedAt:  sess.CreatedAt,
			LastUsedAt: sess.LastUsed(),
		}
	}
	return s.SaveData(&data)
}

// SaveData writes the raw storage payload.
func (s *Storage) SaveData(data *StorageData) error {
	if err := validate(data); err != nil {
		return fmt.Errorf("refusing to save invalid data: %w", err)
	}

	handle, err := s.lock.Lock()
	if err != nil {
		return fmt.Errorf("acquire storage lock: %w", err)
	}
	defer func() {
		if err := handle.Unlock(); err != nil {
			s.logger.Warn("failed to release storage lock", "err", err)
		}
	}()

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tab data: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, jsonData, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := syncFile(tmpPath); err != nil {
		// The atomic rename still protects against torn writes.
		s.logger.Warn("fsync failed", "path", tmpPath, "err", err)
	}

	s.rotateBackups()

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load reads the persisted tab state, recovering from backups when the
// main file is corrupted. A missing file is an empty state, not an error.
func (s *Storage) Load() (*StorageData, error) {
	handle, err := s.lock.Lock()
	if err != nil {
		return nil, fmt.Errorf("acquire storage lock: %w", err)
	}
	defer func() {
		if err := handle.Unlock(); err != nil {
			s.logger.Warn("failed to release storage lock", "err", err)
		}
	}()

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return &StorageData{}, nil
	}

	data, err := s.loadFromFile(s.path)
	if err == nil {
		return data, nil
	}
	s.logger.Warn("tab storage corrupted, trying backups", "err", err)

	bakPath := s.path + ".bak"
	candidates := []string{bakPath}
	for i := 1; i < maxBackupGenerations; i++ {
		candidates = append(candidates, fmt.Sprintf("%s.%d", bakPath, i))
	}
	for _, candidate := range candidates {
		data, berr := s.loadFromFile(candidate)
		if berr != nil {
			continue
		}
		s.logger.Info("recovered tab state from backup", "path", candidate)
		return data, nil
	}
	return nil, fmt.Errorf("load tab state and no valid backup found: %w", err)
}

func (s *Storage) loadFromFile(path string) (*StorageData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data StorageData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validate(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// validate rejects payloads that would corrupt the registry on restore.
func validate(data *StorageData) error {
	seenSlots := make(map[int]bool)
	seenIDs := make(map[string]bool)
	for _, tab := range data.Tabs {
		if tab == nil {
			return fmt.Errorf("nil tab entry")
		}
		if tab.Slot < 1 {
			return fmt.Errorf("tab %q has invalid slot %d", tab.ID, tab.Slot)
		}
		if tab.Target == "" {
			return fmt.Errorf("tab %q has empty target", tab.ID)
		}
		if seenSlots[tab.Slot] {
			return fmt.Errorf("duplicate slot %d", tab.Slot)
		}
		if tab.ID != "" && seenIDs[tab.ID] {
			return fmt.Errorf("duplicate tab id %s", tab.ID)
		}
		seenSlots[tab.Slot] = true
		seenIDs[tab.ID] = true
	}
	return nil
}

// syncFile fsyncs a file so the data reaches disk before the rename.
func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// rotateBackups shifts .bak -> .bak.1 -> .bak.2 and snapshots the current
// file into .bak.
func (s *Storage) rotateBackups() {
	bakPath := s.path + ".bak"

	for i := maxBackupGenerations - 1; i > 0; i-- {
		oldPath := fmt.Sprintf("%s.%d", bakPath, i-1)
		if i == 1 {
			oldPath = bakPath
		}
		newPath := fmt.Sprintf("%s.%d", bakPath, i)
		if i == maxBackupGenerations-1 {
			os.Remove(newPath)
		}
		if _, err := os.Stat(oldPath); err == nil {
			if err := os.Rename(oldPath, newPath); err != nil {
				s.logger.Warn("failed to rotate backup", "from", oldPath, "to", newPath, "err", err)
			}
		}
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, bakPath); err != nil {
			s.logger.Warn("failed to snapshot backup", "path", bakPath, "err", err)
		}
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}
