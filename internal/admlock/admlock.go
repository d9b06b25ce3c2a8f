// Package admlock manages the working copy's administrative locks: one
// lock file per directory, held for the duration of an update. The editor
// itself never acquires or releases these locks — callers (the CLI, or
// whatever drives the editor) take the lock before starting an edit and
// release it after CloseEdit returns.
package admlock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const lockFileName = "lock"

// ErrLocked is returned by Acquire when the directory is already locked.
type ErrLocked struct {
	Dir string
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("admlock: %s is already locked", e.Dir)
}

// Manager tracks the set of directories currently locked by this process
// and watches their lock files so an out-of-band removal (another process
// cleaning up after a crash) is noticed rather than silently leaving a
// stale in-memory lock.
type Manager struct {
	adminDirName string
	logger       *zap.Logger

	mu      sync.Mutex
	held    map[string]bool
	watcher *fsnotify.Watcher
}

func NewManager(adminDirName string, logger *zap.Logger) (*Manager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("admlock: creating watcher: %w", err)
	}

	m := &Manager{
		adminDirName: adminDirName,
		logger:       logger,
		held:         make(map[string]bool),
		watcher:      watcher,
	}
	go m.watchLoop()

	return m, nil
}

func (m *Manager) lockPath(dir string) string {
	return filepath.Join(dir, m.adminDirName, lockFileName)
}

// Acquire takes the lock on dir, creating its lock file. It fails if the
// lock file already exists, matching the administrative lock's one-writer
// invariant.
func (m *Manager) Acquire(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.lockPath(dir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return &ErrLocked{Dir: dir}
		}
		return fmt.Errorf("admlock: creating lock file for %s: %w", dir, err)
	}
	f.Close()

	if err := m.watcher.Add(filepath.Join(dir, m.adminDirName)); err != nil {
		m.logger.Warn("watching admin dir for lock removal", zap.String("dir", dir), zap.Error(err))
	}

	m.held[dir] = true
	return nil
}

// Release drops the lock on dir. Releasing a directory this process
// doesn't hold is not an error, mirroring the idempotent cleanup the log
// runner performs after a crash.
func (m *Manager) Release(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.held, dir)

	if err := os.Remove(m.lockPath(dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("admlock: removing lock file for %s: %w", dir, err)
	}
	return nil
}

// IsLocked reports whether this process currently holds dir's lock.
func (m *Manager) IsLocked(dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[dir]
}

// watchLoop notices lock files removed by someone other than Release —
// typically a separate cleanup pass after this process crashed mid-update
// — and drops the stale in-memory entry so IsLocked stops reporting a
// lock nothing still holds.
func (m *Manager) watchLoop() {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Remove == 0 {
				continue
			}
			if filepath.Base(event.Name) != lockFileName {
				continue
			}
			dir := filepath.Dir(filepath.Dir(event.Name))
			m.mu.Lock()
			delete(m.held, dir)
			m.mu.Unlock()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("admin lock watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) Close() error {
	return m.watcher.Close()
}
