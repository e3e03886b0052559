// Package userlog appends per-user activity lines to dedicated sinks, one
// per user. Rotation and cleanup of the underlying files belong to external
// tooling; the contract here is only "emit an entry".
package userlog

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sink receives per-user log entries.
type Sink interface {
	Printf(userID int64, format string, args ...any)
}

// Manager writes each user's entries to logs/user_<id>.log under dir.
type Manager struct {
	dir   string
	mu    sync.Mutex
	files map[int64]*os.File
}

func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Manager{
		dir:   dir,
		files: make(map[int64]*os.File),
	}, nil
}

func (m *Manager) Printf(userID int64, format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[userID]
	if !ok {
		path := filepath.Join(m.dir, fmt.Sprintf("user_%d.log", userID))
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			log.Printf("userlog: open %s: %v", path, err)
			return
		}
		m.files[userID] = f
	}

	line := fmt.Sprintf("%s %s\n",
		time.Now().Format("2006-01-02 15:04:05"),
		fmt.Sprintf(format, args...))
	if _, err := f.WriteString(line); err != nil {
		log.Printf("userlog: write user %d: %v", userID, err)
	}
}

// Close closes every open sink.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, f := range m.files {
		if err := f.Close(); err != nil {
			log.Printf("userlog: close user %d: %v", userID, err)
		}
		delete(m.files, userID)
	}
}

// Memory collects entries in process memory for tests.
type Memory struct {
	mu      sync.Mutex
	entries map[int64][]string
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[int64][]string)}
}

func (m *Memory) Printf(userID int64, format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[userID] = append(m.entries[userID], fmt.Sprintf(format, args...))
}

// Entries returns a copy of the user's lines.
func (m *Memory) Entries(userID int64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries[userID]))
	copy(out, m.entries[userID])
	return out
}
