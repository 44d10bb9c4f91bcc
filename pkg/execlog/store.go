package execlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	sessionPrefix = "execution_log_"
	latestName    = "latest_execution_log.json"
)

// FileStore persists execution logs as indented JSON under one directory.
// Every save rewrites both the session file and the latest pointer.
type FileStore struct {
	mu      sync.RWMutex
	baseDir string
}

// NewFileStore creates a file-based log store rooted at baseDir
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// Dir returns the store's directory
func (f *FileStore) Dir() string {
	return f.baseDir
}

// SessionPath returns the file a session is written to
func (f *FileStore) SessionPath(sessionID string) string {
	return filepath.Join(f.baseDir, sessionPrefix+sessionID+".json")
}

// LatestPath returns the latest pointer file
func (f *FileStore) LatestPath() string {
	return filepath.Join(f.baseDir, latestName)
}

// Save writes log to its session file and to the latest pointer
func (f *FileStore) Save(log *Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if log.SessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(log); err != nil {
		return fmt.Errorf("failed to marshal execution log: %w", err)
	}

	if err := f.writeAtomic(f.SessionPath(log.SessionID), buf.Bytes()); err != nil {
		return err
	}
	return f.writeAtomic(f.LatestPath(), buf.Bytes())
}

// Load reads a session log. An empty sessionID reads the latest pointer.
func (f *FileStore) Load(sessionID string) (*Log, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	path := f.LatestPath()
	if sessionID != "" {
		path = f.SessionPath(sessionID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("execution log not found: %w", err)
	}
	var log Log
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("failed to parse execution log %s: %w", path, err)
	}
	return &log, nil
}

// ListSessions returns stored session IDs, newest first
func (f *FileStore) ListSessions() ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(f.baseDir, sessionPrefix+"*.json"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".json")
		ids = append(ids, strings.TrimPrefix(name, sessionPrefix))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// writeAtomic replaces path so readers never see a partial log
func (f *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(f.baseDir, ".execlog-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp log file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write log file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
