// Package state persists the last observed liveness status of each
// monitored ServiceNow instance.
//
// The prober compares every probe with the stored status to decide whether
// the instance changed state. Persisting it means a restart does not
// re-announce a transition that was already published.
//
// # File Format
//
// A single JSON object keyed by instance host name:
//
//	{
//	  "dev12345": {"up": true, "checked_at": 1706140800, "changed_at": 1706137200},
//	  "acme-prod": {"up": false, "checked_at": 1706140800, "changed_at": 1706140800,
//	                "error": "servicenow: HTTP 503 Service Unavailable"}
//	}
//
// # Durability
//
// Flush writes to a temporary file in the same directory, fsyncs it and
// renames it over the target, so the file is always either the old or the
// new state.
//
// BoltStore keeps the same records, one key per instance, in a bbolt
// bucket and commits every Set. Open picks the backend by name.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is the outcome of the last liveness probe of one instance.
type Status struct {
	Up bool `json:"up"`

	// CheckedAt is when the probe ran, as Unix epoch seconds.
	CheckedAt int64 `json:"checked_at"`

	// ChangedAt is when Up last flipped (or was first observed).
	ChangedAt int64 `json:"changed_at"`

	// Error is the probe error, if the request itself failed.
	Error string `json:"error,omitempty"`
}

// IsZero returns true if the instance has never been probed.
func (s Status) IsZero() bool {
	return s.CheckedAt == 0
}

// CheckedTime returns CheckedAt as a time.Time in UTC.
func (s Status) CheckedTime() time.Time {
	return time.Unix(s.CheckedAt, 0).UTC()
}

// Store defines status persistence. Implementations must be safe for
// concurrent use by multiple goroutines (one per prober).
type Store interface {
	// Get returns the stored status, or a zero Status if there is none.
	Get(instance string) (Status, error)

	// Set records the status; it may only reach disk on Flush.
	Set(instance string, status Status) error

	// Flush persists buffered changes.
	Flush() error

	// Close flushes and releases any resources.
	Close() error

	// Snapshot returns a copy of all stored statuses.
	Snapshot() map[string]Status
}

// FileStore persists statuses as a JSON file on the local filesystem.
type FileStore struct {
	path     string
	mu       sync.RWMutex
	statuses map[string]Status
	dirty    bool
}

// NewFileStore creates a FileStore backed by path. An existing file is
// loaded; a missing one starts the store empty.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:     path,
		statuses: make(map[string]Status),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("reading state file %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &fs.statuses); err != nil {
			return nil, fmt.Errorf("parsing state file %s: %w", path, err)
		}
	}

	return fs, nil
}

func (fs *FileStore) Get(instance string) (Status, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.statuses[instance], nil
}

// Set stores the status in memory. It reaches disk on the next Flush.
func (fs *FileStore) Set(instance string, status Status) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.statuses[instance] = status
	fs.dirty = true
	return nil
}

// Flush writes the current statuses to disk. No-op when nothing changed.
func (fs *FileStore) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.dirty {
		return nil
	}

	data, err := json.MarshalIndent(fs.statuses, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling statuses: %w", err)
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, fs.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming state file: %w", err)
	}

	fs.dirty = false
	return nil
}

// Close flushes any pending changes.
func (fs *FileStore) Close() error {
	return fs.Flush()
}

// Snapshot returns a copy of all stored statuses.
func (fs *FileStore) Snapshot() map[string]Status {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	snapshot := make(map[string]Status, len(fs.statuses))
	for k, v := range fs.statuses {
		snapshot[k] = v
	}
	return snapshot
}
