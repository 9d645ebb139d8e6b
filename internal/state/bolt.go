package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const statusBucket = "instance_status"

// BoltStore persists statuses in a BoltDB file. Every Set is its own
// committed transaction, so Flush has nothing to do.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(statusBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (b *BoltStore) Get(instance string) (Status, error) {
	var st Status
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(statusBucket)).Get([]byte(instance))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &st)
	})
	if err != nil {
		return Status{}, fmt.Errorf("reading status of %s: %w", instance, err)
	}
	return st, nil
}

// Set writes the status durably.
func (b *BoltStore) Set(instance string, status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(statusBucket)).Put([]byte(instance), data)
	})
}

// Flush is a no-op.
func (b *BoltStore) Flush() error { return nil }

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// Snapshot returns all stored statuses. Undecodable entries are skipped.
func (b *BoltStore) Snapshot() map[string]Status {
	snapshot := make(map[string]Status)
	_ = b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(statusBucket)).ForEach(func(k, v []byte) error {
			var st Status
			if json.Unmarshal(v, &st) == nil {
				snapshot[string(k)] = st
			}
			return nil
		})
	})
	return snapshot
}

// Open returns the store for backend "file" or "bolt".
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "file":
		fs, err := NewFileStore(path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "bolt":
		bs, err := NewBoltStore(path)
		if err != nil {
			return nil, err
		}
		return bs, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
