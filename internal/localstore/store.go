// Package localstore keeps the offline client's durable state in a bbolt
// file: the last known contact list (the Local Cache) and the mutations
// still waiting for the store (the Pending Operation Log). Each is a single
// JSON document rewritten atomically in one bbolt transaction.
//
// Reads and writes never fail visibly. Storage errors are logged and the
// caller sees an empty snapshot or a dropped write.
package localstore

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const (
	stateDirPerm     = fs.FileMode(0o700)
	stateFilePerm    = fs.FileMode(0o600)
	stateOpenTimeout = 5 * time.Second
)

var (
	slotsBucket = []byte("slots")
	cacheKey    = []byte("contacts")
	pendingKey  = []byte("pending_operations")
)

// Store wraps the bbolt database shared by Cache and PendingLog.
type Store struct {
	db *bolt.DB

	cache   *Cache
	pending *PendingLog
}

// Open opens (or creates) the state database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, stateDirPerm); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(slotsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	s := &Store{db: db}
	s.cache = &Cache{store: s, log: log.With().Str("slot", string(cacheKey)).Logger()}
	s.pending = &PendingLog{store: s, log: log.With().Str("slot", string(pendingKey)).Logger()}
	return s, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Cache returns the Local Cache view of the store.
func (s *Store) Cache() *Cache { return s.cache }

// PendingLog returns the Pending Operation Log view of the store.
func (s *Store) PendingLog() *PendingLog { return s.pending }

// read returns a copy of the slot value, or nil when unset.
func (s *Store) read(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(slotsBucket)
		if b == nil {
			return nil
		}
		if v := b.Get(key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *Store) write(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(slotsBucket)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}
