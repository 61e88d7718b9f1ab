package bolt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mzielin/agent-bridge/internal/domain"
)

var bucketName = []byte("kv")

// DefaultMaxBytes mirrors the several-megabyte ceiling of the browser
// store this layer replaces.
const DefaultMaxBytes = 5 << 20

// Store is a durable, string-keyed key-value store over a single bbolt
// bucket. Writes past the configured byte ceiling fail with
// domain.ErrQuotaExceeded; there is no expiry and no transactions are
// exposed to callers.
type Store struct {
	db       *bolt.DB
	maxBytes int64
}

// Open opens (creating if needed) the store at path
func Open(path string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketName)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create storage bucket: %w", err)
	}
	return &Store{db: db, maxBytes: maxBytes}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Get reads one value. The second return reports presence.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v != nil {
			found = true
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return out, found, nil
}

// Put writes one value, enforcing the byte ceiling on projected usage
func (s *Store) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)

		var used int64
		_ = b.ForEach(func(k, v []byte) error {
			used += int64(len(k) + len(v))
			return nil
		})
		if existing := b.Get([]byte(key)); existing != nil {
			used -= int64(len(key) + len(existing))
		}
		if used+int64(len(key)+len(value)) > s.maxBytes {
			return domain.ErrQuotaExceeded
		}
		return b.Put([]byte(key), value)
	})
}

// Delete removes one key; deleting a missing key is not an error
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// Keys lists all keys with the given prefix
func (s *Store) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

// Usage sums key and value byte lengths. Advisory only.
func (s *Store) Usage() (int64, error) {
	var used int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			used += int64(len(k) + len(v))
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to compute usage: %w", err)
	}
	return used, nil
}
