package osdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/containerd/log"
	bolt "go.etcd.io/bbolt"
)

// recordsBucket holds one JSON-encoded Record per OS short-id.
var recordsBucket = []byte("records")

// BoltDB is a capability database cache backed by a bbolt file.
// Parsing the XML corpus is the expensive part of a conversion's
// startup; a cache populated once with ImportFrom lets subsequent
// conversions skip it.
type BoltDB struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) the cache file at path.
func OpenBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open capability cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize capability cache: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// Close releases the underlying file.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// Lookup returns the cached record for osID, or ok=false when absent.
func (b *BoltDB) Lookup(_ context.Context, osID string) (*Record, bool, error) {
	var rec *Record
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(recordsBucket).Get([]byte(osID))
		if data == nil {
			return nil
		}
		rec = &Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read capability cache entry %q: %w", osID, err)
	}
	return rec, rec != nil, nil
}

// ImportFrom copies the records named by ids from src into the cache,
// replacing any existing entries. Identifiers unknown to src are
// skipped.
func (b *BoltDB) ImportFrom(ctx context.Context, src DB, ids []string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(recordsBucket)
		for _, id := range ids {
			rec, ok, err := src.Lookup(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				log.G(ctx).WithField("os", id).Debug("skipping unknown OS during cache import")
				continue
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to encode record %q: %w", id, err)
			}
			if err := bucket.Put([]byte(id), data); err != nil {
				return fmt.Errorf("failed to store record %q: %w", id, err)
			}
		}
		return nil
	})
}
