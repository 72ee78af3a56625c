package metacache

import (
	"fmt"
	"log/slog"

	"go.etcd.io/bbolt"
)

// entriesBucket is the single bbolt bucket the sidecar keeps: path -> gob
// encoded CacheNode.
var entriesBucket = []byte("entries")

// LoadSidecar loads a previously persisted entry cache from path into c. A
// missing file, or one that fails to open or decode, is not an error here:
// per spec.md §4.3, the caller falls back to Enumerate.
func (c *Cache) LoadSidecar(path string, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		logger.Debug("metacache: sidecar unavailable, will enumerate", "path", path, "err", err)

		return false
	}
	defer db.Close()

	snapshot := make(map[string]CacheNode)

	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(entriesBucket)
		if b == nil {
			return fmt.Errorf("metacache: sidecar has no entries bucket")
		}

		return b.ForEach(func(k, v []byte) error {
			n, derr := DecodeNode(v)
			if derr != nil {
				return derr
			}

			snapshot[string(k)] = n

			return nil
		})
	})
	if err != nil {
		logger.Debug("metacache: sidecar decode failed, will enumerate", "path", path, "err", err)

		return false
	}

	c.Restore(snapshot)

	return true
}

// PersistSidecar writes the current cache contents to path, overwriting any
// prior sidecar. Called at shutdown; best-effort.
func (c *Cache) PersistSidecar(path string) error {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("metacache: opening sidecar: %w", err)
	}
	defer db.Close()

	snapshot := c.Snapshot()

	return db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}

		b, err := tx.CreateBucket(entriesBucket)
		if err != nil {
			return err
		}

		for path, node := range snapshot {
			data, err := EncodeNode(node)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(path), data); err != nil {
				return err
			}
		}

		return nil
	})
}
