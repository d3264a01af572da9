package seen

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"driveingest/internal/ingest"
)

const (
	bucketIDs   = "ids"   // id -> sequence
	bucketOrder = "order" // big-endian sequence -> id
	bucketMeta  = "meta"
)

var keyCount = []byte("count")

// BoltStore persists seen ids in a bbolt file so a restart does not report
// the whole folder as new again. Eviction is oldest-first, as in MemoryStore.
type BoltStore struct {
	db       *bbolt.DB
	capacity int
}

var _ ingest.SeenStore = (*BoltStore)(nil)

func NewBoltStore(path string, capacity int) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating seen store directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening seen store: %w", err)
	}
	s := &BoltStore{db: db, capacity: capacity}
	if err := s.db.Update(ensureBuckets); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating seen store buckets: %w", err)
	}
	return s, nil
}

func ensureBuckets(tx *bbolt.Tx) error {
	for _, name := range []string{bucketIDs, bucketOrder, bucketMeta} {
		if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) Has(id string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket([]byte(bucketIDs)).Get([]byte(id)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reading seen store: %w", err)
	}
	return found, nil
}

func (s *BoltStore) Add(ids ...string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idb := tx.Bucket([]byte(bucketIDs))
		ob := tx.Bucket([]byte(bucketOrder))
		count := readCount(tx)

		for _, id := range ids {
			if idb.Get([]byte(id)) != nil {
				continue
			}
			seq, err := ob.NextSequence()
			if err != nil {
				return err
			}
			key := seqKey(seq)
			if err := idb.Put([]byte(id), key); err != nil {
				return err
			}
			if err := ob.Put(key, []byte(id)); err != nil {
				return err
			}
			count++
		}

		if s.capacity > 0 && count > uint64(s.capacity) {
			c := ob.Cursor()
			for k, v := c.First(); k != nil && count > uint64(s.capacity); k, v = c.First() {
				if err := idb.Delete(v); err != nil {
					return err
				}
				if err := ob.Delete(k); err != nil {
					return err
				}
				count--
			}
		}
		return writeCount(tx, count)
	})
	if err != nil {
		return fmt.Errorf("writing seen store: %w", err)
	}
	return nil
}

func (s *BoltStore) Remove(ids ...string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idb := tx.Bucket([]byte(bucketIDs))
		ob := tx.Bucket([]byte(bucketOrder))
		count := readCount(tx)
		for _, id := range ids {
			key := idb.Get([]byte(id))
			if key == nil {
				continue
			}
			// key is only valid for the life of the transaction.
			if err := ob.Delete(append([]byte(nil), key...)); err != nil {
				return err
			}
			if err := idb.Delete([]byte(id)); err != nil {
				return err
			}
			count--
		}
		return writeCount(tx, count)
	})
	if err != nil {
		return fmt.Errorf("removing from seen store: %w", err)
	}
	return nil
}

func (s *BoltStore) Reset() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketIDs, bucketOrder, bucketMeta} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		return ensureBuckets(tx)
	})
	if err != nil {
		return fmt.Errorf("resetting seen store: %w", err)
	}
	return nil
}

func (s *BoltStore) Len() (int, error) {
	var n uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = readCount(tx)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reading seen store: %w", err)
	}
	return int(n), nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func readCount(tx *bbolt.Tx) uint64 {
	v := tx.Bucket([]byte(bucketMeta)).Get(keyCount)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func writeCount(tx *bbolt.Tx, n uint64) error {
	return tx.Bucket([]byte(bucketMeta)).Put(keyCount, seqKey(n))
}

func seqKey(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}
