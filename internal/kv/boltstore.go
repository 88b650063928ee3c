package kv

import (
	"bytes"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
)

var bucketData = []byte("data")

// boltStore is the raw byte-keyed/byte-valued backing store. It
// implements every primitive in spec §4.1 directly against bbolt;
// durability is bbolt's own fsync-on-commit discipline.
type boltStore struct {
	db *bolt.DB
}

func newBoltStore(dataDir string) (*boltStore, error) {
	path := filepath.Join(dataDir, "teaclave.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.newBoltStore", "open bbolt", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketData)
		return err
	})
	if err != nil {
		db.Close()
		return nil, domerr.Wrap(domerr.StorageUnavailable, "kv.newBoltStore", "create bucket", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error {
	return s.db.Close()
}

func (s *boltStore) get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketData).Get(key)
		if v == nil {
			return domerr.New(domerr.NotFound, "kv.Get", fmt.Sprintf("key %q not found", key))
		}
		value = append([]byte(nil), v...)
		return nil
	})
	return value, err
}

func (s *boltStore) put(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketData).Put(key, value)
	})
}

func (s *boltStore) delete(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketData).Delete(key)
	})
}

// compareAndSwap overwrites key with newValue only if the current
// value equals expected (nil expected means "key must not exist").
// It runs inside a single bbolt write transaction, so the compare and
// the swap are atomic with respect to other writers.
func (s *boltStore) compareAndSwap(key, expected, newValue []byte) (bool, error) {
	var swapped bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketData)
		current := b.Get(key)
		if !bytes.Equal(current, expected) {
			swapped = false
			return nil
		}
		swapped = true
		if newValue == nil {
			return b.Delete(key)
		}
		return b.Put(key, newValue)
	})
	return swapped, err
}

// enumerate lazily walks every key with the given prefix, invoking fn
// for each (key, value) pair in lexicographic key order. It opens one
// read transaction for the whole walk (restartable per spec, not
// resumable mid-walk across calls).
func (s *boltStore) enumerate(prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketData).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
