// Package bolt is a durable key-value store on bbolt. A successful Set is
// fsynced before it returns.
package bolt

import (
	"errors"
	"slices"
	"time"

	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"
)

var bucketState = []byte("state")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kvstore: closed")

// Store implements arbitrary-key Get/Set over one bbolt bucket.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get returns a copy of the value for key; ok is false when absent.
func (s *Store) Get(key string) (value []byte, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			value = slices.Clone(v)
			ok = true
		}
		return nil
	})
	if errors.Is(err, bberrors.ErrDatabaseNotOpen) {
		err = ErrClosed
	}
	return value, ok, err
}

// Set writes value under key, replacing any previous value.
func (s *Store) Set(key string, value []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketState).Put([]byte(key), value)
	})
	if errors.Is(err, bberrors.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

// Close releases the database file lock.
func (s *Store) Close() error { return s.db.Close() }
