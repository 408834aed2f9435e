// Package bolt persists the installed rule table in a bbolt database so that
// enforcement survives daemon restarts.
package bolt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-focus/internal/focus/domain"
	"github.com/haukened/rr-focus/internal/focus/repos/ruletable"
)

var (
	bucketRules = []byte("rules")
	bucketMeta  = []byte("meta")

	keyVersion = []byte("version")
	keyUpdated = []byte("updated")
)

// bucketCreator is the part of *bbolt.Tx ensureBuckets needs; a seam for tests.
type bucketCreator interface {
	CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error)
}

func ensureBuckets(tx bucketCreator) error {
	for _, name := range [][]byte{bucketRules, bucketMeta} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("create bucket %s: %w", name, err)
		}
	}
	return nil
}

// ensureBucketsFn is swapped by tests to exercise bucket creation failures.
var ensureBucketsFn = func(tx bucketCreator) error { return ensureBuckets(tx) }

// boltStore implements ruletable.Store using bbolt.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (ruletable.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error { return ensureBucketsFn(tx) }); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// Load returns every rule ordered by ID; big-endian keys sort numerically.
func (s *boltStore) Load() ([]domain.Rule, error) {
	var out []domain.Rule
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRules)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var r domain.Rule
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("decode rule %d: %w", decodeID(k), err)
			}
			out = append(out, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Commit deletes removeIDs and writes add in one transaction, then bumps the
// snapshot version. Any failure rolls the whole batch back.
func (s *boltStore) Commit(removeIDs []int, add []domain.Rule, updatedUnix int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		rules := tx.Bucket(bucketRules)
		meta := tx.Bucket(bucketMeta)
		for _, id := range removeIDs {
			if err := rules.Delete(encodeID(id)); err != nil {
				return err
			}
		}
		for _, r := range add {
			v, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode rule %d: %w", r.ID, err)
			}
			if err := rules.Put(encodeID(r.ID), v); err != nil {
				return err
			}
		}
		version := uint64(1)
		if v := meta.Get(keyVersion); len(v) == 8 {
			version = binary.BigEndian.Uint64(v) + 1
		}
		if err := meta.Put(keyVersion, encodeUint(version)); err != nil {
			return err
		}
		return meta.Put(keyUpdated, encodeUint(uint64(updatedUnix)))
	})
}

func (s *boltStore) Stats() ruletable.StoreStats {
	st := ruletable.StoreStats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketRules); b != nil {
			st.RuleCount = uint64(b.Stats().KeyN)
		}
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(keyVersion); len(v) == 8 {
				st.Version = binary.BigEndian.Uint64(v)
			}
			if v := b.Get(keyUpdated); len(v) == 8 {
				st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return st
}

func encodeID(id int) []byte { return encodeUint(uint64(id)) }

func decodeID(k []byte) int {
	if len(k) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(k))
}

func encodeUint(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

var _ ruletable.Store = (*boltStore)(nil)
