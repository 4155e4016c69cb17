// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultBoltTTL is how long a BoltStore keeps a record.
	DefaultBoltTTL = 1 * time.Hour

	// DefaultBoltBucket is the bucket records are kept in.
	DefaultBoltBucket = "kc-callbacks"

	// DefaultBoltOpenTimeout is how long NewBoltStore waits for the file lock.
	DefaultBoltOpenTimeout = 1 * time.Second

	probeKey = "kc-test"
)

// BoltStore is a persistent Store kept in a bbolt database file. Every Add
// and Get also sweeps the bucket, removing expired and unreadable records,
// so abandoned login attempts don't accumulate.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
	ttl    time.Duration
	now    func() time.Time
}

// ensure that BoltStore implements the Store interface
var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the database at path and verifies it's
// writable. Supports the options: WithBucket, WithTTL, WithNow and
// WithOpenTimeout.
//
// See BoltStore.Close() which must be called to release the database.
func NewBoltStore(path string, opt ...Option) (*BoltStore, error) {
	const op = "store.NewBoltStore"
	if path == "" {
		return nil, fmt.Errorf("%s: path is empty: %w", op, ErrInvalidParameter)
	}
	opts := getBoltOpts(opt...)
	if opts.withBucket == "" {
		return nil, fmt.Errorf("%s: bucket is empty: %w", op, ErrInvalidParameter)
	}
	if opts.withTTL <= 0 {
		return nil, fmt.Errorf("%s: ttl must be greater than zero: %w", op, ErrInvalidParameter)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.withOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open %q: %w", op, path, err)
	}
	s := &BoltStore{
		db:     db,
		bucket: []byte(opts.withBucket),
		ttl:    opts.withTTL,
		now:    opts.withNowFunc,
	}
	// create the bucket and make sure we can actually write to it.
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(probeKey), []byte(probeKey)); err != nil {
			return err
		}
		return b.Delete([]byte(probeKey))
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %q is not writable: %w", op, path, err)
	}
	return s, nil
}

// BoltFactory returns a Factory for a BoltStore at path.
func BoltFactory(path string, opt ...Option) Factory {
	return func() (Store, error) {
		return NewBoltStore(path, opt...)
	}
}

// Close releases the database.
func (s *BoltStore) Close() error {
	const op = "BoltStore.Close"
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Add implements the Store interface. ExpiresAt is set from the store's TTL
// when it's zero.
func (s *BoltStore) Add(_ context.Context, r *CallbackRecord) error {
	const op = "BoltStore.Add"
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	rec := *r
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(s.ttl)
	}
	value, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("%s: unable to encode record: %w", op, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if err := s.sweep(b, now); err != nil {
			return err
		}
		return b.Put([]byte(keyPrefix+rec.State), value)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get implements the Store interface.
func (s *BoltStore) Get(_ context.Context, state string) (*CallbackRecord, error) {
	const op = "BoltStore.Get"
	now := s.now()
	key := []byte(keyPrefix + state)
	var value []byte
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if v := b.Get(key); v != nil {
			value = append(v[:0:0], v...) // only valid in transaction
		}
		if err := s.sweep(b, now); err != nil {
			return err
		}
		return b.Delete(key)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if value == nil {
		return nil, nil
	}
	var r CallbackRecord
	if err := json.Unmarshal(value, &r); err != nil {
		return nil, nil
	}
	if r.ExpiresAt.IsZero() || r.IsExpired(now) {
		return nil, nil
	}
	return &r, nil
}

// sweep removes every record that is expired, has no expiration or can't be
// decoded. Deleting an already deleted key is a no-op, so it's idempotent.
func (s *BoltStore) sweep(b *bolt.Bucket, now time.Time) error {
	prefix := []byte(keyPrefix)
	var stale [][]byte
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var r struct {
			ExpiresAt time.Time `json:"expires"`
		}
		if err := json.Unmarshal(v, &r); err != nil || r.ExpiresAt.IsZero() || !r.ExpiresAt.After(now) {
			stale = append(stale, append(k[:0:0], k...))
		}
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

type boltOptions struct {
	withBucket      string
	withTTL         time.Duration
	withOpenTimeout time.Duration
	withNowFunc     func() time.Time
}

func boltDefaults() boltOptions {
	return boltOptions{
		withBucket:      DefaultBoltBucket,
		withTTL:         DefaultBoltTTL,
		withOpenTimeout: DefaultBoltOpenTimeout,
		withNowFunc:     time.Now,
	}
}

func getBoltOpts(opt ...Option) boltOptions {
	opts := boltDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
