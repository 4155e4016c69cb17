// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a map backed Store, mostly useful for tests and for
// processes that issue and consume login URLs themselves. It doesn't assign
// a TTL, but it won't return a record whose ExpiresAt has passed.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]CallbackRecord
	now     func() time.Time
}

// ensure that MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. Supports the WithNow option.
func NewMemoryStore(opt ...Option) *MemoryStore {
	opts := getMemoryOpts(opt...)
	return &MemoryStore{
		records: map[string]CallbackRecord{},
		now:     opts.withNowFunc,
	}
}

// MemoryFactory returns a Factory for a new MemoryStore.
func MemoryFactory(opt ...Option) Factory {
	return func() (Store, error) {
		return NewMemoryStore(opt...), nil
	}
}

// Add implements the Store interface.
func (s *MemoryStore) Add(_ context.Context, r *CallbackRecord) error {
	const op = "MemoryStore.Add"
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.State] = *r
	return nil
}

// Get implements the Store interface.
func (s *MemoryStore) Get(_ context.Context, state string) (*CallbackRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[state]
	if !ok {
		return nil, nil
	}
	delete(s.records, state)
	if r.IsExpired(s.now()) {
		return nil, nil
	}
	return &r, nil
}

// Len returns the number of records held, including expired ones that
// haven't been read yet.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type memoryOptions struct {
	withNowFunc func() time.Time
}

func memoryDefaults() memoryOptions {
	return memoryOptions{
		withNowFunc: time.Now,
	}
}

func getMemoryOpts(opt ...Option) memoryOptions {
	opts := memoryDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
