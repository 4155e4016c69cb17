// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"net/http"
	"time"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
//
// Valid for: MemoryStore, BoltStore and CookieStore
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *memoryOptions:
			v.withNowFunc = now
		case *boltOptions:
			v.withNowFunc = now
		case *cookieOptions:
			v.withNowFunc = now
		}
	}
}

// WithTTL overrides the store's default time to live for records.
//
// Valid for: BoltStore and CookieStore
func WithTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *boltOptions:
			v.withTTL = ttl
		case *cookieOptions:
			v.withTTL = ttl
		}
	}
}

// WithBucket provides an optional bucket name for the BoltStore.
func WithBucket(name string) Option {
	return func(o interface{}) {
		if v, ok := o.(*boltOptions); ok {
			v.withBucket = name
		}
	}
}

// WithOpenTimeout is how long the BoltStore waits for the database file lock
// before giving up.
func WithOpenTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*boltOptions); ok {
			v.withOpenTimeout = d
		}
	}
}

// WithCookieJar provides the jar the CookieStore keeps its cookies in. A new
// in-memory jar is used when it isn't provided.
func WithCookieJar(jar http.CookieJar) Option {
	return func(o interface{}) {
		if v, ok := o.(*cookieOptions); ok {
			v.withJar = jar
		}
	}
}

// WithHashKey provides the key used to authenticate cookie values. A random
// key is generated when it isn't provided, which means cookies can only be
// read back by the same CookieStore.
func WithHashKey(key []byte) Option {
	return func(o interface{}) {
		if v, ok := o.(*cookieOptions); ok {
			v.withHashKey = key
		}
	}
}

// WithBlockKey provides an optional key used to encrypt cookie values. It must
// be 16, 24 or 32 bytes.
func WithBlockKey(key []byte) Option {
	return func(o interface{}) {
		if v, ok := o.(*cookieOptions); ok {
			v.withBlockKey = key
		}
	}
}
