// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/net/publicsuffix"
)

// DefaultCookieTTL is how long a CookieStore cookie lives.
const DefaultCookieTTL = 60 * time.Minute

// CookieStore keeps one short lived cookie per record in a cookie jar scoped
// to the application's origin. Cookie values are JSON encoded and
// authenticated (and optionally encrypted) with securecookie.
type CookieStore struct {
	mu     sync.Mutex
	origin *url.URL
	jar    http.CookieJar
	codec  *securecookie.SecureCookie
	ttl    time.Duration
	now    func() time.Time
}

// ensure that CookieStore implements the Store interface
var _ Store = (*CookieStore)(nil)

// NewCookieStore creates a CookieStore for the application origin (an http or
// https URL). Supports the options: WithCookieJar, WithHashKey, WithBlockKey,
// WithTTL and WithNow.
func NewCookieStore(origin string, opt ...Option) (*CookieStore, error) {
	const op = "store.NewCookieStore"
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("%s: origin %q is invalid: %w", op, origin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%s: origin %q must be an absolute http(s) url: %w", op, origin, ErrInvalidParameter)
	}
	opts := getCookieOpts(opt...)
	if opts.withTTL <= 0 {
		return nil, fmt.Errorf("%s: ttl must be greater than zero: %w", op, ErrInvalidParameter)
	}
	jar := opts.withJar
	if jar == nil {
		jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("%s: unable to create cookie jar: %w", op, err)
		}
	}
	hashKey := opts.withHashKey
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
		if hashKey == nil {
			return nil, fmt.Errorf("%s: unable to generate hash key: %w", op, ErrInvalidParameter)
		}
	}
	codec := securecookie.New(hashKey, opts.withBlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(opts.withTTL / time.Second))

	return &CookieStore{
		origin: &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"},
		jar:    jar,
		codec:  codec,
		ttl:    opts.withTTL,
		now:    opts.withNowFunc,
	}, nil
}

// CookieFactory returns a Factory for a CookieStore for the origin.
func CookieFactory(origin string, opt ...Option) Factory {
	return func() (Store, error) {
		return NewCookieStore(origin, opt...)
	}
}

// Add implements the Store interface. ExpiresAt is set from the store's TTL
// when it's zero.
func (s *CookieStore) Add(_ context.Context, r *CallbackRecord) error {
	const op = "CookieStore.Add"
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	rec := *r
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(s.ttl)
	}
	name := keyPrefix + rec.State
	value, err := s.codec.Encode(name, &rec)
	if err != nil {
		return fmt.Errorf("%s: unable to encode record: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar.SetCookies(s.origin, []*http.Cookie{s.makeCookie(name, value, rec.ExpiresAt)})
	return nil
}

// Get implements the Store interface. The cookie is always expired, even
// when its value can't be decoded.
func (s *CookieStore) Get(_ context.Context, state string) (*CallbackRecord, error) {
	const op = "CookieStore.Get"
	name := keyPrefix + state
	now := s.now()

	s.mu.Lock()
	var value string
	for _, c := range s.jar.Cookies(s.origin) {
		if c.Name == name {
			value = c.Value
			break
		}
	}
	gone := s.makeCookie(name, "", now.Add(-100*time.Minute))
	gone.MaxAge = -1
	s.jar.SetCookies(s.origin, []*http.Cookie{gone})
	s.mu.Unlock()

	if value == "" {
		return nil, nil
	}
	var r CallbackRecord
	if err := s.codec.Decode(name, value, &r); err != nil {
		if securecookie.IsDecode(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if r.State != state || r.IsExpired(now) {
		return nil, nil
	}
	return &r, nil
}

func (s *CookieStore) makeCookie(name, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		Secure:   strings.EqualFold(s.origin.Scheme, "https"),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

type cookieOptions struct {
	withJar      http.CookieJar
	withHashKey  []byte
	withBlockKey []byte
	withTTL      time.Duration
	withNowFunc  func() time.Time
}

func cookieDefaults() cookieOptions {
	return cookieOptions{
		withTTL:     DefaultCookieTTL,
		withNowFunc: time.Now,
	}
}

func getCookieOpts(opt ...Option) cookieOptions {
	opts := cookieDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
