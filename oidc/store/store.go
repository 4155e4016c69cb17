// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrNoBackend        = errors.New("no usable callback store backend")
)

// keyPrefix is prepended to the state of every stored record.
const keyPrefix = "kc-callback-"

// CallbackRecord is the data kept for one in-flight login attempt, keyed by
// its State. It's written when a login URL is issued and consumed when the
// matching callback is processed.
type CallbackRecord struct {
	// State is the opaque correlation value sent in the authorization
	// request and echoed back by the provider.
	State string `json:"state"`

	// Nonce must reappear in the claims of the returned tokens.
	Nonce string `json:"nonce"`

	// RedirectURI is the exact redirect_uri used for the attempt; it must be
	// sent again in the token exchange.
	RedirectURI string `json:"redirectUri"`

	// Prompt is the prompt requested for the attempt, if any. A "none"
	// prompt turns provider errors into a silent negative result.
	Prompt string `json:"prompt,omitempty"`

	// PKCECodeVerifier is the verifier paired with the challenge sent in the
	// authorization request, if PKCE was used.
	PKCECodeVerifier string `json:"pkceCodeVerifier,omitempty"`

	// ExpiresAt is when the record expires. Stores set it from their TTL
	// when it's zero.
	ExpiresAt time.Time `json:"expires"`
}

// Validate the record has the fields every backend requires.
func (r *CallbackRecord) Validate() error {
	const op = "CallbackRecord.Validate"
	switch {
	case r == nil:
		return fmt.Errorf("%s: record is nil: %w", op, ErrNilParameter)
	case r.State == "":
		return fmt.Errorf("%s: state is empty: %w", op, ErrInvalidParameter)
	case r.Nonce == "":
		return fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	case r.RedirectURI == "":
		return fmt.Errorf("%s: redirect uri is empty: %w", op, ErrInvalidParameter)
	}
	return nil
}

// IsExpired returns true when the record has an expiration that isn't after
// now.
func (r *CallbackRecord) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}

// Store persists pending CallbackRecords. Implementations must be
// concurrently safe.
type Store interface {
	// Add stores the record under its State.
	Add(ctx context.Context, r *CallbackRecord) error

	// Get returns the record for the state and removes it, so a record can
	// be consumed at most once. It returns nil, nil when there's no record
	// or the record is expired.
	Get(ctx context.Context, state string) (*CallbackRecord, error)
}

// Factory constructs a Store, returning an error when the backend isn't
// usable in the current environment.
type Factory func() (Store, error)

// New returns the Store produced by the first factory that succeeds. If every
// factory fails, the returned error wraps ErrNoBackend and includes each
// attempt's error. There is no no-op fallback.
func New(factories ...Factory) (Store, error) {
	const op = "store.New"
	var retErr *multierror.Error
	for i, f := range factories {
		if f == nil {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: factory %d is nil: %w", op, i, ErrNilParameter))
			continue
		}
		s, err := f()
		if err != nil {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: factory %d: %w", op, i, err))
			continue
		}
		if s == nil {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: factory %d returned a nil store: %w", op, i, ErrNilParameter))
			continue
		}
		return s, nil
	}
	if retErr == nil {
		return nil, fmt.Errorf("%s: no factories provided: %w", op, ErrNoBackend)
	}
	return nil, fmt.Errorf("%s: %w: %w", op, ErrNoBackend, retErr.ErrorOrNil())
}
