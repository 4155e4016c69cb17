// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/rand"
	"fmt"
	"io"
	mathrand "math/rand/v2"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// randomReader reads from a (normally cryptographically strong) source and
// degrades to math/rand when that source fails. The fallback weakens the
// unguessability of state, nonce and PKCE verifiers, so it's logged.
type randomReader struct {
	src    io.Reader
	logger hclog.Logger
	warn   sync.Once
}

// NewRandomReader returns an io.Reader over src (crypto/rand.Reader when nil)
// which never fails: if src returns an error the bytes are generated with a
// non-cryptographic PRNG instead and a warning is written to the logger.
func NewRandomReader(src io.Reader, logger hclog.Logger) io.Reader {
	if src == nil {
		src = rand.Reader
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &randomReader{src: src, logger: logger}
}

func (r *randomReader) Read(p []byte) (int, error) {
	if _, err := io.ReadFull(r.src, p); err != nil {
		r.warn.Do(func() {
			r.logger.Warn("generating random data failed, falling back to an insecure generator", "error", err)
		})
		insecureRandomBytes(p)
	}
	return len(p), nil
}

func insecureRandomBytes(p []byte) {
	for i := range p {
		p[i] = byte(mathrand.IntN(256))
	}
}

// RandomString returns n characters from alphabet, one per random byte read
// from r (byte modulo alphabet length).
func RandomString(r io.Reader, n int, alphabet string) (string, error) {
	const op = "oidc.RandomString"
	switch {
	case r == nil:
		return "", fmt.Errorf("%s: random reader is nil: %w", op, ErrNilParameter)
	case n <= 0:
		return "", fmt.Errorf("%s: length must be greater than zero: %w", op, ErrInvalidParameter)
	case alphabet == "":
		return "", fmt.Errorf("%s: alphabet is empty: %w", op, ErrInvalidParameter)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIDGeneratorFailed, err)
	}
	chars := make([]byte, n)
	for i, b := range data {
		chars[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(chars), nil
}

// NewUUID generates a version 4 UUID from r. It's used for the state and
// nonce of a login attempt.
func NewUUID(r io.Reader) (string, error) {
	const op = "oidc.NewUUID"
	if r == nil {
		return "", fmt.Errorf("%s: random reader is nil: %w", op, ErrNilParameter)
	}
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrIDGeneratorFailed, err)
	}
	return id.String(), nil
}
