// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"io"

	"golang.org/x/oauth2"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the only supported method. The "plain" method is insecure and
	// isn't supported.
	S256 ChallengeMethod = "S256"
)

const (
	// verifierLen is the default length of a generated verifier. RFC 7636
	// requires the verifier to be between 43 and 128 characters.
	verifierLen    = 96
	minVerifierLen = 43
	maxVerifierLen = 128

	verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// CodeVerifier represents an OAuth PKCE code verifier.
//
// See: https://www.rfc-editor.org/rfc/rfc7636.html#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier (see:
	// https://tools.ietf.org/html/rfc7636#section-4.1)
	Verifier() string

	// Challenge returns the code verifier's code challenge (see:
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Challenge() string

	// Method returns the code verifier's challenge method (see
	// https://tools.ietf.org/html/rfc7636#section-4.2)
	Method() ChallengeMethod
}

// S256Verifier represents an OAuth PKCE code verifier that uses the S256
// challenge method. It implements the CodeVerifier interface.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new CodeVerifier (*S256Verifier) from random
// characters read from r.
//
// Supports the WithVerifierLength option.
func NewCodeVerifier(r io.Reader, opt ...Option) (*S256Verifier, error) {
	const op = "NewCodeVerifier"
	opts := getVerifierOpts(opt...)
	if opts.withLength < minVerifierLen || opts.withLength > maxVerifierLen {
		return nil, fmt.Errorf("%s: verifier length %d is not between %d and %d: %w", op, opts.withLength, minVerifierLen, maxVerifierLen, ErrInvalidParameter)
	}
	v, err := RandomString(r, opts.withLength, verifierAlphabet)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate verifier: %w", op, err)
	}
	c, err := CreateCodeChallenge(S256, v)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create code challenge: %w", op, err)
	}
	return &S256Verifier{
		verifier:  v,
		challenge: c,
		method:    S256,
	}, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// CreateCodeChallenge creates a code challenge from the verifier. Only the
// S256 method is supported: the challenge is the unpadded base64url encoding
// of the SHA-256 digest of the verifier.
//
// See: https://www.rfc-editor.org/rfc/rfc7636.html#section-4.2
func CreateCodeChallenge(method ChallengeMethod, verifier string) (string, error) {
	const op = "CreateCodeChallenge"
	switch method {
	case S256:
		return oauth2.S256ChallengeFromVerifier(verifier), nil
	default:
		return "", fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}

// verifierOptions is the set of available options for NewCodeVerifier
type verifierOptions struct {
	withLength int
}

// verifierDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func verifierDefaults() verifierOptions {
	return verifierOptions{
		withLength: verifierLen,
	}
}

// getVerifierOpts gets the verifier defaults and applies the opt overrides
// passed in.
func getVerifierOpts(opt ...Option) verifierOptions {
	opts := verifierDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithVerifierLength provides an optional length for a generated PKCE code
// verifier. It must be between 43 and 128.
//
// Valid for: NewCodeVerifier
func WithVerifierLength(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*verifierOptions); ok {
			o.withLength = n
		}
	}
}
