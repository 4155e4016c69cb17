// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrStateNotFound              = errors.New("no stored state matching callback")
	ErrMissingCode                = errors.New("authorization code is missing")
	ErrMissingAccessToken         = errors.New("access_token is missing")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrMalformedToken             = errors.New("malformed token")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrLoginFailed                = errors.New("login failed")
	ErrTokenRequestFailed         = errors.New("token request failed")
)

// ProviderError is returned by Keycloak.ProcessCallback when the provider
// redirected back with an OAuth2 error response. See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type ProviderError struct {
	Code        string
	Description string
	URI         string

	// NewURL is the callback URL with the oauth parameters removed.
	NewURL string
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("provider error: ")
	b.WriteString(e.Code)
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	return b.String()
}

// Unwrap allows errors.Is(err, ErrLoginFailed)
func (e *ProviderError) Unwrap() error { return ErrLoginFailed }

// CallbackValidationError is returned when a callback can't be trusted: its
// state is unknown or expired, the code is missing, or a returned token's
// nonce doesn't match the stored nonce. NewURL is still populated so the
// caller can clean up its location/history.
type CallbackValidationError struct {
	Msg    string
	NewURL string

	Wrapped error
}

func (e *CallbackValidationError) Error() string {
	switch {
	case e.Wrapped != nil && e.Msg != "":
		return fmt.Sprintf("callback validation failed: %s: %s", e.Msg, e.Wrapped)
	case e.Wrapped != nil:
		return fmt.Sprintf("callback validation failed: %s", e.Wrapped)
	default:
		return fmt.Sprintf("callback validation failed: %s", e.Msg)
	}
}

func (e *CallbackValidationError) Unwrap() error { return e.Wrapped }

// TransportError is returned by a Transport when the token endpoint request
// fails. StatusCode is zero when no response was received.
type TransportError struct {
	StatusCode int
	Status     string

	// ErrorCode and Description are the OAuth2 "error" and
	// "error_description" from the response body, when present.
	ErrorCode   string
	Description string

	Wrapped error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	if e.StatusCode == 0 {
		b.WriteString("request failed")
	} else {
		fmt.Fprintf(&b, "request failed with %d %s", e.StatusCode, strings.TrimSpace(strings.TrimPrefix(e.Status, fmt.Sprint(e.StatusCode))))
	}
	if e.ErrorCode != "" {
		fmt.Fprintf(&b, ": %s", e.ErrorCode)
		if e.Description != "" {
			fmt.Fprintf(&b, ": %s", e.Description)
		}
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, ": %s", e.Wrapped)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Wrapped }
