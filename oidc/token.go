// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
)

// Claims are the decoded claims of a token.
type Claims map[string]interface{}

func (c Claims) str(key string) string {
	s, _ := c[key].(string)
	return s
}

func (c Claims) numericDate(key string) time.Time {
	var secs float64
	switch v := c[key].(type) {
	case float64:
		secs = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}
		}
		secs = f
	default:
		return time.Time{}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9))
}

// Nonce returns the "nonce" claim.
func (c Claims) Nonce() string { return c.str("nonce") }

// Issuer returns the "iss" claim.
func (c Claims) Issuer() string { return c.str("iss") }

// Subject returns the "sub" claim.
func (c Claims) Subject() string { return c.str("sub") }

// SessionState returns Keycloak's "session_state" claim, or the "sid" claim
// when it isn't present.
func (c Claims) SessionState() string {
	if s := c.str("session_state"); s != "" {
		return s
	}
	return c.str("sid")
}

// IssuedAt returns the "iat" claim, or the zero time.
func (c Claims) IssuedAt() time.Time { return c.numericDate("iat") }

// Expiry returns the "exp" claim, or the zero time.
func (c Claims) Expiry() time.Time { return c.numericDate("exp") }

// TokenSet is the result of a successful code exchange or token refresh. The
// tokens are decoded, but their signatures are not verified: they're meant to
// be passed on to a resource server which must verify them.
type TokenSet struct {
	AccessToken  AccessToken
	IDToken      IDToken
	RefreshToken RefreshToken

	AccessTokenClaims Claims
	IDTokenClaims     Claims

	// RefreshTokenClaims is nil when no refresh token was issued.
	RefreshTokenClaims Claims

	// IssuedAtLocal is the local time the token response was received.
	IssuedAtLocal time.Time
}

// TimeSkew returns the difference between the local clock and the
// provider's, estimated from when the access token was received and its
// "iat" claim. It's zero when the access token has no "iat".
func (t *TokenSet) TimeSkew() time.Duration {
	iat := t.AccessTokenClaims.IssuedAt()
	if iat.IsZero() || t.IssuedAtLocal.IsZero() {
		return 0
	}
	return t.IssuedAtLocal.Truncate(time.Second).Sub(iat)
}

// ExpiresAtLocal returns when the access token expires on the local clock.
// It's the zero time when the access token has no "exp".
func (t *TokenSet) ExpiresAtLocal() time.Time {
	exp := t.AccessTokenClaims.Expiry()
	if exp.IsZero() {
		return time.Time{}
	}
	return exp.Add(t.TimeSkew())
}

// IsExpired returns true when, at the local time now, the access token
// expires within minValidity. A token without an "exp" claim never expires.
func (t *TokenSet) IsExpired(now time.Time, minValidity time.Duration) bool {
	exp := t.ExpiresAtLocal()
	if exp.IsZero() {
		return false
	}
	return exp.Sub(now) < minValidity
}

// UnmarshalClaims will retrieve the claims from the provided raw JWT token
// without verifying its signature.
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "UnmarshalClaims"
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	payload, err := tokenPayload(rawToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(payload, claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal claims: %w: %w", op, ErrMalformedToken, err)
	}
	return nil
}

// DecodeClaims decodes the claims of the raw JWT token without verifying its
// signature.
func DecodeClaims(rawToken string) (Claims, error) {
	const op = "DecodeClaims"
	var c Claims
	if err := UnmarshalClaims(rawToken, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%s: claims are not an object: %w", op, ErrMalformedToken)
	}
	return c, nil
}

// tokenPayload returns the decoded middle segment of a JWS compact
// serialization. The base64url payload is converted to standard base64 and
// padded before decoding, and a remainder of 1 is invalid.
func tokenPayload(rawToken string) ([]byte, error) {
	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token has %d segments, not 3: %w", len(parts), ErrMalformedToken)
	}
	s := strings.NewReplacer("-", "+", "_", "/").Replace(parts[1])
	switch len(s) % 4 {
	case 0:
	case 2:
		s += "=="
	case 3:
		s += "="
	default:
		return nil, fmt.Errorf("invalid payload length: %w", ErrMalformedToken)
	}
	payload, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("unable to decode payload: %w: %w", ErrMalformedToken, err)
	}
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid utf-8: %w", ErrMalformedToken)
	}
	return payload, nil
}

// parseTokenResponse checks the shape of a token endpoint response: an
// access_token and id_token are required and every returned token must decode.
// A missing refresh_token is only logged.
func parseTokenResponse(body map[string]interface{}, receivedAt time.Time, logger hclog.Logger) (*TokenSet, error) {
	const op = "parseTokenResponse"
	at, _ := body["access_token"].(string)
	if at == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAccessToken)
	}
	idt, _ := body["id_token"].(string)
	if idt == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIDToken)
	}
	rt, _ := body["refresh_token"].(string)
	if rt == "" {
		logger.Warn("token response did not include a refresh token")
	}

	ts := &TokenSet{
		AccessToken:   AccessToken(at),
		IDToken:       IDToken(idt),
		RefreshToken:  RefreshToken(rt),
		IssuedAtLocal: receivedAt,
	}
	var err error
	if ts.AccessTokenClaims, err = DecodeClaims(at); err != nil {
		return nil, fmt.Errorf("%s: access_token: %w", op, err)
	}
	if ts.IDTokenClaims, err = DecodeClaims(idt); err != nil {
		return nil, fmt.Errorf("%s: id_token: %w", op, err)
	}
	if rt != "" {
		if ts.RefreshTokenClaims, err = DecodeClaims(rt); err != nil {
			return nil, fmt.Errorf("%s: refresh_token: %w", op, err)
		}
	}
	return ts, nil
}
