// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"net/url"
	"strings"
)

// CallbackParams are the authorization response parameters found in a
// callback URL. A parameter that wasn't present is empty.
type CallbackParams struct {
	Code             string
	State            string
	SessionState     string
	Error            string
	ErrorDescription string
	ErrorURI         string

	// KCActionStatus is Keycloak's kc_action_status, returned after an
	// application initiated action (see WithAction).
	KCActionStatus string
}

// IsCallback returns true when either a code or a state was found.
func (p *CallbackParams) IsCallback() bool {
	return p != nil && (p.Code != "" || p.State != "")
}

func (p *CallbackParams) set(key, value string) {
	var dst *string
	switch key {
	case "code":
		dst = &p.Code
	case "state":
		dst = &p.State
	case "session_state":
		dst = &p.SessionState
	case "error":
		dst = &p.Error
	case "error_description":
		dst = &p.ErrorDescription
	case "error_uri":
		dst = &p.ErrorURI
	case "kc_action_status":
		dst = &p.KCActionStatus
	default:
		return
	}
	// the first occurrence wins
	if *dst == "" {
		*dst = value
	}
}

func isCallbackParam(key string) bool {
	switch key {
	case "code", "state", "session_state", "error", "error_description", "error_uri", "kc_action_status":
		return true
	}
	return false
}

// ParseCallbackURL extracts the authorization response parameters from
// rawURL and returns them with rawURL stripped of those parameters.
//
// In ResponseModeQuery the query (everything between '?' and '#') is parsed
// and any fragment is kept. In ResponseModeFragment everything after '#' is
// parsed. When the component the mode refers to isn't present, no parameters
// are returned and the URL is unchanged.
//
// Recognized values are percent decoded. Every other pair is kept as is and
// in its original order.
func ParseCallbackURL(rawURL string, mode ResponseMode) (*CallbackParams, string) {
	params := &CallbackParams{}
	fragmentIdx := strings.IndexByte(rawURL, '#')
	switch mode {
	case ResponseModeQuery:
		end := len(rawURL)
		if fragmentIdx != -1 {
			end = fragmentIdx
		}
		queryIdx := strings.IndexByte(rawURL[:end], '?')
		if queryIdx == -1 {
			return params, rawURL
		}
		remaining := parseCallbackParams(rawURL[queryIdx+1:end], params)
		newURL := rawURL[:queryIdx]
		if remaining != "" {
			newURL += "?" + remaining
		}
		return params, newURL + rawURL[end:]

	case ResponseModeFragment:
		if fragmentIdx == -1 {
			return params, rawURL
		}
		remaining := parseCallbackParams(rawURL[fragmentIdx+1:], params)
		newURL := rawURL[:fragmentIdx]
		if remaining != "" {
			newURL += "#" + remaining
		}
		return params, newURL
	}
	return params, rawURL
}

// parseCallbackParams sets the recognized pairs of s on params and returns
// the unrecognized pairs, joined with '&'.
func parseCallbackParams(s string, params *CallbackParams) string {
	if s == "" {
		return ""
	}
	var kept []string
	for _, pair := range strings.Split(s, "&") {
		key, value, _ := strings.Cut(pair, "=")
		if !isCallbackParam(key) {
			kept = append(kept, pair)
			continue
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		params.set(key, value)
	}
	return strings.Join(kept, "&")
}
