// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/kcflow/kcflow/oidc/internal/strutils"
)

// ResponseMode is how the provider returns the authorization response
// parameters to the redirect URI.
type ResponseMode string

const (
	// ResponseModeFragment returns the parameters in the redirect URI's
	// fragment. It's the default.
	ResponseModeFragment ResponseMode = "fragment"

	// ResponseModeQuery returns the parameters in the redirect URI's query.
	// It's the only mode a server side callback handler can see.
	ResponseModeQuery ResponseMode = "query"
)

// Valid returns true when the mode is supported.
func (m ResponseMode) Valid() bool {
	return m == ResponseModeFragment || m == ResponseModeQuery
}

// Config represents the configuration of a public client using the
// authorization code flow against a single Keycloak realm.
type Config struct {
	// AuthServerURL is the base URL of the Keycloak server, for example:
	// https://auth.example.com or https://example.com/auth. Trailing slashes
	// are ignored.
	AuthServerURL string

	// Realm is the realm name.
	Realm string

	// ClientID is the relying party id.
	ClientID string

	// RedirectURI is an optional redirect URI. When it's empty, the origin
	// root of AppURL is used.
	RedirectURI string

	// ResponseMode is how the provider returns the callback parameters.
	// NewKeycloak treats an empty mode as ResponseModeFragment.
	ResponseMode ResponseMode

	// AppURL is the application's own URL. It's used to derive a default
	// redirect URI and the origin of the cookie store.
	AppURL string
}

// NewConfig composes a new config for a realm and client.
//
// Supported options: WithRedirectURI, WithResponseMode, WithAppURL
func NewConfig(authServerURL, realm, clientID string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		AuthServerURL: authServerURL,
		Realm:         realm,
		ClientID:      clientID,
		RedirectURI:   opts.withRedirectURI,
		ResponseMode:  opts.withResponseMode,
		AppURL:        opts.withAppURL,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return c, nil
}

// keycloakJSON is the subset of a Keycloak adapter config file (keycloak.json)
// that applies to a public client.
type keycloakJSON struct {
	AuthServerURL string `json:"auth-server-url"`
	Realm         string `json:"realm"`
	Resource      string `json:"resource"`
}

// NewConfigFromJSON composes a new config from the contents of a Keycloak
// adapter config file, as downloaded from the client's "Action > Download
// adapter config" menu.
//
// Supported options: WithRedirectURI, WithResponseMode, WithAppURL
func NewConfigFromJSON(data []byte, opt ...Option) (*Config, error) {
	const op = "NewConfigFromJSON"
	var kc keycloakJSON
	if err := json.Unmarshal(data, &kc); err != nil {
		return nil, fmt.Errorf("%s: unable to parse adapter config: %w", op, err)
	}
	c, err := NewConfig(kc.AuthServerURL, kc.Realm, kc.Resource, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// Validate the configuration. It doesn't verify the server is reachable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	switch {
	case c.AuthServerURL == "":
		return fmt.Errorf("%s: auth server url is empty: %w", op, ErrInvalidParameter)
	case c.Realm == "":
		return fmt.Errorf("%s: realm is empty: %w", op, ErrInvalidParameter)
	case c.ClientID == "":
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	case !c.ResponseMode.Valid():
		return fmt.Errorf("%s: unsupported response mode %q: %w", op, c.ResponseMode, ErrInvalidParameter)
	case c.RedirectURI == "" && c.AppURL == "":
		return fmt.Errorf("%s: one of redirect uri or app url is required: %w", op, ErrInvalidParameter)
	}
	if err := validateHTTPURL(c.AuthServerURL); err != nil {
		return fmt.Errorf("%s: auth server url: %w", op, err)
	}
	if c.AppURL != "" {
		if err := validateHTTPURL(c.AppURL); err != nil {
			return fmt.Errorf("%s: app url: %w", op, err)
		}
	}
	if c.RedirectURI != "" {
		if _, err := url.Parse(c.RedirectURI); err != nil {
			return fmt.Errorf("%s: redirect uri %q is invalid: %w", op, c.RedirectURI, ErrInvalidParameter)
		}
	}
	return nil
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("%q is invalid: %w", s, ErrInvalidParameter)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("%q scheme is not http or https: %w", s, ErrInvalidParameter)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host: %w", s, ErrInvalidParameter)
	}
	return nil
}

// RealmURL returns the realm's base URL: the auth server URL without trailing
// slashes, followed by /realms/ and the path escaped realm name.
func (c *Config) RealmURL() string {
	return strings.TrimRight(c.AuthServerURL, "/") + "/realms/" + url.PathEscape(c.Realm)
}

// ResolvedRedirectURI returns the configured RedirectURI, or the origin root
// of AppURL when it isn't set.
func (c *Config) ResolvedRedirectURI() (string, error) {
	const op = "Config.ResolvedRedirectURI"
	if c.RedirectURI != "" {
		return c.RedirectURI, nil
	}
	u, err := url.Parse(c.AppURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%s: app url %q is invalid: %w", op, c.AppURL, ErrInvalidParameter)
	}
	return u.ResolveReference(&url.URL{Path: "/"}).String(), nil
}

// appOrigin returns the scheme and host of AppURL, falling back to the
// redirect URI's.
func (c *Config) appOrigin() (string, error) {
	const op = "Config.appOrigin"
	raw := c.AppURL
	if raw == "" {
		raw = c.RedirectURI
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s: unable to determine origin from %q: %w", op, raw, ErrInvalidParameter)
	}
	return u.Scheme + "://" + u.Host, nil
}

// configOptions is the set of available options for NewConfig
type configOptions struct {
	withRedirectURI  string
	withResponseMode ResponseMode
	withAppURL       string
}

// configDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func configDefaults() configOptions {
	return configOptions{
		withResponseMode: ResponseModeFragment,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRedirectURI provides an optional redirect URI.
//
// Valid for: Config
func WithRedirectURI(uri string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRedirectURI = uri
		}
	}
}

// WithResponseMode provides an optional response mode. The default is
// ResponseModeFragment.
//
// Valid for: Config
func WithResponseMode(m ResponseMode) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withResponseMode = m
		}
	}
}

// WithAppURL provides the application's own URL.
//
// Valid for: Config
func WithAppURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAppURL = u
		}
	}
}
