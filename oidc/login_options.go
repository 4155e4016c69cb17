// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"strings"

	"golang.org/x/text/language"
)

// ActionRegister is the action that sends the user to the registration
// endpoint instead of the authorization endpoint.
const ActionRegister = "register"

// loginOptions is the set of available options for Keycloak.LoginURL and
// Keycloak.RegisterURL
type loginOptions struct {
	withScopes    []string
	withPrompt    string
	withMaxAge    *uint
	withLoginHint string
	withIDPHint   string
	withAction    string
	withUILocales []language.Tag
	withACR       string
	withPKCE      ChallengeMethod
}

func loginDefaults() loginOptions {
	return loginOptions{}
}

func getLoginOpts(opt ...Option) loginOptions {
	opts := loginDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides optional scopes to request in addition to "openid".
// Each value may hold several space separated scopes. Duplicates are
// removed.
//
// Valid for: Keycloak.LoginURL and Keycloak.RegisterURL
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			for _, s := range scopes {
				o.withScopes = append(o.withScopes, strings.Fields(s)...)
			}
		}
	}
}

// WithPrompt provides an optional prompt, for example "login" or "none". When
// it's "none", an error returned to the callback is a SilentAuthDenied outcome
// and not an error.
//
// Valid for: Keycloak.LoginURL and Keycloak.RegisterURL
func WithPrompt(prompt string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withPrompt = prompt
		}
	}
}

// WithMaxAge provides an optional max_age in seconds. Zero is a valid value
// and forces the user to authenticate again.
//
// Valid for: Keycloak.LoginURL and Keycloak.RegisterURL
func WithMaxAge(seconds uint) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withMaxAge = &seconds
		}
	}
}

// WithLoginHint provides an optional login_hint, usually the user's username
// or email.
//
// Valid for: Keycloak.LoginURL and Keycloak.RegisterURL
func WithLoginHint(hint string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withLoginHint = hint
		}
	}
}

// WithIDPHint provides an optional kc_idp_hint, the alias of an identity
// provider to redirect to directly.
//
// Valid for: Keycloak.LoginURL and Keycloak.RegisterURL
func WithIDPHint(alias string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withIDPHint = alias
		}
	}
}

// WithAction provides an optional application initiated action, for example
// "UPDATE_PASSWORD", sent as kc_action. ActionRegister uses the registration
// endpoint instead.
//
// Valid for: Keycloak.LoginURL
func WithAction(action string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withAction = action
		}
	}
}

// WithUILocales provides optional preferred languages for the login pages.
//
// Valid for: Keycloak.LoginURL and Keycloak.RegisterURL
func WithUILocales(tags ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withUILocales = append(o.withUILocales, tags...)
		}
	}
}

// WithACR provides an optional Authentication Context Class Reference which
// is requested for the id_token using the claims parameter.
//
// Valid for: Keycloak.LoginURL and Keycloak.RegisterURL
func WithACR(acr string) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withACR = acr
		}
	}
}

// WithPKCE requests the login use PKCE with the challenge method. Only S256 is
// supported.
//
// Valid for: Keycloak.LoginURL and Keycloak.RegisterURL
func WithPKCE(method ChallengeMethod) Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.withPKCE = method
		}
	}
}

// logoutOptions is the set of available options for Keycloak.LogoutURL
type logoutOptions struct {
	withIDTokenHint IDToken
}

func logoutDefaults() logoutOptions {
	return logoutOptions{}
}

func getLogoutOpts(opt ...Option) logoutOptions {
	opts := logoutDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithIDTokenHint provides an optional id_token_hint, the id_token of the
// session being ended.
//
// Valid for: Keycloak.LogoutURL
func WithIDTokenHint(t IDToken) Option {
	return func(o interface{}) {
		if o, ok := o.(*logoutOptions); ok {
			o.withIDTokenHint = t
		}
	}
}
