// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is a client for the OpenID Connect Authorization Code Flow
against a Keycloak realm, for public clients which hand the tokens they get to
a resource server. Token signatures are not verified: that's the resource
server's job.

Primary types provided by the package:

* Config: the auth server URL, realm, client id, redirect URI and response
mode of a client. It can be read from a Keycloak adapter config file with
NewConfigFromJSON.

* Keycloak: issues login, registration, logout and account URLs, processes
the callback URL the provider redirects back to and refreshes tokens. Every
login URL gets a fresh state and nonce (and optionally a PKCE verifier) which
are kept in a store.Store until the callback consumes them.

* TokenSet: the access_token, id_token and refresh_token of a successful
exchange, with their decoded claims and the local time they were received.

* Transport: posts token requests. HTTPTransport is the default.

The oidc/store package provides the callback stores and the oidc/callback
package provides an http.HandlerFunc for callbacks using ResponseModeQuery.

Processing a callback

	kc, err := oidc.NewKeycloak(cfg)
	if err != nil {
		// handle error
	}
	defer kc.Close()

	loginURL, err := kc.LoginURL(ctx, oidc.WithPKCE(oidc.S256))
	// send the user to loginURL, then with the URL they're redirected to:
	res, err := kc.ProcessCallback(ctx, callbackURL)
	switch {
	case err != nil:
		// *ProviderError, *CallbackValidationError or *TransportError
	case res.Outcome == oidc.NotCallback:
		// a normal request
	case res.Outcome == oidc.SilentAuthDenied:
		// prompt=none and the user isn't logged in
	case res.Outcome == oidc.Authenticated:
		// use res.Tokens and replace the location with res.NewURL
	}

Examples

* CLI: oidc/examples/cli/
*/
package oidc
