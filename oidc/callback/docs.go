// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides callbacks (in the form of http.HandlerFunc)
for handling Keycloak responses to authorization code flow (with optional
PKCE) authentication attempts. Only oidc.ResponseModeQuery responses can be
handled: a fragment never reaches the server.
*/
package callback
