// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

// kcflow provides a client for the OpenID Connect authorization code flow
// against a Keycloak realm: login, registration, logout and account URLs,
// callback processing with state and nonce checks, PKCE and token refresh.
//
// See the oidc package.
package kcflow
