// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"net/http"

	"github.com/kcflow/kcflow/oidc"
)

// SuccessResponseFunc is used by Callbacks to create a http response when the
// callback is successful.
//
// The function state parameter will contain the state that was returned as
// part of a successful oidc authentication response. The oidc.TokenSet is the
// result of a successful token exchange with the provider and newURL is the
// callback URL without the authentication response parameters, which is
// usually where the client should be redirected to. The function should use
// the http.ResponseWriter to send back whatever content (headers, html, JSON,
// etc) it wishes to the client that originated the oidc flow.
type SuccessResponseFunc func(state string, t *oidc.TokenSet, newURL string, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Callbacks to create a http response when the
// callback fails.
//
// The function receives the state returned as part of the oidc authentication
// response. It also gets parameters for the oidc authentication error response
// and/or the callback error raised while processing the request. A prompt=none
// login the provider denied has an error response and no error. The function
// should use the http.ResponseWriter to send back whatever content (headers,
// html, JSON, etc) it wishes to the client that originated the oidc flow.
type ErrorResponseFunc func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Uri         string `json:"error_uri,omitempty"`
}

func newAuthenErrorResponse(e *oidc.ProviderError) *AuthenErrorResponse {
	if e == nil {
		return nil
	}
	return &AuthenErrorResponse{
		Error:       e.Code,
		Description: e.Description,
		Uri:         e.URI,
	}
}
