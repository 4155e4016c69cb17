// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kcflow/kcflow/oidc"
)

// AuthCode creates an oidc authorization code callback handler which uses
// the Keycloak to process the request's URL: the "state" parameter is used
// to read the login attempt from the Keycloak's store and the "code" is
// exchanged for tokens. The Keycloak's response mode must be
// oidc.ResponseModeQuery.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
//
// The ctx provides values to the token exchange and is canceled along with
// the request's context.
func AuthCode(ctx context.Context, kc *oidc.Keycloak, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case kc == nil:
		return nil, fmt.Errorf("%s: keycloak is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if m := kc.Config().ResponseMode; m != oidc.ResponseModeQuery {
		return nil, fmt.Errorf("%s: response mode %q is not %q: %w", op, m, oidc.ResponseModeQuery, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		reqCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(req.Context(), cancel)
		defer stop()

		callbackURL := requestURL(req)
		params, _ := oidc.ParseCallbackURL(callbackURL, oidc.ResponseModeQuery)

		res, err := kc.ProcessCallback(reqCtx, callbackURL)
		if err != nil {
			var pErr *oidc.ProviderError
			if errors.As(err, &pErr) {
				eFn(params.State, newAuthenErrorResponse(pErr), err, w, req)
				return
			}
			eFn(params.State, nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		switch res.Outcome {
		case oidc.Authenticated:
			sFn(res.State, res.Tokens, res.NewURL, w, req)
		case oidc.SilentAuthDenied:
			eFn(res.State, newAuthenErrorResponse(res.Denial), nil, w, req)
		default:
			eFn(params.State, nil, fmt.Errorf("%s: request is not an authentication response: %w", op, oidc.ErrInvalidParameter), w, req)
		}
	}, nil
}

// requestURL rebuilds the absolute URL of the request.
func requestURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + req.Host + req.URL.RequestURI()
}
