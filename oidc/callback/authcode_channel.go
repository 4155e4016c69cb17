// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/kcflow/kcflow/oidc"
)

// LoginResp is used by AuthCodeWithChannel. The callback writes its result
// to the returned <-chan LoginResp.
type LoginResp struct {
	Tokens *oidc.TokenSet // Tokens is populated when the callback successfully exchanges the auth code.
	Error  error          // Error is populated when there's an error during the callback
}

// AuthCodeWithChannel creates an oidc authorization code callback handler,
// like AuthCode, which also communicates the result by writing a LoginResp
// to a channel. Only the first callback is written to the channel, which is
// then closed. It's most appropriate when implementing a solution that
// invokes a localhost http listener within the same process that kicked off
// the authorization code flow, like a CLI.
//
// The SuccessResponseFunc and ErrorResponseFunc still create the responses.
// A prompt=none login the provider denied is written as an error wrapping
// oidc.ErrLoginFailed.
func AuthCodeWithChannel(ctx context.Context, kc *oidc.Keycloak, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (<-chan LoginResp, http.HandlerFunc, error) {
	const op = "callback.AuthCodeWithChannel"
	if sFn == nil {
		return nil, nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	if eFn == nil {
		return nil, nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}

	doneCh := make(chan LoginResp, 1)
	var once sync.Once
	send := func(r LoginResp) {
		once.Do(func() {
			doneCh <- r
			close(doneCh)
		})
	}

	successFn := func(state string, t *oidc.TokenSet, newURL string, w http.ResponseWriter, req *http.Request) {
		sFn(state, t, newURL, w, req)
		send(LoginResp{Tokens: t})
	}
	errorFn := func(state string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
		eFn(state, respErr, e, w, req)
		if e == nil && respErr != nil {
			e = fmt.Errorf("%s: silent authentication denied: %s: %w", op, respErr.Error, oidc.ErrLoginFailed)
		}
		send(LoginResp{Error: e})
	}

	h, err := AuthCode(ctx, kc, successFn, errorFn)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return doneCh, h, nil
}
