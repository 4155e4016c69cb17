// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
)

// maxResponseSize is the largest token endpoint response body that's read.
const maxResponseSize = 1 << 20

// Transport posts a form to an endpoint and returns the decoded JSON object
// it responds with. Failed requests return a *TransportError. Implementations
// must not retry.
type Transport interface {
	PostForm(ctx context.Context, endpoint string, form url.Values) (map[string]interface{}, error)
}

// HTTPTransport is the default Transport.
type HTTPTransport struct {
	client *http.Client
}

// ensure that HTTPTransport implements the Transport interface
var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTPTransport using a pooled
// go-cleanhttp transport.
//
// Supported options: WithProviderCA, WithCookieJar, WithHTTPClient
func NewHTTPTransport(opt ...Option) (*HTTPTransport, error) {
	const op = "NewHTTPTransport"
	opts := getTransportOpts(opt...)
	if opts.withHTTPClient != nil {
		if opts.withProviderCA != "" || opts.withCookieJar != nil {
			return nil, fmt.Errorf("%s: provider CA and cookie jar can't be used with a client: %w", op, ErrInvalidParameter)
		}
		return &HTTPTransport{client: opts.withHTTPClient}, nil
	}

	tr := cleanhttp.DefaultPooledTransport()
	if opts.withProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(opts.withProviderCA)); !ok {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &HTTPTransport{
		client: &http.Client{
			Transport: tr,
			Jar:       opts.withCookieJar,
		},
	}, nil
}

// Client returns the transport's http client.
func (t *HTTPTransport) Client() *http.Client { return t.client }

// PostForm implements the Transport interface.
func (t *HTTPTransport) PostForm(ctx context.Context, endpoint string, form url.Values) (map[string]interface{}, error) {
	const op = "HTTPTransport.PostForm"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, &TransportError{
			Wrapped: fmt.Errorf("%w: %w", ErrTokenRequestFailed, err),
		})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, &TransportError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Wrapped:    fmt.Errorf("%w: unable to read response: %w", ErrTokenRequestFailed, err),
		})
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("%s: %w", op, &TransportError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Wrapped:    fmt.Errorf("%w: response exceeds %d bytes", ErrTokenRequestFailed, maxResponseSize),
		})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		tErr := &TransportError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Wrapped:    ErrTokenRequestFailed,
		}
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			tErr.ErrorCode = oauthErr.Error
			tErr.Description = oauthErr.ErrorDescription
		}
		return nil, fmt.Errorf("%s: %w", op, tErr)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil || out == nil {
		if err == nil {
			err = errors.New("response is not a json object")
		}
		return nil, fmt.Errorf("%s: %w", op, &TransportError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Wrapped:    fmt.Errorf("%w: unable to decode response: %w", ErrTokenRequestFailed, err),
		})
	}
	return out, nil
}

// transportOptions is the set of available options for NewHTTPTransport
type transportOptions struct {
	withProviderCA string
	withCookieJar  http.CookieJar
	withHTTPClient *http.Client
}

func transportDefaults() transportOptions {
	return transportOptions{}
}

func getTransportOpts(opt ...Option) transportOptions {
	opts := transportDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithProviderCA provides an optional PEM encoded CA certificate to use when
// sending requests to the provider.
//
// Valid for: HTTPTransport
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*transportOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithCookieJar provides an optional cookie jar which is sent with and updated
// by token requests.
//
// Valid for: HTTPTransport
func WithCookieJar(jar http.CookieJar) Option {
	return func(o interface{}) {
		if o, ok := o.(*transportOptions); ok {
			o.withCookieJar = jar
		}
	}
}

// WithHTTPClient provides an optional http client. It can't be combined with
// WithProviderCA or WithCookieJar.
//
// Valid for: HTTPTransport
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if o, ok := o.(*transportOptions); ok {
			o.withHTTPClient = c
		}
	}
}
