// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
	"github.com/kcflow/kcflow/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	// DefaultTestRealm is the realm served by a TestProvider.
	DefaultTestRealm = "test-realm"

	// DefaultTestClientID is the only client a TestProvider accepts unless
	// changed with SetClientID.
	DefaultTestClientID = "test-client"
)

// testAuthRequest is what the TestProvider remembers about an issued code.
type testAuthRequest struct {
	clientID     string
	redirectURI  string
	nonce        string
	challenge    string
	sessionState string
}

// TestProvider is a local TLS server implementing the parts of a Keycloak
// realm the authorization code flow uses: the auth, registrations, token and
// certs endpoints. It issues ES256 signed tokens, remembers the nonce and
// PKCE challenge of every code it issues and can be told to misbehave, which
// makes writing tests much easier.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	realm      string

	jwks       *jose.JSONWebKeySet
	signingKey *ecdsa.PrivateKey

	mu                  sync.Mutex
	clientID            string
	allowedRedirectURIs []string
	replySubject        string
	codes               map[string]testAuthRequest
	refreshTokens       map[string]testAuthRequest
	authError           string
	authErrorDesc       string
	tokenErrorStatus    int
	tokenError          string
	tokenErrorDesc      string
	omitAccessToken     bool
	omitIDToken         bool
	omitRefreshToken    bool
	accessTokenClaims   map[string]interface{}
	idTokenClaims       map[string]interface{}
	refreshTokenClaims  map[string]interface{}
	expiresIn           time.Duration

	ecdsaPublicKey  string
	ecdsaPrivateKey string
}

// StartTestProvider creates a disposable TestProvider serving
// DefaultTestRealm. It's stopped when the test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		realm:         DefaultTestRealm,
		clientID:      DefaultTestClientID,
		replySubject:  "f1b8a2d4-5c1e-4d2a-9a57-3c0f8e6b7d21",
		codes:         map[string]testAuthRequest{},
		refreshTokens: map[string]testAuthRequest{},
		expiresIn:     5 * time.Minute,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	block, _ := pem.Decode([]byte(p.ecdsaPrivateKey))
	require.NotNil(block)
	key, err := x509.ParseECPrivateKey(block.Bytes)
	require.NoError(err)
	p.signingKey = key
	p.jwks = &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: key.Public(), Algorithm: string(jose.ES256), Use: "sig"},
		},
	}

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the provider, to be used as a Config's
// AuthServerURL.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// Realm returns the realm the provider serves.
func (p *TestProvider) Realm() string { return p.realm }

// RealmURL returns the realm's base URL.
func (p *TestProvider) RealmURL() string {
	return p.Addr() + "/realms/" + url.PathEscape(p.realm)
}

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// HTTPClient returns a client which trusts the provider's certificate and
// doesn't follow redirects.
func (p *TestProvider) HTTPClient() *http.Client {
	c := p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c
}

// SetClientID configures the client id the provider accepts.
func (p *TestProvider) SetClientID(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
}

// SetAllowedRedirectURIs configures the redirect URIs the provider accepts.
// Any redirect URI is accepted when it's empty, which is the default.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetAuthError makes the auth endpoint redirect back with the error instead
// of a code. An empty code clears it.
func (p *TestProvider) SetAuthError(code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = code
	p.authErrorDesc = description
}

// SetTokenError makes the token endpoint fail with the status and oauth
// error. A zero status clears it.
func (p *TestProvider) SetTokenError(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenErrorStatus = status
	p.tokenError = code
	p.tokenErrorDesc = description
}

// OmitAccessTokens forces the token endpoint to not return an access_token.
func (p *TestProvider) OmitAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = true
}

// OmitIDTokens forces the token endpoint to not return an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens forces the token endpoint to not return a refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// SetAccessTokenClaims sets claims which override the access_token's
// claims. A nil value removes the claim.
func (p *TestProvider) SetAccessTokenClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokenClaims = claims
}

// SetIDTokenClaims sets claims which override the id_token's claims. A nil
// value removes the claim.
func (p *TestProvider) SetIDTokenClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenClaims = claims
}

// SetRefreshTokenClaims sets claims which override the refresh_token's
// claims. A nil value removes the claim.
func (p *TestProvider) SetRefreshTokenClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshTokenClaims = claims
}

// SetExpiresIn sets the lifetime of issued access and id tokens.
func (p *TestProvider) SetExpiresIn(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = d
}

// Authorize sends the login URL to the provider, as a browser would, and
// returns the callback URL it redirects to.
func (p *TestProvider) Authorize(loginURL string) (string, error) {
	const op = "TestProvider.Authorize"
	resp, err := p.HTTPClient().Get(loginURL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s: unexpected response %s: %s", op, resp.Status, body)
	}
	return resp.Header.Get("Location"), nil
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// writeAuthResponse redirects to the redirect URI with the params, in the
// requested response mode.
func (p *TestProvider) writeAuthResponse(w http.ResponseWriter, req *http.Request, params url.Values) {
	qv := req.URL.Query()
	params.Set("state", qv.Get("state"))
	sep := "#"
	if qv.Get("response_mode") == string(ResponseModeQuery) {
		sep = "?"
		if strings.Contains(qv.Get("redirect_uri"), "?") {
			sep = "&"
		}
	}
	http.Redirect(w, req, qv.Get("redirect_uri")+sep+params.Encode(), http.StatusFound)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	v := url.Values{"error": {errorCode}}
	if errorMessage != "" {
		v.Set("error_description", errorMessage)
	}
	p.writeAuthResponse(w, req, v)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	_ = p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := "/realms/" + url.PathEscape(p.realm) + "/protocol/openid-connect/"
	path := strings.TrimPrefix(req.URL.EscapedPath(), base)
	if path == req.URL.EscapedPath() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch path {
	case "auth", "registrations":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.serveAuth(w, req)

	case "token":
		w.Header().Set("Content-Type", "application/json")
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.serveToken(w, req)

	case "certs":
		w.Header().Set("Content-Type", "application/json")
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveAuth(w http.ResponseWriter, req *http.Request) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri")
	switch {
	case qv.Get("client_id") != p.clientID:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("unknown client"))
		return
	case redirectURI == "":
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("missing redirect_uri parameter"))
		return
	case len(p.allowedRedirectURIs) > 0 && !strutils.StrListContains(p.allowedRedirectURIs, redirectURI):
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid redirect_uri parameter"))
		return
	}

	switch {
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	case !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid"):
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	case qv.Get("state") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case qv.Get("code_challenge") != "" && qv.Get("code_challenge_method") != string(S256):
		p.writeAuthErrorResponse(w, req, "invalid_request", "invalid code_challenge_method")
		return
	case p.authError != "":
		p.writeAuthErrorResponse(w, req, p.authError, p.authErrorDesc)
		return
	}

	code, err := uuid.GenerateUUID()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	sessionState, err := uuid.GenerateUUID()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	p.codes[code] = testAuthRequest{
		clientID:     qv.Get("client_id"),
		redirectURI:  redirectURI,
		nonce:        qv.Get("nonce"),
		challenge:    qv.Get("code_challenge"),
		sessionState: sessionState,
	}
	p.writeAuthResponse(w, req, url.Values{
		"code":          {code},
		"session_state": {sessionState},
	})
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if p.tokenErrorStatus != 0 {
		p.writeTokenErrorResponse(w, p.tokenErrorStatus, p.tokenError, p.tokenErrorDesc)
		return
	}
	if req.FormValue("client_id") != p.clientID {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "unauthorized_client", "invalid client")
		return
	}

	var ar testAuthRequest
	switch req.FormValue("grant_type") {
	case "authorization_code":
		var ok bool
		code := req.FormValue("code")
		ar, ok = p.codes[code]
		delete(p.codes, code)
		switch {
		case !ok:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code not valid")
			return
		case req.FormValue("redirect_uri") != ar.redirectURI:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "incorrect redirect_uri")
			return
		case ar.challenge != "" && oauth2.S256ChallengeFromVerifier(req.FormValue("code_verifier")) != ar.challenge:
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		case ar.challenge == "" && req.FormValue("code_verifier") != "":
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "PKCE verifier specified but challenge not present")
			return
		}

	case "refresh_token":
		var ok bool
		ar, ok = p.refreshTokens[req.FormValue("refresh_token")]
		if !ok {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "invalid refresh token")
			return
		}

	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	}

	reply, err := p.issueTokens(ar)
	if err != nil {
		p.writeTokenErrorResponse(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	_ = p.writeJSON(w, reply)
}

// issueTokens signs a new set of tokens for the auth request and returns the
// token response body.
func (p *TestProvider) issueTokens(ar testAuthRequest) (map[string]interface{}, error) {
	now := time.Now()
	issuer := p.RealmURL()
	std := func(aud string, exp time.Duration) jwt.Claims {
		id, _ := uuid.GenerateUUID()
		return jwt.Claims{
			ID:       id,
			Issuer:   issuer,
			Subject:  p.replySubject,
			Audience: jwt.Audience{aud},
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(exp)),
		}
	}
	private := func(typ string, overrides map[string]interface{}) map[string]interface{} {
		c := map[string]interface{}{
			"typ":           typ,
			"azp":           ar.clientID,
			"session_state": ar.sessionState,
			"sid":           ar.sessionState,
		}
		if ar.nonce != "" {
			c["nonce"] = ar.nonce
		}
		for k, v := range overrides {
			if v == nil {
				delete(c, k)
				continue
			}
			c[k] = v
		}
		return c
	}

	reply := map[string]interface{}{
		"token_type":    "Bearer",
		"expires_in":    int(p.expiresIn / time.Second),
		"session_state": ar.sessionState,
		"scope":         "openid",
	}
	if !p.omitAccessToken {
		at, err := signJWT(p.signingKey, std("account", p.expiresIn), private("Bearer", p.accessTokenClaims))
		if err != nil {
			return nil, fmt.Errorf("unable to sign access_token: %w", err)
		}
		reply["access_token"] = at
	}
	if !p.omitIDToken {
		idt, err := signJWT(p.signingKey, std(ar.clientID, p.expiresIn), private("ID", p.idTokenClaims))
		if err != nil {
			return nil, fmt.Errorf("unable to sign id_token: %w", err)
		}
		reply["id_token"] = idt
	}
	if !p.omitRefreshToken {
		rt, err := signJWT(p.signingKey, std(issuer, 30*time.Minute), private("Refresh", p.refreshTokenClaims))
		if err != nil {
			return nil, fmt.Errorf("unable to sign refresh_token: %w", err)
		}
		p.refreshTokens[rt] = ar
		reply["refresh_token"] = rt
		reply["refresh_expires_in"] = 1800
	}
	return reply, nil
}
