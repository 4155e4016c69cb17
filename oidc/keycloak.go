// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/kcflow/kcflow/oidc/internal/strutils"
	"github.com/kcflow/kcflow/oidc/store"
	"golang.org/x/oauth2"
)

// CallbackOutcome is the result of a callback that didn't fail.
type CallbackOutcome uint8

const (
	// NotCallback means the URL didn't carry a code or a state, so it isn't
	// an authorization response.
	NotCallback CallbackOutcome = iota

	// SilentAuthDenied means a prompt=none login returned an error, usually
	// because the user isn't logged in with the provider.
	SilentAuthDenied

	// Authenticated means the code was exchanged and the tokens were
	// validated.
	Authenticated
)

func (o CallbackOutcome) String() string {
	switch o {
	case NotCallback:
		return "not-callback"
	case SilentAuthDenied:
		return "silent-auth-denied"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown-outcome-" + strconv.Itoa(int(o))
	}
}

// CallbackResult is returned by Keycloak.ProcessCallback.
type CallbackResult struct {
	Outcome CallbackOutcome

	// Tokens are set for Authenticated.
	Tokens *TokenSet

	// NewURL is the callback URL with the authorization response parameters
	// removed.
	NewURL string

	// State is the callback's state.
	State string

	// SessionState is the provider's session_state.
	SessionState string

	// ActionStatus is the kc_action_status returned after an application
	// initiated action ("success", "cancelled" or "error").
	ActionStatus string

	// Denial holds the provider's error for SilentAuthDenied.
	Denial *ProviderError
}

// Keycloak issues login, registration, logout and account URLs for a realm
// and client, processes the authorization code callbacks and refreshes
// tokens. It's safe for concurrent use.
type Keycloak struct {
	config      Config
	endpoints   Endpoints
	redirectURI string

	store     store.Store
	transport Transport
	random    io.Reader
	logger    hclog.Logger
	now       func() time.Time
}

// NewKeycloak creates a new Keycloak for a copy of the config. An empty
// ResponseMode defaults to ResponseModeFragment.
//
// Supported options: WithStore, WithTransport, WithRandomReader, WithLogger,
// WithNow
//
// When WithStore isn't used, callback records are kept in a database in the
// user's cache directory, falling back to cookies for the app's origin. See
// Keycloak.Close().
func NewKeycloak(c *Config, opt ...Option) (*Keycloak, error) {
	const op = "NewKeycloak"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	cfg := *c
	if cfg.ResponseMode == "" {
		cfg.ResponseMode = ResponseModeFragment
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	redirectURI, err := cfg.ResolvedRedirectURI()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getKeycloakOpts(opt...)
	k := &Keycloak{
		config:      cfg,
		endpoints:   cfg.Endpoints(),
		redirectURI: redirectURI,
		store:       opts.withStore,
		transport:   opts.withTransport,
		logger:      opts.withLogger,
		now:         opts.withNowFunc,
	}
	k.random = NewRandomReader(opts.withRandomReader, k.logger)
	if k.transport == nil {
		if k.transport, err = NewHTTPTransport(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if k.store == nil {
		if k.store, err = defaultStore(&cfg, k.logger); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return k, nil
}

// defaultStore returns a BoltStore in the user's cache directory or, when
// that isn't usable, a CookieStore for the app's origin.
func defaultStore(c *Config, logger hclog.Logger) (store.Store, error) {
	const op = "defaultStore"
	var factories []store.Factory
	if path, err := DefaultStorePath(); err != nil {
		logger.Debug("persistent callback store unavailable", "error", err)
	} else {
		factories = append(factories, store.BoltFactory(path))
	}
	if origin, err := c.appOrigin(); err != nil {
		logger.Debug("cookie callback store unavailable", "error", err)
	} else {
		factories = append(factories, store.CookieFactory(origin))
	}
	s, err := store.New(factories...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// DefaultStorePath returns the path of the default persistent callback
// store, creating its directory when needed.
func DefaultStorePath() (string, error) {
	const op = "DefaultStorePath"
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	dir = filepath.Join(dir, "kcflow")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return filepath.Join(dir, "callbacks.db"), nil
}

// Close releases the callback store when it holds resources, like the
// default persistent store.
func (k *Keycloak) Close() error {
	const op = "Keycloak.Close"
	if c, ok := k.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// Config returns a copy of the Keycloak's config.
func (k *Keycloak) Config() Config { return k.config }

// Endpoints returns the realm's endpoints.
func (k *Keycloak) Endpoints() Endpoints { return k.endpoints }

// RedirectURI returns the redirect URI sent with every login.
func (k *Keycloak) RedirectURI() string { return k.redirectURI }

// LoginURL starts a login attempt: it generates a state and nonce (and PKCE
// verifier when requested), stores them and returns the authorization URL
// to send the user to. With WithAction(ActionRegister) the registration URL
// is returned instead.
//
// Supported options: WithScopes, WithPrompt, WithMaxAge, WithLoginHint,
// WithIDPHint, WithAction, WithUILocales, WithACR, WithPKCE
func (k *Keycloak) LoginURL(ctx context.Context, opt ...Option) (string, error) {
	const op = "Keycloak.LoginURL"
	opts := getLoginOpts(opt...)

	state, err := NewUUID(k.random)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	nonce, err := NewUUID(k.random)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	rec := &store.CallbackRecord{
		State:       state,
		Nonce:       nonce,
		RedirectURI: k.redirectURI,
		Prompt:      opts.withPrompt,
	}

	authURL := k.endpoints.Authorize
	if opts.withAction == ActionRegister {
		authURL = k.endpoints.Register
	}
	oauth2Config := oauth2.Config{
		ClientID:    k.config.ClientID,
		RedirectURL: k.redirectURI,
		Endpoint:    oauth2.Endpoint{AuthURL: authURL},
		Scopes:      strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, opts.withScopes...), false),
	}
	params := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_mode", string(k.config.ResponseMode)),
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if opts.withPrompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", opts.withPrompt))
	}
	if opts.withMaxAge != nil {
		params = append(params, oauth2.SetAuthURLParam("max_age", strconv.FormatUint(uint64(*opts.withMaxAge), 10)))
	}
	if opts.withLoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", opts.withLoginHint))
	}
	if opts.withIDPHint != "" {
		params = append(params, oauth2.SetAuthURLParam("kc_idp_hint", opts.withIDPHint))
	}
	if opts.withAction != "" && opts.withAction != ActionRegister {
		params = append(params, oauth2.SetAuthURLParam("kc_action", opts.withAction))
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, tag := range opts.withUILocales {
			locales = append(locales, tag.String())
		}
		params = append(params, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	if opts.withACR != "" {
		claims, err := json.Marshal(map[string]interface{}{
			"id_token": map[string]interface{}{
				"acr": opts.withACR,
			},
		})
		if err != nil {
			return "", fmt.Errorf("%s: unable to encode acr claims request: %w", op, err)
		}
		params = append(params, oauth2.SetAuthURLParam("claims", string(claims)))
	}
	if opts.withPKCE != "" {
		v, err := NewCodeVerifier(k.random)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		challenge, err := CreateCodeChallenge(opts.withPKCE, v.Verifier())
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		rec.PKCECodeVerifier = v.Verifier()
		params = append(params,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", string(opts.withPKCE)),
		)
	}

	if err := k.store.Add(ctx, rec); err != nil {
		return "", fmt.Errorf("%s: unable to store callback state: %w", op, err)
	}
	k.logger.Debug("issued login url", "state", state, "pkce", rec.PKCECodeVerifier != "", "action", opts.withAction)
	return oauth2Config.AuthCodeURL(state, params...), nil
}

// RegisterURL is LoginURL with WithAction(ActionRegister).
func (k *Keycloak) RegisterURL(ctx context.Context, opt ...Option) (string, error) {
	const op = "Keycloak.RegisterURL"
	u, err := k.LoginURL(ctx, append(append([]Option{}, opt...), WithAction(ActionRegister))...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// LogoutURL returns the URL which ends the user's provider session and then
// redirects back to the redirect URI.
//
// Supported options: WithIDTokenHint
func (k *Keycloak) LogoutURL(opt ...Option) string {
	opts := getLogoutOpts(opt...)
	v := url.Values{
		"client_id":                {k.config.ClientID},
		"post_logout_redirect_uri": {k.redirectURI},
	}
	if opts.withIDTokenHint != "" {
		v.Set("id_token_hint", string(opts.withIDTokenHint))
	}
	return k.endpoints.Logout + "?" + v.Encode()
}

// AccountURL returns the realm's account console URL, with a link back to
// the application.
func (k *Keycloak) AccountURL() string {
	v := url.Values{
		"referrer":     {k.config.ClientID},
		"referrer_uri": {k.redirectURI},
	}
	return k.endpoints.Account + "?" + v.Encode()
}

// ProcessCallback handles the URL the provider redirected the user to. The
// callback's state is consumed from the store, so a callback URL can only be
// processed once.
//
// A URL without a code or a state returns a NotCallback result. An error
// response to a prompt=none login returns a SilentAuthDenied result. Any
// other error response is a *ProviderError. An unknown state, a missing code
// or a nonce mismatch is a *CallbackValidationError. A failed token request
// is a *TransportError. The errors carry the stripped callback URL, when it
// applies, so the caller can still clean up its location.
func (k *Keycloak) ProcessCallback(ctx context.Context, callbackURL string) (*CallbackResult, error) {
	const op = "Keycloak.ProcessCallback"
	params, newURL := ParseCallbackURL(callbackURL, k.config.ResponseMode)
	if !params.IsCallback() {
		return &CallbackResult{Outcome: NotCallback, NewURL: newURL}, nil
	}
	if params.State == "" {
		return nil, fmt.Errorf("%s: %w", op, &CallbackValidationError{
			Msg:     "callback has no state",
			NewURL:  newURL,
			Wrapped: ErrStateNotFound,
		})
	}
	rec, err := k.store.Get(ctx, params.State)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read callback state: %w", op, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", op, &CallbackValidationError{
			NewURL:  newURL,
			Wrapped: ErrStateNotFound,
		})
	}

	if params.Error != "" {
		pErr := &ProviderError{
			Code:        params.Error,
			Description: params.ErrorDescription,
			URI:         params.ErrorURI,
			NewURL:      newURL,
		}
		if rec.Prompt == "none" {
			k.logger.Debug("silent authentication denied", "state", params.State, "error", params.Error)
			return &CallbackResult{
				Outcome:      SilentAuthDenied,
				NewURL:       newURL,
				State:        params.State,
				SessionState: params.SessionState,
				ActionStatus: params.KCActionStatus,
				Denial:       pErr,
			}, nil
		}
		return nil, fmt.Errorf("%s: %w", op, pErr)
	}
	if params.Code == "" {
		return nil, fmt.Errorf("%s: %w", op, &CallbackValidationError{
			NewURL:  newURL,
			Wrapped: ErrMissingCode,
		})
	}

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {params.Code},
		"client_id":    {k.config.ClientID},
		"redirect_uri": {rec.RedirectURI},
	}
	if rec.PKCECodeVerifier != "" {
		form.Set("code_verifier", rec.PKCECodeVerifier)
	}
	k.logger.Debug("exchanging authorization code", "state", params.State)
	body, err := k.transport.PostForm(ctx, k.endpoints.Token, form)
	if err != nil {
		return nil, fmt.Errorf("%s: code exchange: %w", op, err)
	}
	tokens, err := parseTokenResponse(body, k.now(), k.logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkNonces(tokens, rec.Nonce); err != nil {
		err.NewURL = newURL
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &CallbackResult{
		Outcome:      Authenticated,
		Tokens:       tokens,
		NewURL:       newURL,
		State:        params.State,
		SessionState: params.SessionState,
		ActionStatus: params.KCActionStatus,
	}, nil
}

// checkNonces verifies the id_token's nonce and, when issued, the
// refresh_token's. The access_token's nonce is only checked when it has one.
func checkNonces(t *TokenSet, nonce string) *CallbackValidationError {
	if t.IDTokenClaims.Nonce() != nonce {
		return &CallbackValidationError{Msg: "id_token nonce mismatch", Wrapped: ErrInvalidNonce}
	}
	if t.RefreshTokenClaims != nil && t.RefreshTokenClaims.Nonce() != nonce {
		return &CallbackValidationError{Msg: "refresh_token nonce mismatch", Wrapped: ErrInvalidNonce}
	}
	if _, ok := t.AccessTokenClaims["nonce"]; ok && t.AccessTokenClaims.Nonce() != nonce {
		return &CallbackValidationError{Msg: "access_token nonce mismatch", Wrapped: ErrInvalidNonce}
	}
	return nil
}

// TokenRefresh uses the refresh token to get new tokens. The response must
// carry an access_token and id_token, like a code exchange, but there's no
// nonce to check.
func (k *Keycloak) TokenRefresh(ctx context.Context, refreshToken RefreshToken) (*TokenSet, error) {
	const op = "Keycloak.TokenRefresh"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {k.config.ClientID},
		"refresh_token": {string(refreshToken)},
	}
	k.logger.Debug("refreshing tokens")
	body, err := k.transport.PostForm(ctx, k.endpoints.Token, form)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tokens, err := parseTokenResponse(body, k.now(), k.logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tokens, nil
}

// keycloakOptions is the set of available options for NewKeycloak
type keycloakOptions struct {
	withStore        store.Store
	withTransport    Transport
	withRandomReader io.Reader
	withLogger       hclog.Logger
	withNowFunc      func() time.Time
}

func keycloakDefaults() keycloakOptions {
	return keycloakOptions{
		withLogger: hclog.New(&hclog.LoggerOptions{
			Name:  "kcflow",
			Level: hclog.Warn,
		}),
		withNowFunc: time.Now,
	}
}

func getKeycloakOpts(opt ...Option) keycloakOptions {
	opts := keycloakDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithStore provides the callback store.
//
// Valid for: Keycloak
func WithStore(s store.Store) Option {
	return func(o interface{}) {
		if o, ok := o.(*keycloakOptions); ok {
			o.withStore = s
		}
	}
}

// WithTransport provides the transport used for token requests.
//
// Valid for: Keycloak
func WithTransport(t Transport) Option {
	return func(o interface{}) {
		if o, ok := o.(*keycloakOptions); ok {
			o.withTransport = t
		}
	}
}

// WithRandomReader provides the source of random bytes for states, nonces
// and PKCE verifiers. The default is crypto/rand.
//
// Valid for: Keycloak
func WithRandomReader(r io.Reader) Option {
	return func(o interface{}) {
		if o, ok := o.(*keycloakOptions); ok {
			o.withRandomReader = r
		}
	}
}

// WithLogger provides an optional logger.
//
// Valid for: Keycloak
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		if o, ok := o.(*keycloakOptions); ok {
			o.withLogger = l
		}
	}
}
