// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/kcflow/kcflow/oidc/internal/strutils"
	"github.com/kcflow/kcflow/oidc/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

// testTransport is a Transport which records the requests it receives and
// replies with a canned response.
type testTransport struct {
	mu        sync.Mutex
	endpoints []string
	forms     []url.Values
	reply     func(form url.Values) (map[string]interface{}, error)
}

var _ Transport = (*testTransport)(nil)

func (tr *testTransport) PostForm(_ context.Context, endpoint string, form url.Values) (map[string]interface{}, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.endpoints = append(tr.endpoints, endpoint)
	tr.forms = append(tr.forms, form)
	if tr.reply == nil {
		return nil, &TransportError{Wrapped: ErrTokenRequestFailed}
	}
	return tr.reply(form)
}

func (tr *testTransport) lastForm() url.Values {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.forms) == 0 {
		return nil
	}
	return tr.forms[len(tr.forms)-1]
}

func testConfig(t *testing.T, opt ...Option) *Config {
	t.Helper()
	opts := append([]Option{WithAppURL("http://localhost:8080/app")}, opt...)
	c, err := NewConfig("http://localhost:3001", "testing", "spa", opts...)
	require.NoError(t, err)
	return c
}

func testKeycloak(t *testing.T, c *Config, tr Transport) (*Keycloak, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	kc, err := NewKeycloak(c, WithStore(s), WithTransport(tr))
	require.NoError(t, err)
	return kc, s
}

// testTokenReply returns a token endpoint reply with unsigned tokens carrying
// the nonce.
func testTokenReply(t *testing.T, nonce string) map[string]interface{} {
	t.Helper()
	now := time.Now()
	claims := func(typ string) map[string]interface{} {
		return map[string]interface{}{
			"typ":           typ,
			"sub":           "alice",
			"nonce":         nonce,
			"session_state": "sess-1",
			"iat":           now.Unix(),
			"exp":           now.Add(5 * time.Minute).Unix(),
		}
	}
	return map[string]interface{}{
		"access_token":  TestUnsignedJWT(t, claims("Bearer")),
		"id_token":      TestUnsignedJWT(t, claims("ID")),
		"refresh_token": TestUnsignedJWT(t, claims("Refresh")),
		"token_type":    "Bearer",
	}
}

func TestNewKeycloak(t *testing.T) {
	t.Parallel()
	tr := &testTransport{}
	tests := []struct {
		name         string
		config       *Config
		opt          []Option
		wantRedirect string
		wantMode     ResponseMode
		wantIsErr    error
	}{
		{
			name:         "app-url",
			config:       testConfig(t),
			opt:          []Option{WithStore(store.NewMemoryStore()), WithTransport(tr)},
			wantRedirect: "http://localhost:8080/",
		},
		{
			name:         "redirect-uri",
			config:       testConfig(t, WithRedirectURI("http://localhost:8080/cb")),
			opt:          []Option{WithStore(store.NewMemoryStore())},
			wantRedirect: "http://localhost:8080/cb",
		},
		{
			name: "default-response-mode",
			config: &Config{
				AuthServerURL: "http://localhost:3001",
				Realm:         "testing",
				ClientID:      "spa",
				RedirectURI:   "http://localhost:8080/cb",
			},
			opt:          []Option{WithStore(store.NewMemoryStore()), WithTransport(tr)},
			wantRedirect: "http://localhost:8080/cb",
			wantMode:     ResponseModeFragment,
		},
		{
			name:      "nil-config",
			wantIsErr: ErrNilParameter,
		},
		{
			name:      "invalid-config",
			config:    &Config{AuthServerURL: "http://localhost:3001", Realm: "testing"},
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewKeycloak(tt.config, tt.opt...)
			if tt.wantIsErr != nil {
				require.ErrorIs(err, tt.wantIsErr)
				assert.Nil(got)
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantRedirect, got.RedirectURI())
			want := *tt.config
			if tt.wantMode != "" {
				assert.Empty(tt.config.ResponseMode)
				want.ResponseMode = tt.wantMode
			}
			assert.Equal(want, got.Config())
			assert.Equal(tt.config.Endpoints(), got.Endpoints())
			assert.NotNil(got.transport)
			assert.NoError(got.Close())
		})
	}
}

func TestKeycloak_Close(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	bs, err := store.NewBoltStore(filepath.Join(t.TempDir(), "callbacks.db"))
	require.NoError(err)
	kc, err := NewKeycloak(testConfig(t), WithStore(bs), WithTransport(&testTransport{}))
	require.NoError(err)
	require.NoError(kc.Close())
	require.Error(bs.Add(context.Background(), &store.CallbackRecord{State: "s", Nonce: "n", RedirectURI: "http://localhost/"}))
}

func TestKeycloak_LoginURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name       string
		config     *Config
		opt        []Option
		wantPath   string
		wantParams map[string]string
		wantPKCE   bool
	}{
		{
			name:     "defaults",
			config:   testConfig(t),
			wantPath: "/realms/testing/protocol/openid-connect/auth",
			wantParams: map[string]string{
				"client_id":     "spa",
				"redirect_uri":  "http://localhost:8080/",
				"response_type": "code",
				"response_mode": "fragment",
				"scope":         "openid",
			},
		},
		{
			name:   "all-options",
			config: testConfig(t, WithResponseMode(ResponseModeQuery), WithRedirectURI("http://localhost:8080/cb")),
			opt: []Option{
				WithScopes("profile email", "openid", "profile"),
				WithPrompt("login"),
				WithMaxAge(0),
				WithLoginHint("alice@example.com"),
				WithIDPHint("github"),
				WithAction("UPDATE_PASSWORD"),
				WithUILocales(language.English, language.MustParse("de-CH")),
				WithACR("gold"),
				WithPKCE(S256),
			},
			wantPath: "/realms/testing/protocol/openid-connect/auth",
			wantParams: map[string]string{
				"client_id":             "spa",
				"redirect_uri":          "http://localhost:8080/cb",
				"response_type":         "code",
				"response_mode":         "query",
				"scope":                 "openid profile email",
				"prompt":                "login",
				"max_age":               "0",
				"login_hint":            "alice@example.com",
				"kc_idp_hint":           "github",
				"kc_action":             "UPDATE_PASSWORD",
				"ui_locales":            "en de-CH",
				"claims":                `{"id_token":{"acr":"gold"}}`,
				"code_challenge_method": "S256",
			},
			wantPKCE: true,
		},
		{
			name:     "register-action",
			config:   testConfig(t),
			opt:      []Option{WithAction(ActionRegister)},
			wantPath: "/realms/testing/protocol/openid-connect/registrations",
			wantParams: map[string]string{
				"client_id":     "spa",
				"response_type": "code",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			kc, s := testKeycloak(t, tt.config, &testTransport{})

			got, err := kc.LoginURL(ctx, tt.opt...)
			require.NoError(err)
			u, err := url.Parse(got)
			require.NoError(err)
			assert.Equal("localhost:3001", u.Host)
			assert.Equal(tt.wantPath, u.Path)

			q := u.Query()
			wantKeys := []string{"client_id", "redirect_uri", "state", "response_mode", "response_type", "scope", "nonce"}
			for k, v := range tt.wantParams {
				assert.Equal(v, q.Get(k), "param %q", k)
				if !strutils.StrListContains(wantKeys, k) {
					wantKeys = append(wantKeys, k)
				}
			}
			if tt.wantPKCE {
				wantKeys = append(wantKeys, "code_challenge")
			}
			gotKeys := make([]string, 0, len(q))
			for k, v := range q {
				gotKeys = append(gotKeys, k)
				assert.Len(v, 1, "param %q", k)
			}
			assert.ElementsMatch(wantKeys, gotKeys)
			assert.Regexp(uuidV4, q.Get("state"))
			assert.Regexp(uuidV4, q.Get("nonce"))
			assert.NotEqual(q.Get("state"), q.Get("nonce"))

			require.Equal(1, s.Len())
			rec, err := s.Get(ctx, q.Get("state"))
			require.NoError(err)
			require.NotNil(rec)
			assert.Equal(q.Get("nonce"), rec.Nonce)
			assert.Equal(q.Get("redirect_uri"), rec.RedirectURI)
			if tt.wantPKCE {
				require.NotEmpty(rec.PKCECodeVerifier)
				challenge, err := CreateCodeChallenge(S256, rec.PKCECodeVerifier)
				require.NoError(err)
				assert.Equal(challenge, q.Get("code_challenge"))
			} else {
				assert.Empty(rec.PKCECodeVerifier)
			}
		})
	}

	t.Run("unique-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		kc, s := testKeycloak(t, testConfig(t), &testTransport{})
		seen := map[string]bool{}
		for i := 0; i < 10; i++ {
			got, err := kc.LoginURL(ctx)
			require.NoError(err)
			u, err := url.Parse(got)
			require.NoError(err)
			state := u.Query().Get("state")
			assert.False(seen[state])
			seen[state] = true
		}
		assert.Equal(10, s.Len())
	})
}

func TestKeycloak_RegisterURL(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	kc, _ := testKeycloak(t, testConfig(t), &testTransport{})
	opts := []Option{WithPrompt("login")}
	got, err := kc.RegisterURL(context.Background(), opts...)
	require.NoError(err)
	u, err := url.Parse(got)
	require.NoError(err)
	assert.Equal("/realms/testing/protocol/openid-connect/registrations", u.Path)
	assert.Equal("login", u.Query().Get("prompt"))
	assert.Len(opts, 1)
}

func TestKeycloak_LogoutURL(t *testing.T) {
	t.Parallel()
	kc, _ := testKeycloak(t, testConfig(t), &testTransport{})
	tests := []struct {
		name string
		opt  []Option
		want string
	}{
		{
			name: "basic",
			want: "http://localhost:3001/realms/testing/protocol/openid-connect/logout?client_id=spa&post_logout_redirect_uri=http%3A%2F%2Flocalhost%3A8080%2F",
		},
		{
			name: "id-token-hint",
			opt:  []Option{WithIDTokenHint("a.b.c")},
			want: "http://localhost:3001/realms/testing/protocol/openid-connect/logout?client_id=spa&id_token_hint=a.b.c&post_logout_redirect_uri=http%3A%2F%2Flocalhost%3A8080%2F",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, kc.LogoutURL(tt.opt...))
		})
	}
}

func TestKeycloak_AccountURL(t *testing.T) {
	t.Parallel()
	kc, _ := testKeycloak(t, testConfig(t), &testTransport{})
	assert.Equal(t,
		"http://localhost:3001/realms/testing/account?referrer=spa&referrer_uri=http%3A%2F%2Flocalhost%3A8080%2F",
		kc.AccountURL(),
	)
}

func TestKeycloak_ProcessCallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// login starts a login and returns the state and nonce it stored.
	login := func(t *testing.T, kc *Keycloak, opt ...Option) (state, nonce string) {
		t.Helper()
		got, err := kc.LoginURL(ctx, opt...)
		require.NoError(t, err)
		u, err := url.Parse(got)
		require.NoError(t, err)
		return u.Query().Get("state"), u.Query().Get("nonce")
	}

	tests := []struct {
		name string
		// callback returns the callback URL for the login's state.
		callback      func(state string) string
		loginOpts     []Option
		reply         func(t *testing.T, nonce string) (map[string]interface{}, error)
		wantOutcome   CallbackOutcome
		wantNewURL    string
		wantExchange  bool
		wantIsErr     error
		wantErrAs     interface{}
		wantActionSts string
	}{
		{
			name:         "authenticated",
			callback:     func(s string) string { return "http://localhost:8080/#state=" + s + "&session_state=sess-1&code=abc" },
			reply:        func(t *testing.T, n string) (map[string]interface{}, error) { return testTokenReply(t, n), nil },
			wantOutcome:  Authenticated,
			wantNewURL:   "http://localhost:8080/",
			wantExchange: true,
		},
		{
			name:          "authenticated-action-status",
			callback:      func(s string) string { return "http://localhost:8080/#/route&kc_action_status=success&state=" + s + "&code=abc" },
			reply:         func(t *testing.T, n string) (map[string]interface{}, error) { return testTokenReply(t, n), nil },
			wantOutcome:   Authenticated,
			wantNewURL:    "http://localhost:8080/#/route",
			wantExchange:  true,
			wantActionSts: "success",
		},
		{
			name:        "not-callback",
			callback:    func(string) string { return "http://localhost:8080/#/route" },
			wantOutcome: NotCallback,
			wantNewURL:  "http://localhost:8080/#/route",
		},
		{
			name:       "unknown-state",
			callback:   func(string) string { return "http://localhost:8080/#state=unknown&code=abc" },
			wantNewURL: "http://localhost:8080/",
			wantIsErr:  ErrStateNotFound,
			wantErrAs:  new(*CallbackValidationError),
		},
		{
			name:       "missing-state",
			callback:   func(string) string { return "http://localhost:8080/#code=abc" },
			wantNewURL: "http://localhost:8080/",
			wantIsErr:  ErrStateNotFound,
			wantErrAs:  new(*CallbackValidationError),
		},
		{
			name:       "missing-code",
			callback:   func(s string) string { return "http://localhost:8080/#state=" + s },
			wantNewURL: "http://localhost:8080/",
			wantIsErr:  ErrMissingCode,
			wantErrAs:  new(*CallbackValidationError),
		},
		{
			name:       "provider-error",
			callback:   func(s string) string { return "http://localhost:8080/#error=access_denied&error_description=no&state=" + s },
			wantNewURL: "http://localhost:8080/",
			wantIsErr:  ErrLoginFailed,
			wantErrAs:  new(*ProviderError),
		},
		{
			name:        "silent-denied",
			callback:    func(s string) string { return "http://localhost:8080/#error=login_required&state=" + s },
			loginOpts:   []Option{WithPrompt("none")},
			wantOutcome: SilentAuthDenied,
			wantNewURL:  "http://localhost:8080/",
		},
		{
			name:     "id-token-nonce-mismatch",
			callback: func(s string) string { return "http://localhost:8080/#state=" + s + "&code=abc" },
			reply: func(t *testing.T, n string) (map[string]interface{}, error) {
				r := testTokenReply(t, n)
				r["id_token"] = TestUnsignedJWT(t, map[string]interface{}{"nonce": "other"})
				return r, nil
			},
			wantNewURL:   "http://localhost:8080/",
			wantExchange: true,
			wantIsErr:    ErrInvalidNonce,
			wantErrAs:    new(*CallbackValidationError),
		},
		{
			name:     "refresh-token-nonce-mismatch",
			callback: func(s string) string { return "http://localhost:8080/#state=" + s + "&code=abc" },
			reply: func(t *testing.T, n string) (map[string]interface{}, error) {
				r := testTokenReply(t, n)
				r["refresh_token"] = TestUnsignedJWT(t, map[string]interface{}{"typ": "Refresh"})
				return r, nil
			},
			wantNewURL:   "http://localhost:8080/",
			wantExchange: true,
			wantIsErr:    ErrInvalidNonce,
			wantErrAs:    new(*CallbackValidationError),
		},
		{
			name:     "access-token-nonce-mismatch",
			callback: func(s string) string { return "http://localhost:8080/#state=" + s + "&code=abc" },
			reply: func(t *testing.T, n string) (map[string]interface{}, error) {
				r := testTokenReply(t, n)
				r["access_token"] = TestUnsignedJWT(t, map[string]interface{}{"nonce": "other"})
				return r, nil
			},
			wantNewURL:   "http://localhost:8080/",
			wantExchange: true,
			wantIsErr:    ErrInvalidNonce,
			wantErrAs:    new(*CallbackValidationError),
		},
		{
			name:     "access-token-without-nonce",
			callback: func(s string) string { return "http://localhost:8080/#state=" + s + "&code=abc" },
			reply: func(t *testing.T, n string) (map[string]interface{}, error) {
				r := testTokenReply(t, n)
				r["access_token"] = TestUnsignedJWT(t, map[string]interface{}{"sub": "alice"})
				delete(r, "refresh_token")
				return r, nil
			},
			wantOutcome:  Authenticated,
			wantNewURL:   "http://localhost:8080/",
			wantExchange: true,
		},
		{
			name:     "missing-id-token",
			callback: func(s string) string { return "http://localhost:8080/#state=" + s + "&code=abc" },
			reply: func(t *testing.T, n string) (map[string]interface{}, error) {
				r := testTokenReply(t, n)
				delete(r, "id_token")
				return r, nil
			},
			wantExchange: true,
			wantIsErr:    ErrMissingIDToken,
		},
		{
			name:     "token-request-failed",
			callback: func(s string) string { return "http://localhost:8080/#state=" + s + "&code=abc" },
			reply: func(t *testing.T, n string) (map[string]interface{}, error) {
				return nil, &TransportError{StatusCode: http.StatusBadRequest, ErrorCode: "invalid_grant", Wrapped: ErrTokenRequestFailed}
			},
			wantExchange: true,
			wantIsErr:    ErrTokenRequestFailed,
			wantErrAs:    new(*TransportError),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tr := &testTransport{}
			kc, s := testKeycloak(t, testConfig(t), tr)
			state, nonce := login(t, kc, tt.loginOpts...)
			if tt.reply != nil {
				tr.reply = func(url.Values) (map[string]interface{}, error) { return tt.reply(t, nonce) }
			}

			got, err := kc.ProcessCallback(ctx, tt.callback(state))
			if tt.wantExchange {
				form := tr.lastForm()
				require.NotNil(form)
				assert.Equal("authorization_code", form.Get("grant_type"))
				assert.Equal("abc", form.Get("code"))
				assert.Equal("spa", form.Get("client_id"))
				assert.Equal("http://localhost:8080/", form.Get("redirect_uri"))
				assert.False(form.Has("code_verifier"))
				assert.Equal([]string{kc.Endpoints().Token}, tr.endpoints)
			} else {
				assert.Nil(tr.lastForm())
			}

			if tt.wantIsErr != nil {
				require.ErrorIs(err, tt.wantIsErr)
				assert.Nil(got)
				switch target := tt.wantErrAs.(type) {
				case **CallbackValidationError:
					require.True(errors.As(err, target))
					assert.Equal(tt.wantNewURL, (*target).NewURL)
				case **ProviderError:
					require.True(errors.As(err, target))
					assert.Equal(tt.wantNewURL, (*target).NewURL)
					assert.Equal("access_denied", (*target).Code)
					assert.Equal("no", (*target).Description)
				case **TransportError:
					require.True(errors.As(err, target))
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.wantOutcome, got.Outcome)
			assert.Equal(tt.wantNewURL, got.NewURL)
			assert.Equal(tt.wantActionSts, got.ActionStatus)
			switch got.Outcome {
			case Authenticated:
				require.NotNil(got.Tokens)
				assert.Equal(state, got.State)
				assert.Equal("alice", got.Tokens.IDTokenClaims.Subject())
				assert.Equal(nonce, got.Tokens.IDTokenClaims.Nonce())
				assert.False(got.Tokens.IsExpired(got.Tokens.IssuedAtLocal, time.Minute))
			case SilentAuthDenied:
				assert.Nil(got.Tokens)
				require.NotNil(got.Denial)
				assert.Equal("login_required", got.Denial.Code)
			case NotCallback:
				assert.Nil(got.Tokens)
				assert.Equal(1, s.Len())
			}
			if got.Outcome != NotCallback {
				assert.Equal(0, s.Len())
			}
		})
	}

	t.Run("state-consumed", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tr := &testTransport{}
		kc, _ := testKeycloak(t, testConfig(t), tr)
		state, nonce := login(t, kc)
		tr.reply = func(url.Values) (map[string]interface{}, error) { return testTokenReply(t, nonce), nil }
		cb := "http://localhost:8080/#state=" + state + "&code=abc"

		got, err := kc.ProcessCallback(ctx, cb)
		require.NoError(err)
		assert.Equal(Authenticated, got.Outcome)

		_, err = kc.ProcessCallback(ctx, cb)
		require.ErrorIs(err, ErrStateNotFound)
	})

	t.Run("pkce-verifier-sent", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tr := &testTransport{}
		kc, _ := testKeycloak(t, testConfig(t), tr)
		state, nonce := login(t, kc, WithPKCE(S256))
		tr.reply = func(url.Values) (map[string]interface{}, error) { return testTokenReply(t, nonce), nil }

		_, err := kc.ProcessCallback(ctx, "http://localhost:8080/#state="+state+"&code=abc")
		require.NoError(err)
		verifier := tr.lastForm().Get("code_verifier")
		assert.Len(verifier, verifierLen)
	})

	t.Run("expired-state", func(t *testing.T) {
		require := require.New(t)
		now := time.Now()
		s := store.NewMemoryStore(store.WithNow(func() time.Time { return now.Add(2 * time.Hour) }))
		kc, err := NewKeycloak(testConfig(t), WithStore(s), WithTransport(&testTransport{}))
		require.NoError(err)
		require.NoError(s.Add(ctx, &store.CallbackRecord{
			State:       "old",
			Nonce:       "n",
			RedirectURI: "http://localhost:8080/",
			ExpiresAt:   now,
		}))
		_, err = kc.ProcessCallback(ctx, "http://localhost:8080/#state=old&code=abc")
		require.ErrorIs(err, ErrStateNotFound)
	})
}

func TestKeycloak_TokenRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	receivedAt := time.Now()

	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tr := &testTransport{
			reply: func(url.Values) (map[string]interface{}, error) {
				r := testTokenReply(t, "")
				delete(r, "refresh_token")
				return r, nil
			},
		}
		kc, err := NewKeycloak(testConfig(t),
			WithStore(store.NewMemoryStore()),
			WithTransport(tr),
			WithNow(func() time.Time { return receivedAt }),
		)
		require.NoError(err)

		got, err := kc.TokenRefresh(ctx, "refresh-me")
		require.NoError(err)
		assert.Equal(receivedAt, got.IssuedAtLocal)
		assert.Empty(got.RefreshToken)

		form := tr.lastForm()
		assert.Equal("refresh_token", form.Get("grant_type"))
		assert.Equal("spa", form.Get("client_id"))
		assert.Equal("refresh-me", form.Get("refresh_token"))
		assert.Equal([]string{kc.Endpoints().Token}, tr.endpoints)
	})
	t.Run("empty-token", func(t *testing.T) {
		tr := &testTransport{}
		kc, _ := testKeycloak(t, testConfig(t), tr)
		_, err := kc.TokenRefresh(ctx, "")
		require.ErrorIs(t, err, ErrInvalidParameter)
		assert.Nil(t, tr.lastForm())
	})
	t.Run("request-failed", func(t *testing.T) {
		kc, _ := testKeycloak(t, testConfig(t), &testTransport{})
		_, err := kc.TokenRefresh(ctx, "refresh-me")
		require.ErrorIs(t, err, ErrTokenRequestFailed)
	})
	t.Run("missing-access-token", func(t *testing.T) {
		tr := &testTransport{
			reply: func(url.Values) (map[string]interface{}, error) {
				r := testTokenReply(t, "")
				delete(r, "access_token")
				return r, nil
			},
		}
		kc, _ := testKeycloak(t, testConfig(t), tr)
		_, err := kc.TokenRefresh(ctx, "refresh-me")
		require.ErrorIs(t, err, ErrMissingAccessToken)
	})
}

func TestKeycloak_TestProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tp := StartTestProvider(t)
	tr, err := NewHTTPTransport(WithProviderCA(tp.CACert()))
	require.NoError(t, err)

	// the provider's tokens must verify against its published keys
	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, tp.HTTPClient()), tp.RealmURL()+"/protocol/openid-connect/certs")
	verifier := func(clientID string) *oidc.IDTokenVerifier {
		return oidc.NewVerifier(tp.RealmURL(), keySet, &oidc.Config{
			ClientID:             clientID,
			SupportedSigningAlgs: []string{oidc.ES256},
		})
	}

	for _, mode := range []ResponseMode{ResponseModeFragment, ResponseModeQuery} {
		t.Run(string(mode), func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewConfig(tp.Addr(), tp.Realm(), DefaultTestClientID,
				WithAppURL("http://localhost:8080/"),
				WithResponseMode(mode),
			)
			require.NoError(err)
			kc, err := NewKeycloak(c, WithStore(store.NewMemoryStore()), WithTransport(tr))
			require.NoError(err)

			loginURL, err := kc.LoginURL(ctx, WithPKCE(S256), WithScopes("profile"))
			require.NoError(err)
			callbackURL, err := tp.Authorize(loginURL)
			require.NoError(err)

			got, err := kc.ProcessCallback(ctx, callbackURL)
			require.NoError(err)
			assert.Equal(Authenticated, got.Outcome)
			assert.Equal("http://localhost:8080/", got.NewURL)

			u, err := url.Parse(loginURL)
			require.NoError(err)
			idToken, err := verifier(DefaultTestClientID).Verify(ctx, string(got.Tokens.IDToken))
			require.NoError(err)
			assert.Equal(u.Query().Get("nonce"), idToken.Nonce)
			assert.Equal(got.Tokens.IDTokenClaims.Subject(), idToken.Subject)
			_, err = verifier("someone-else").Verify(ctx, string(got.Tokens.IDToken))
			require.Error(err)
			_, err = verifier(DefaultTestClientID).Verify(ctx, string(got.Tokens.AccessToken))
			require.Error(err)
			assert.NotEmpty(got.SessionState)
			assert.Equal(got.SessionState, got.Tokens.IDTokenClaims.SessionState())
			assert.Equal(tp.RealmURL(), got.Tokens.IDTokenClaims.Issuer())

			refreshed, err := kc.TokenRefresh(ctx, got.Tokens.RefreshToken)
			require.NoError(err)
			assert.Equal(got.SessionState, refreshed.AccessTokenClaims.SessionState())
			assert.NotEqual(got.Tokens.AccessToken, refreshed.AccessToken)
		})
	}
}

func TestCallbackOutcome_String(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("not-callback", NotCallback.String())
	assert.Equal("silent-auth-denied", SilentAuthDenied.String())
	assert.Equal("authenticated", Authenticated.String())
	assert.Equal("unknown-outcome-9", CallbackOutcome(9).String())
}
