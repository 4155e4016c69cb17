// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/kcflow/kcflow/oidc"
	"github.com/kcflow/kcflow/oidc/callback"
	"github.com/kcflow/kcflow/oidc/store"
	"golang.org/x/text/language"
)

// Configuration environment variables, which may also be set in a .env file
// in the working directory. Flags take precedence.
const (
	envServerURL = "KEYCLOAK_URL"
	envRealm     = "KEYCLOAK_REALM"
	envClientID  = "KEYCLOAK_CLIENT_ID"
	envPort      = "CALLBACK_PORT"
	envStorePath = "CALLBACK_STORE"

	defaultPort = "8888"
)

func main() {
	_ = godotenv.Load()

	adapterConfig := flag.String("config", "", "path of a keycloak.json adapter config (replaces -server-url, -realm and -client-id)")
	serverURL := flag.String("server-url", "", "Keycloak server URL (or "+envServerURL+" env)")
	realm := flag.String("realm", "", "realm name (or "+envRealm+" env)")
	clientID := flag.String("client-id", "", "public client id (or "+envClientID+" env)")
	port := flag.String("port", "", "local callback port (default "+defaultPort+" or "+envPort+" env)")
	storePath := flag.String("store", "", "callback store database (default: user cache dir or "+envStorePath+" env)")
	scopes := flag.String("scopes", "", "space separated list of additional scopes to request")
	usePKCE := flag.Bool("pkce", true, "use PKCE with the S256 challenge method")
	prompt := flag.String("prompt", "", "prompt to request, for example login or none")
	maxAge := flag.Int("max-age", -1, "max age of user authentication")
	idpHint := flag.String("idp-hint", "", "identity provider alias to redirect to")
	locales := flag.String("ui-locales", "", "space separated list of preferred languages for the login pages")
	register := flag.Bool("register", false, "open the registration page instead of the login page")
	refresh := flag.Bool("refresh", false, "refresh the tokens once after logging in")
	timeout := flag.Duration("timeout", 2*time.Minute, "time to wait for the callback")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	logLevel := hclog.Warn
	if *debug {
		logLevel = hclog.Debug
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "kcflow-cli",
		Level:  logLevel,
		Output: os.Stderr,
	})

	callbackPort := getConfig(*port, envPort, defaultPort)
	if _, err := strconv.ParseUint(callbackPort, 10, 16); err != nil {
		fmt.Fprintf(os.Stderr, "invalid callback port %q\n", callbackPort)
		os.Exit(2)
	}
	redirectURL := fmt.Sprintf("http://localhost:%s/callback", callbackPort)

	cfg, err := loadConfig(*adapterConfig, *serverURL, *realm, *clientID, redirectURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n", err)
		flag.Usage()
		os.Exit(2)
	}

	kcOpts := []oidc.Option{oidc.WithLogger(logger)}
	if p := getConfig(*storePath, envStorePath, ""); p != "" {
		s, err := store.New(store.BoltFactory(p), store.MemoryFactory())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			os.Exit(1)
		}
		kcOpts = append(kcOpts, oidc.WithStore(s))
	}
	kc, err := oidc.NewKeycloak(cfg, kcOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
	defer kc.Close()

	var loginOpts []oidc.Option
	if *scopes != "" {
		loginOpts = append(loginOpts, oidc.WithScopes(*scopes))
	}
	if *usePKCE {
		loginOpts = append(loginOpts, oidc.WithPKCE(oidc.S256))
	}
	if *prompt != "" {
		loginOpts = append(loginOpts, oidc.WithPrompt(*prompt))
	}
	if *maxAge >= 0 {
		loginOpts = append(loginOpts, oidc.WithMaxAge(uint(*maxAge)))
	}
	if *idpHint != "" {
		loginOpts = append(loginOpts, oidc.WithIDPHint(*idpHint))
	}
	if *locales != "" {
		tags, err := parseLocales(*locales)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			return
		}
		loginOpts = append(loginOpts, oidc.WithUILocales(tags...))
	}

	// handle ctrl-c while waiting for the callback
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt)
	defer signal.Stop(sigintCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneCh, handler, err := callback.AuthCodeWithChannel(ctx, kc, success, failed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating auth code handler: %s\n", err)
		return
	}

	var authURL string
	if *register {
		authURL, err = kc.RegisterURL(ctx, loginOpts...)
	} else {
		authURL, err = kc.LoginURL(ctx, loginOpts...)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error getting auth url: %s\n", err)
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", handler)
	listener, err := net.Listen("tcp", "localhost:"+callbackPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		return
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	defer srv.Close()

	srvCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvCh <- err
		}
	}()

	fmt.Fprintf(os.Stderr, "Complete the login via Keycloak. Launching browser to:\n\n    %s\n\n\n", authURL)
	if err := openURL(authURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error attempting to automatically open browser: '%s'.\nPlease visit the authorization URL manually.\n", err)
	}

	// Wait for either the callback to finish, SIGINT to be received or the
	// timeout
	select {
	case err := <-srvCh:
		fmt.Fprintf(os.Stderr, "server closed with error: %s\n", err)
		return
	case resp := <-doneCh:
		if resp.Error != nil {
			fmt.Fprintf(os.Stderr, "channel received error: %s\n", resp.Error)
			return
		}
		printTokens(resp.Tokens)
		fmt.Fprintf(os.Stderr, "Account console:\n    %s\n", kc.AccountURL())
		fmt.Fprintf(os.Stderr, "Logout:\n    %s\n", kc.LogoutURL(oidc.WithIDTokenHint(resp.Tokens.IDToken)))
		if *refresh {
			refreshTokens(ctx, kc, resp.Tokens)
		}
	case <-sigintCh:
		fmt.Fprintf(os.Stderr, "Interrupted\n")
	case <-time.After(*timeout):
		fmt.Fprintf(os.Stderr, "Timed out waiting for response from provider\n")
	}
}

// getConfig returns the flag value, the environment variable or the default,
// in that order.
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultValue
}

func loadConfig(adapterConfig, serverURL, realm, clientID, redirectURL string) (*oidc.Config, error) {
	const op = "loadConfig"
	opts := []oidc.Option{
		oidc.WithRedirectURI(redirectURL),
		oidc.WithResponseMode(oidc.ResponseModeQuery),
	}
	if adapterConfig != "" {
		data, err := os.ReadFile(adapterConfig)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return oidc.NewConfigFromJSON(data, opts...)
	}
	c, err := oidc.NewConfig(
		getConfig(serverURL, envServerURL, ""),
		getConfig(realm, envRealm, ""),
		getConfig(clientID, envClientID, ""),
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func parseLocales(s string) ([]language.Tag, error) {
	var tags []language.Tag
	for _, l := range strings.Fields(s) {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", l, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// success writes the page shown in the browser after logging in.
func success(state string, t *oidc.TokenSet, newURL string, w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(successHTML)); err != nil {
		fmt.Fprintf(os.Stderr, "error writing successful response: %s\n", err)
	}
}

// failed writes the error shown in the browser when the callback fails.
func failed(state string, r *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	const op = "failed"
	var msg string
	switch {
	case r != nil:
		msg = fmt.Sprintf("login failed: %s", r.Error)
		if r.Description != "" {
			msg += ": " + r.Description
		}
		w.WriteHeader(http.StatusUnauthorized)
	case e != nil:
		msg = fmt.Sprintf("login failed: %s", e)
		w.WriteHeader(http.StatusInternalServerError)
	default:
		msg = "login failed: unknown error from callback"
		w.WriteHeader(http.StatusInternalServerError)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		fmt.Fprintf(os.Stderr, "%s: error writing failed response: %s\n", op, err)
	}
}

func refreshTokens(ctx context.Context, kc *oidc.Keycloak, t *oidc.TokenSet) {
	const op = "refreshTokens"
	if t.RefreshToken == "" {
		fmt.Fprintf(os.Stderr, "%s: no refresh_token received\n", op)
		return
	}
	refreshed, err := kc.TokenRefresh(ctx, t.RefreshToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", op, err)
		return
	}
	fmt.Fprintf(os.Stderr, "Refreshed, access_token now expires at %s\n", refreshed.ExpiresAtLocal().Format(time.RFC3339))
}

type respTokens struct {
	IDToken        string
	AccessToken    string
	RefreshToken   string
	ExpiresAtLocal time.Time
	TimeSkew       string
	IDTokenClaims  oidc.Claims
}

func printTokens(t *oidc.TokenSet) {
	const op = "printTokens"
	// the token types redact themselves, so they're converted to strings
	data, err := json.MarshalIndent(respTokens{
		IDToken:        string(t.IDToken),
		AccessToken:    string(t.AccessToken),
		RefreshToken:   string(t.RefreshToken),
		ExpiresAtLocal: t.ExpiresAtLocal(),
		TimeSkew:       t.TimeSkew().String(),
		IDTokenClaims:  t.IDTokenClaims,
	}, "", "    ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", op, err)
		return
	}
	fmt.Fprintf(os.Stderr, "channel received success.\nTokens:%s\n", data)
}

// openURL opens the specified URL in the default browser of the user.
func openURL(url string) error {
	var cmd string
	var args []string

	switch {
	case "windows" == runtime.GOOS || isWSL():
		cmd = "cmd.exe"
		args = []string{"/c", "start"}
		url = strings.ReplaceAll(url, "&", "^&")
	case "darwin" == runtime.GOOS:
		cmd = "open"
	default: // "linux", "freebsd", "openbsd", "netbsd"
		cmd = "xdg-open"
	}
	args = append(args, url)
	return exec.Command(cmd, args...).Start()
}

// isWSL tests if the binary is being run in Windows Subsystem for Linux
func isWSL() bool {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		return false
	}
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

const successHTML = `
<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>Keycloak login</title>
    <style>
      body { font-family: sans-serif; margin: 4em; color: #333; }
      h1 { font-size: 1.4em; }
    </style>
  </head>
  <body>
    <h1>Signed in</h1>
    <p>You can close this window and return to the CLI.</p>
  </body>
</html>
`
