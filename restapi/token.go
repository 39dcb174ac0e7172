package restapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/identiko/userbridge/internal/config"
)

// authMode selects the authorization strategy for secured calls.
type authMode int

const (
	authNone authMode = iota
	authBasic
	authOAuth
)

// TokenManager supplies the value for the Authorization header of secured
// calls, or nothing when the strategy is NONE. It owns all credential state:
// the memoized basic token and the OAuth2 access/refresh token pair.
//
// It is safe for concurrent use. Token negotiation is serialized per
// manager; concurrent callers of an expired token wait for a single
// refresh rather than racing the token endpoint.
type TokenManager struct {
	mode authMode

	basicUsername string
	basicPassword string
	basicOnce     sync.Once
	basicToken    string

	clientID      string
	clientSecret  string
	scope         string
	tokenEndpoint string

	mu    sync.RWMutex
	token *oauth2.Token

	exec   func(req *http.Request) (Envelope, error)
	logger *slog.Logger
	now    func() time.Time
}

func newTokenManager(cfg *config.Config, exec func(req *http.Request) (Envelope, error), logger *slog.Logger) *TokenManager {
	tm := &TokenManager{
		basicUsername: cfg.BasicUsername,
		basicPassword: cfg.BasicPassword,
		clientID:      cfg.OAuthClientID,
		clientSecret:  cfg.OAuthClientSecret,
		scope:         cfg.OAuthScope,
		tokenEndpoint: cfg.OAuthTokenEndpoint,
		exec:          exec,
		logger:        logger,
		now:           time.Now,
	}

	switch cfg.AuthType {
	case config.AuthBasic:
		tm.mode = authBasic
	case config.AuthOAuth:
		tm.mode = authOAuth
	default:
		tm.mode = authNone
	}

	return tm
}

// authorizationHeader returns the Authorization value for a secured call.
// An empty string with a nil error means no header is set (strategy NONE).
func (tm *TokenManager) authorizationHeader(ctx context.Context) (string, error) {
	switch tm.mode {
	case authBasic:
		tm.basicOnce.Do(func() {
			creds := tm.basicUsername + ":" + tm.basicPassword
			tm.basicToken = base64.StdEncoding.EncodeToString([]byte(creds))
		})
		return "Basic " + tm.basicToken, nil
	case authOAuth:
		token, err := tm.accessToken(ctx)
		if err != nil {
			return "", err
		}
		return "Bearer " + token, nil
	default:
		return "", nil
	}
}

// accessToken returns a currently-valid OAuth2 access token, negotiating
// with the token endpoint as needed:
//
//   - no token cached: client-credentials grant, failure propagates
//   - token expired: refresh grant; if the refresh fails, one fresh
//     client-credentials grant before giving up
//
// The returned token's recorded expiry is always in the future.
func (tm *TokenManager) accessToken(ctx context.Context) (string, error) {
	tm.mu.RLock()
	if tm.tokenValid() {
		token := tm.token.AccessToken
		tm.mu.RUnlock()
		return token, nil
	}
	tm.mu.RUnlock()

	tm.mu.Lock()
	defer tm.mu.Unlock()

	// Another caller may have finished negotiating while we waited.
	if tm.tokenValid() {
		return tm.token.AccessToken, nil
	}

	if tm.token == nil {
		token, err := tm.requestToken(ctx, tm.clientCredentialsForm())
		if err != nil {
			return "", fmt.Errorf("acquiring access token: %w", err)
		}
		tm.token = token
		return token.AccessToken, nil
	}

	var token *oauth2.Token
	if tm.token.RefreshToken != "" {
		refreshed, err := tm.requestToken(ctx, tm.refreshForm())
		if err != nil {
			tm.logger.Warn("token refresh failed, requesting a fresh token", "error", err)
		} else {
			token = refreshed
		}
	}
	if token == nil {
		fresh, err := tm.requestToken(ctx, tm.clientCredentialsForm())
		if err != nil {
			return "", fmt.Errorf("reacquiring access token: %w", err)
		}
		token = fresh
	}
	tm.token = token
	return token.AccessToken, nil
}

// tokenValid reports whether the cached token can still be used. Callers
// must hold at least the read lock.
func (tm *TokenManager) tokenValid() bool {
	return tm.token != nil && tm.token.AccessToken != "" && tm.now().Before(tm.token.Expiry)
}

func (tm *TokenManager) clientCredentialsForm() url.Values {
	return url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {tm.clientID},
		"client_secret": {tm.clientSecret},
		"scope":         {tm.scope},
	}
}

func (tm *TokenManager) refreshForm() url.Values {
	return url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {tm.clientID},
		"client_secret": {tm.clientSecret},
		"refresh_token": {tm.token.RefreshToken},
	}
}

// requestToken posts one form-encoded grant to the token endpoint and parses
// the token response. A single attempt; the caller decides about fallbacks.
func (tm *TokenManager) requestToken(ctx context.Context, form url.Values) (*oauth2.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	env, err := tm.exec(req)
	if err != nil {
		return nil, err
	}
	if !env.Success() {
		return nil, fmt.Errorf("token endpoint: %w", &BackendError{Status: env.Status, Body: env.Body})
	}

	body, ok := env.Object()
	if !ok {
		return nil, fmt.Errorf("token endpoint returned a non-object body")
	}

	access := body.Get("access_token").String()
	if access == "" {
		return nil, fmt.Errorf("token endpoint response has no access_token")
	}

	token := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: body.Get("refresh_token").String(),
		TokenType:    "Bearer",
		Expiry:       tm.now().Add(time.Duration(body.Get("expires_in").Int()) * time.Second),
	}

	tm.logger.Debug("obtained access token", "grant_type", form.Get("grant_type"), "expires", token.Expiry.Format(time.RFC3339))

	return token, nil
}
