package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/identiko/userbridge/internal/config"
	"github.com/identiko/userbridge/restapi"
)

const (
	testClientID = "userbridge"
	testSecret   = "e2e-secret"
	testScope    = "users"
)

// harness runs an in-process identity API with an OAuth2 token endpoint.
// Secured endpoints require a currently-valid Bearer token, so the client's
// whole token lifecycle is exercised over real HTTP.
type harness struct {
	srv *httptest.Server

	mu            sync.Mutex
	users         map[string]map[string]any
	passwords     map[string]string
	accessTokens  map[string]time.Time // token -> expiry
	refreshTokens map[string]bool
	tokenTTL      time.Duration
	tokenCalls    int
	refreshCalls  int
	refuseRefresh bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		users:         map[string]map[string]any{},
		passwords:     map[string]string{},
		accessTokens:  map[string]time.Time{},
		refreshTokens: map[string]bool{},
		tokenTTL:      time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", h.handleToken)
	mux.HandleFunc("/authenticate", h.handleAuthenticate)
	mux.HandleFunc("/users", h.requireBearer(h.handleUsers))
	mux.HandleFunc("/users/", h.requireBearer(h.handleUser))

	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)

	return h
}

// client builds an OAUTH-configured client against the harness.
func (h *harness) client() *restapi.Client {
	cfg := &config.Config{
		BaseURL:                  h.srv.URL,
		MaxConnections:           5,
		AuthType:                 config.AuthOAuth,
		OAuthClientID:            testClientID,
		OAuthClientSecret:        testSecret,
		OAuthScope:               testScope,
		OAuthTokenEndpoint:       h.srv.URL + "/oauth/token",
		SocketTimeoutMillis:      2000,
		ConnectTimeoutMillis:     1000,
		AcquisitionTimeoutMillis: 1000,
	}
	return restapi.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (h *harness) seedUser(username, password string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users[username] = map[string]any{
		"id":        len(h.users) + 1,
		"username":  username,
		"firstName": username,
		"lastName":  username,
		"email":     username + "@example.com",
		"active":    true,
	}
	h.passwords[username] = password
}

// expireTokens invalidates every outstanding access token, forcing the next
// secured call through the refresh path.
func (h *harness) expireTokens() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for token := range h.accessTokens {
		h.accessTokens[token] = time.Now().Add(-time.Minute)
	}
}

func (h *harness) setRefuseRefresh(refuse bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refuseRefresh = refuse
}

func (h *harness) counts() (token, refresh int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tokenCalls, h.refreshCalls
}

func (h *harness) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("client_id") != testClientID || r.PostForm.Get("client_secret") != testSecret {
		writeOAuthError(w, "invalid_client")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "client_credentials":
		h.tokenCalls++
		if r.PostForm.Get("scope") != testScope {
			writeOAuthError(w, "invalid_scope")
			return
		}
	case "refresh_token":
		h.refreshCalls++
		if h.refuseRefresh || !h.refreshTokens[r.PostForm.Get("refresh_token")] {
			writeOAuthError(w, "invalid_grant")
			return
		}
	default:
		writeOAuthError(w, "unsupported_grant_type")
		return
	}

	access := "at-" + uuid.NewString()
	refresh := "rt-" + uuid.NewString()
	h.accessTokens[access] = time.Now().Add(h.tokenTTL)
	h.refreshTokens[refresh] = true

	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    int(h.tokenTTL.Seconds()),
	})
}

func writeOAuthError(w http.ResponseWriter, code string) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, `{"error":%q}`, code)
}

func (h *harness) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		h.mu.Lock()
		expiry, known := h.accessTokens[token]
		h.mu.Unlock()

		if !known || time.Now().After(expiry) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *harness) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var creds map[string]string
	if err := json.Unmarshal(body, &creds); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	password, ok := h.passwords[creds["username"]]
	h.mu.Unlock()

	if !ok || password != creds["password"] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *harness) handleUsers(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		pattern := r.URL.Query().Get("username")
		out := []map[string]any{}
		for name, user := range h.users {
			if pattern == "" || strings.Contains(name, pattern) {
				out = append(out, user)
			}
		}
		_ = json.NewEncoder(w).Encode(out)

	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		username, _ := payload["username"].(string)
		if username == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payload["id"] = len(h.users) + 1
		h.users[username] = payload
		if password, ok := payload["password"].(string); ok {
			h.passwords[username] = password
		}
		_ = json.NewEncoder(w).Encode(payload)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *harness) handleUser(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimPrefix(r.URL.Path, "/users/")

	h.mu.Lock()
	defer h.mu.Unlock()

	user, ok := h.users[username]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(user)

	case http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		var patch map[string]any
		if err := json.Unmarshal(body, &patch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for k, v := range patch {
			user[k] = v
			if k == "password" {
				h.passwords[username], _ = v.(string)
			}
		}
		w.WriteHeader(http.StatusOK)

	case http.MethodDelete:
		delete(h.users, username)
		delete(h.passwords, username)
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
