// Package restapi implements the REST backend client of the identity
// adapter: a pooled HTTP client with pluggable authorization (none, static
// basic credentials, or OAuth2 client credentials with transparent refresh)
// and the user operations of the remote identity API.
package restapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/identiko/userbridge/internal/config"
	"github.com/identiko/userbridge/internal/logging"
)

// User is the identity API's user representation.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Active    bool   `json:"active"`
}

// Client talks to the remote identity API. One Client is long-lived and
// shared by all concurrent callers; it owns the connection pool and the
// credential state.
type Client struct {
	baseURL   string
	transport *transport
	tokens    *TokenManager
	logger    *slog.Logger
}

// New builds a Client from an already-validated configuration. A nil logger
// falls back to slog.Default.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	logger = logging.ForComponent(logger, "restapi")
	tr := newTransport(cfg, logger)
	return &Client{
		baseURL:   cfg.BaseURL,
		transport: tr,
		tokens:    newTokenManager(cfg, tr.execute, logger),
		logger:    logger,
	}
}

// Authenticate checks the username/password pair against the backend.
// Any non-200 status means the credentials were rejected; only transport
// failures return an error.
func (c *Client) Authenticate(ctx context.Context, username, password string) (bool, error) {
	c.logger.Info("authenticating user", "username", username)

	env, err := c.call(ctx, http.MethodPost, "/authenticate", map[string]string{
		"username": username,
		"password": password,
	}, false)
	if err != nil {
		return false, fmt.Errorf("authenticating user %s: %w", username, err)
	}

	return env.Success(), nil
}

// FindUserByUsername looks up one user. A 404 is a routine outcome and
// returns (nil, nil); any other non-200 status is a hard failure.
func (c *Client) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	env, err := c.call(ctx, http.MethodGet, "/users/"+url.PathEscape(username), nil, true)
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", username, err)
	}

	if env.Status == http.StatusNotFound {
		c.logger.Debug("user not found", "username", username)
		return nil, nil
	}
	if !env.Success() {
		return nil, fmt.Errorf("getting user %s: %w", username, &BackendError{Status: env.Status, Body: env.Body})
	}

	obj, ok := env.Object()
	if !ok {
		return nil, fmt.Errorf("getting user %s: backend returned a non-object body", username)
	}

	user := userFromJSON(obj)
	return &user, nil
}

// FindUsers searches users by username pattern. An empty pattern lists all
// users. Listing is assumed always possible, so any non-200 is a hard
// failure.
func (c *Client) FindUsers(ctx context.Context, pattern string) ([]User, error) {
	path := "/users"
	if pattern != "" {
		path += "?username=" + url.QueryEscape(pattern)
	}

	env, err := c.call(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, fmt.Errorf("searching users with pattern %q: %w", pattern, err)
	}
	if !env.Success() {
		return nil, fmt.Errorf("searching users with pattern %q: %w", pattern, &BackendError{Status: env.Status, Body: env.Body})
	}

	items, ok := env.Array()
	if !ok {
		return nil, fmt.Errorf("searching users with pattern %q: backend returned a non-array body", pattern)
	}

	users := make([]User, 0, len(items))
	for _, item := range items {
		users = append(users, userFromJSON(item))
	}
	return users, nil
}

// CreateUser registers a new user with placeholder attributes and a random
// password, pending its real credential. The upstream contract makes 200 the
// only success status, so a 201 here is a failure.
func (c *Client) CreateUser(ctx context.Context, username string) (*User, error) {
	c.logger.Info("creating user", "username", username)

	env, err := c.call(ctx, http.MethodPost, "/users", map[string]any{
		"username":  username,
		"email":     username + "@localhost",
		"firstName": username,
		"lastName":  username,
		"password":  RandomPassword(),
		"active":    true,
	}, true)
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", username, err)
	}
	if !env.Success() {
		return nil, fmt.Errorf("creating user %s: %w", username, &BackendError{Status: env.Status, Body: env.Body})
	}

	obj, ok := env.Object()
	if !ok {
		return nil, fmt.Errorf("creating user %s: backend returned a non-object body", username)
	}

	user := userFromJSON(obj)
	return &user, nil
}

// SetUserAttribute patches a single attribute of a user.
func (c *Client) SetUserAttribute(ctx context.Context, username, attribute string, value any) error {
	c.logger.Info("setting user attribute", "username", username, "attribute", attribute)

	env, err := c.call(ctx, http.MethodPatch, "/users/"+url.PathEscape(username), map[string]any{
		attribute: value,
	}, true)
	if err != nil {
		return fmt.Errorf("setting attribute %s on user %s: %w", attribute, username, err)
	}
	if !env.Success() {
		return fmt.Errorf("setting attribute %s on user %s: %w", attribute, username, &BackendError{Status: env.Status, Body: env.Body})
	}
	return nil
}

// SetUserStatus enables or disables a user account.
func (c *Client) SetUserStatus(ctx context.Context, username string, active bool) error {
	return c.SetUserAttribute(ctx, username, "active", active)
}

// DeleteUser removes a user. Deleting an already-absent user surfaces as a
// BackendError with status 404, which errors.Is-matches ErrNotFound.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	c.logger.Info("deleting user", "username", username)

	env, err := c.call(ctx, http.MethodDelete, "/users/"+url.PathEscape(username), nil, true)
	if err != nil {
		return fmt.Errorf("deleting user %s: %w", username, err)
	}
	if !env.Success() {
		return fmt.Errorf("deleting user %s: %w", username, &BackendError{Status: env.Status, Body: env.Body})
	}
	return nil
}

// call builds one request against the backend and executes it, attaching
// the Authorization header first when the operation is secured.
func (c *Client) call(ctx context.Context, method, path string, body any, secured bool) (Envelope, error) {
	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshalling request body: %w", err)
		}
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	if secured {
		header, err := c.tokens.authorizationHeader(ctx)
		if err != nil {
			return Envelope{}, err
		}
		if header != "" {
			req.Header.Set("Authorization", header)
		}
	}

	return c.transport.execute(req)
}

func userFromJSON(obj gjson.Result) User {
	return User{
		ID:        obj.Get("id").Int(),
		Username:  obj.Get("username").String(),
		FirstName: obj.Get("firstName").String(),
		LastName:  obj.Get("lastName").String(),
		Email:     obj.Get("email").String(),
		Active:    obj.Get("active").Bool(),
	}
}

// passwordAlphabet is the fixed charset for generated placeholder
// credentials: ASCII digits, uppercase and lowercase letters.
const passwordAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const passwordLength = 10

// RandomPassword generates an unguessable placeholder credential, used both
// for seeding new accounts and for disabling an existing credential.
func RandomPassword() string {
	out := make([]byte, passwordLength)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err) // crypto/rand is unavailable, nothing sane to do
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out)
}
