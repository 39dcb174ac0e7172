// Package provider is the thin layer between a host identity framework and
// the REST backend client. It memoizes user lookups for the duration of one
// unit of work so a user referenced several times in one logical operation
// is fetched only once.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/identiko/userbridge/internal/logging"
	"github.com/identiko/userbridge/restapi"
)

// Provider serves one unit of work (one inbound request or session of the
// host framework). It is not safe for concurrent use; the Client it wraps
// is shared and concurrency-safe.
type Provider struct {
	client *restapi.Client
	logger *slog.Logger

	// users looked up successfully during this unit of work
	loaded map[string]*restapi.User
}

// New wraps the shared client for one unit of work.
func New(client *restapi.Client, logger *slog.Logger) *Provider {
	return &Provider{
		client: client,
		logger: logging.ForComponent(logger, "provider"),
		loaded: make(map[string]*restapi.User),
	}
}

// GetUserByUsername returns the user, consulting the per-unit-of-work cache
// first. Absence (nil, nil) is not cached; a later call asks the backend
// again.
func (p *Provider) GetUserByUsername(ctx context.Context, username string) (*restapi.User, error) {
	if user, ok := p.loaded[username]; ok {
		p.logger.Debug("returning user from cache", "username", username)
		return user, nil
	}

	user, err := p.client.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		p.logger.Debug("user not found in repo", "username", username)
		return nil, nil
	}

	p.loaded[username] = user
	return user, nil
}

// AddUser creates the user remotely and seeds the cache with the created
// representation.
func (p *Provider) AddUser(ctx context.Context, username string) (*restapi.User, error) {
	user, err := p.client.CreateUser(ctx, username)
	if err != nil {
		return nil, err
	}
	p.loaded[username] = user
	return user, nil
}

// RemoveUser deletes the user remotely and drops it from the cache.
func (p *Provider) RemoveUser(ctx context.Context, username string) error {
	if err := p.client.DeleteUser(ctx, username); err != nil {
		return err
	}
	delete(p.loaded, username)
	return nil
}

// SearchForUser windows the backend's search result: entries [from,
// from+pageSize) of the users matching pattern. An empty pattern matches
// all users.
func (p *Provider) SearchForUser(ctx context.Context, pattern string, from, pageSize int) ([]restapi.User, error) {
	users, err := p.client.FindUsers(ctx, pattern)
	if err != nil {
		return nil, err
	}

	if from < 0 {
		from = 0
	}
	if from >= len(users) {
		return nil, nil
	}
	end := len(users)
	if pageSize >= 0 && from+pageSize < end {
		end = from + pageSize
	}
	return users[from:end], nil
}

// IsValid checks the user's password against the backend.
func (p *Provider) IsValid(ctx context.Context, username, password string) (bool, error) {
	return p.client.Authenticate(ctx, username, password)
}

// UpdateAttribute patches one attribute of the user.
func (p *Provider) UpdateAttribute(ctx context.Context, username, attribute string, value any) error {
	return p.client.SetUserAttribute(ctx, username, attribute, value)
}

// UpdateCredential replaces the user's password.
func (p *Provider) UpdateCredential(ctx context.Context, username, password string) error {
	return p.client.SetUserAttribute(ctx, username, "password", password)
}

// DisableCredential replaces the user's password with an unguessable value,
// effectively locking the account out of password authentication.
func (p *Provider) DisableCredential(ctx context.Context, username string) error {
	return p.client.SetUserAttribute(ctx, username, "password", restapi.RandomPassword())
}

// SetUserStatus enables or disables the account.
func (p *Provider) SetUserStatus(ctx context.Context, username string, active bool) error {
	if err := p.client.SetUserStatus(ctx, username, active); err != nil {
		return fmt.Errorf("updating status of user %s: %w", username, err)
	}
	if user, ok := p.loaded[username]; ok {
		user.Active = active
	}
	return nil
}
