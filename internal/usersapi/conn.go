package usersapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/frahmantamala/payment-dashboard/internal/auth"
)

var _ auth.Backend = (*Conn)(nil)

// Conn is the users API as seen by one browser session.
type Conn struct {
	client    *Client
	sessionID string
	store     TokenStore
}

func (c *Conn) VerifyCredentials(ctx context.Context, email, password string) error {
	return c.client.do(ctx, http.MethodPost, "/auth/login", "", credentialsRequest{Email: email, Password: password}, nil)
}

// ConfirmCode exchanges the code for an access token. When the response
// carries no user, /users/me is asked. The token is kept only on Commit.
func (c *Conn) ConfirmCode(ctx context.Context, email, code string) (*auth.Grant, error) {
	var resp tokenResponse
	if err := c.client.do(ctx, http.MethodPost, "/auth/confirm-login", "", confirmRequest{Email: email, Code: code}, &resp); err != nil {
		return nil, err
	}
	if err := validate.Struct(&resp); err != nil {
		return nil, auth.Transport(fmt.Errorf("invalid token payload: %w", err))
	}

	grant := &auth.Grant{Token: resp.AccessToken}
	if resp.User == nil {
		p, err := c.me(ctx, resp.AccessToken)
		if err != nil {
			return grant, err
		}
		grant.Principal = p
		return grant, nil
	}
	p, err := resp.User.principal()
	if err != nil {
		return grant, auth.Transport(err)
	}
	grant.Principal = p
	return grant, nil
}

func (c *Conn) Commit(ctx context.Context, grant *auth.Grant) error {
	if err := c.store.Save(ctx, c.sessionID, grant.Token, c.client.tokenTTL); err != nil {
		return auth.Transport(fmt.Errorf("failed to store access token: %w", err))
	}
	return nil
}

// Discard revokes the grant's token remotely. The stored token is untouched.
func (c *Conn) Discard(ctx context.Context, grant *auth.Grant) error {
	return c.client.do(ctx, http.MethodPost, "/auth/logout", grant.Token, nil, nil)
}

func (c *Conn) ResendCode(ctx context.Context, email string) error {
	return c.client.do(ctx, http.MethodPost, "/auth/resend-code", "", resendRequest{Email: email}, nil)
}

// CurrentSession asks the API who owns the stored token. No token, or a 401
// for it, means there is no session.
func (c *Conn) CurrentSession(ctx context.Context) (*auth.Principal, error) {
	token, err := c.store.Load(ctx, c.sessionID)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, auth.Transport(fmt.Errorf("failed to load access token: %w", err))
	}

	p, err := c.me(ctx, token)
	var be *auth.BackendError
	if errors.As(err, &be) && be.Kind == auth.FailureRejected && be.StatusCode == http.StatusUnauthorized {
		if derr := c.store.Delete(ctx, c.sessionID); derr != nil {
			c.client.logger.Warn("failed to drop rejected access token", "session_id", c.sessionID, "error", derr)
		}
		return nil, nil
	}
	return p, err
}

// Logout forgets the token locally, then revokes it remotely.
func (c *Conn) Logout(ctx context.Context) error {
	token, err := c.store.Load(ctx, c.sessionID)
	if errors.Is(err, ErrTokenNotFound) {
		return nil
	}
	if err != nil {
		return auth.Transport(fmt.Errorf("failed to load access token: %w", err))
	}
	if derr := c.store.Delete(ctx, c.sessionID); derr != nil {
		c.client.logger.Warn("failed to delete access token", "session_id", c.sessionID, "error", derr)
	}
	return c.client.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil)
}

func (c *Conn) me(ctx context.Context, token string) (*auth.Principal, error) {
	var user userResponse
	if err := c.client.do(ctx, http.MethodGet, "/users/me", token, nil, &user); err != nil {
		return nil, err
	}
	p, err := user.principal()
	if err != nil {
		return nil, auth.Transport(err)
	}
	return p, nil
}
