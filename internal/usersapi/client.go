package usersapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/frahmantamala/payment-dashboard/internal/auth"
)

const maxResponseBytes = 1 << 20

var validate = validator.New()

type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	TokenTTL time.Duration
}

// Client talks to the users API. It is shared by all browser sessions; use
// ForSession to get a per-session auth.Backend.
type Client struct {
	baseURL    string
	apiKey     string
	tokenTTL   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tokenTTL := config.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		tokenTTL:   tokenTTL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ForSession binds the client to a browser session whose access token is
// kept in store.
func (c *Client) ForSession(sessionID string, store TokenStore) *Conn {
	return &Conn{client: c, sessionID: sessionID, store: store}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type confirmRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resendRequest struct {
	Email string `json:"email"`
}

type userResponse struct {
	ID          flexibleID `json:"id"`
	Email       string     `json:"email" validate:"required,email"`
	IsActive    bool       `json:"is_active"`
	IsVerified  bool       `json:"is_verified"`
	IsStaff     bool       `json:"is_staff"`
	IsSuperuser bool       `json:"is_superuser"`
	IsBlocked   bool       `json:"is_blocked"`
}

func (u *userResponse) principal() (*auth.Principal, error) {
	if err := validate.Struct(u); err != nil {
		return nil, fmt.Errorf("invalid user payload: %w", err)
	}
	return &auth.Principal{
		ID:          string(u.ID),
		Email:       strings.ToLower(u.Email),
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
		IsActive:    u.IsActive,
		IsVerified:  u.IsVerified,
		IsBlocked:   u.IsBlocked,
	}, nil
}

type tokenResponse struct {
	AccessToken string        `json:"access_token" validate:"required"`
	TokenType   string        `json:"token_type"`
	User        *userResponse `json:"user"`
}

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// flexibleID accepts both numeric and string identifiers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// do sends one request. Every failure comes back as *auth.BackendError:
// 4xx as a rejection carrying the API's detail, everything else as a
// transport failure.
func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return auth.Transport(fmt.Errorf("failed to marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return auth.Transport(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("users api request failed", "method", method, "path", path, "error", err)
		return auth.Transport(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return auth.Transport(fmt.Errorf("failed to read response: %w", err))
	}

	c.logger.Debug("users api call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		be := auth.Transport(fmt.Errorf("users api returned status %d", resp.StatusCode))
		be.StatusCode = resp.StatusCode
		return be
	case resp.StatusCode >= http.StatusBadRequest:
		return auth.Rejected(resp.StatusCode, detailOf(raw))
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		if out != nil {
			return auth.Transport(errors.New("empty response body"))
		}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return auth.Transport(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// detailOf extracts the human-readable message of an error body. The API
// sends either {"detail": "text"} or a list of {"msg": "text"} entries.
func detailOf(raw []byte) string {
	var env errorResponse
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Detail) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(env.Detail, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(env.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
