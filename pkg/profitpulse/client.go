// Package profitpulse provides a Go SDK for the ProfitPulse dashboard
// backend API. It keeps the bearer token from a successful login and
// attaches it to subsequent calls.
package profitpulse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client talks to a profitpulse-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewClient creates a new ProfitPulse API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns the bearer token captured by the last successful Login,
// or "" when logged out.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// User is the authenticated admin account.
type User struct {
	UserID    string `json:"userId"`
	Email     string `json:"EMAIL"`
	Role      string `json:"role"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// APIError carries a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("profitpulse: %s (status %d)", e.Message, e.StatusCode)
}

// Login authenticates and stores the returned bearer token on the
// client.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var out struct {
		User  *User  `json:"user"`
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/users/login", map[string]string{
		"EMAIL":    email,
		"PASSWORD": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return out.User, nil
}

// SignupParams is the admin-account creation form.
type SignupParams struct {
	FirstName string `json:"FIRST_NAME"`
	LastName  string `json:"LAST_NAME"`
	Email     string `json:"EMAIL"`
	Mobile    string `json:"MOBILE"`
	Password  string `json:"PASSWORD"`
	Role      string `json:"ROLE"`
}

// Signup creates a new admin account. It does not log the client in.
func (c *Client) Signup(ctx context.Context, params *SignupParams) error {
	return c.do(ctx, http.MethodPost, "/api/v1/users/signup", params, nil)
}

// Logout ends the server-side session and forgets the local token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/v1/users/logout", nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

// LinkAttempt describes an in-flight broker credential-link handshake.
type LinkAttempt struct {
	ID       string `json:"attempt_id"`
	LoginURL string `json:"login_url"`
}

// OpenLink starts a broker login handshake and returns the broker login
// URL to open in a browser.
func (c *Client) OpenLink(ctx context.Context, apiKey, apiSecret string) (*LinkAttempt, error) {
	var attempt LinkAttempt
	err := c.do(ctx, http.MethodPost, "/api/v1/link/open", map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}, &attempt)
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

// LinkStatus is the connection-status report.
type LinkStatus struct {
	Status      string `json:"status"`
	LastUpdated string `json:"last_updated"`
	FetchError  string `json:"fetch_error"`
	Dropped     uint64 `json:"dropped_messages"`
}

// Linked reports whether the broker account is connected.
func (s *LinkStatus) Linked() bool { return s.Status == "Service Connected" }

// GetLinkStatus retrieves the current broker connection status.
func (c *Client) GetLinkStatus(ctx context.Context) (*LinkStatus, error) {
	var status LinkStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/link/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetProfile retrieves the linked broker account profile as raw JSON.
func (c *Client) GetProfile(ctx context.Context) ([]byte, error) {
	return c.doRaw(ctx, http.MethodGet, "/api/v1/zerodha/profile", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	raw, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		json.Unmarshal(raw, &payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return raw, nil
}
