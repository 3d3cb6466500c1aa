// Package gateway implements the HTTP client for the remote ProfitPulse
// account/auth gateway. The gateway owns all business logic (account
// creation, authentication, broker profile retrieval); this client only
// shapes requests, attaches the bearer token, and converts failures
// into typed errors.
//
// Every operation is attempt-once: there are no retries, the user
// retries failed actions manually.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nisargdongare/ProfitPulse/internal/domain"
)

// ErrSessionExpired is returned when the gateway answers 403. The
// configured expiry hook has already run by the time callers see it.
var ErrSessionExpired = errors.New("gateway: session expired")

// AuthError is a login or signup rejected by the gateway, surfaced to
// the dashboard as a page-level banner.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("gateway: auth rejected (%d): %s", e.StatusCode, e.Message)
}

// FetchError is a failed profile retrieval. It forces the connection
// status back to NotConnectedExplicit; it is never propagated as an
// uncaught failure.
type FetchError struct {
	Message string
}

func (e *FetchError) Error() string {
	return "gateway: profile fetch failed: " + e.Message
}

// TokenSource supplies the current bearer token, or "" when logged out.
// The session store satisfies this.
type TokenSource interface {
	Token() string
}

// SignupRequest is the body of POST /users/signup, field names as the
// gateway expects them.
type SignupRequest struct {
	FirstName string `json:"FIRST_NAME"`
	LastName  string `json:"LAST_NAME"`
	Email     string `json:"EMAIL"`
	Mobile    string `json:"MOBILE"`
	Password  string `json:"PASSWORD"`
	Role      string `json:"ROLE"`
}

// Client is the gateway HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource

	// onSessionExpired runs once per 403 response, before
	// ErrSessionExpired is returned. Used to clear the session store
	// and the persisted cache.
	onSessionExpired func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSessionExpiredHook sets the hook invoked on a 403 response.
func WithSessionExpiredHook(fn func()) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// NewClient creates a gateway client for the given base URL
// (e.g. "http://localhost:4000/api/v1").
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loginUser struct {
	UserID    string `json:"userId"`
	Email     string `json:"EMAIL"`
	Role      string `json:"role"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type loginResponse struct {
	User  loginUser `json:"user"`
	Token string    `json:"token"`
}

// Login exchanges email/password for a session. Rejections come back as
// *AuthError.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	body := map[string]string{"EMAIL": email, "PASSWORD": password}

	resp, err := c.do(ctx, http.MethodPost, "/users/login", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decoding login response: %w", err)
	}

	return &domain.Session{
		UserID:    lr.User.UserID,
		Email:     lr.User.Email,
		Role:      lr.User.Role,
		FirstName: lr.User.FirstName,
		LastName:  lr.User.LastName,
		Token:     lr.Token,
	}, nil
}

// Signup creates a new account and returns the gateway's created-account
// payload as-is.
func (c *Client) Signup(ctx context.Context, req *SignupRequest) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodPost, "/users/signup", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading signup response: %w", err)
	}
	return json.RawMessage(raw), nil
}

// Profile retrieves the broker account profile for the current session.
// Failures come back as *FetchError (or ErrSessionExpired on 403).
func (c *Client) Profile(ctx context.Context) (*domain.BrokerProfile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/zerodha/profile", nil)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return nil, err
		}
		return nil, &FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Message: readErrorMessage(resp.Body)}
	}

	var p domain.BrokerProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, &FetchError{Message: "decoding profile: " + err.Error()}
	}
	return &p, nil
}

// LoginURL builds the parameterized broker-login URL the child window is
// pointed at.
func (c *Client) LoginURL(apiKey, apiSecret, userID string) string {
	q := url.Values{}
	q.Set("API_KEY", apiKey)
	q.Set("API_SECRET", apiSecret)
	q.Set("userId", userID)
	return c.baseURL + "/zerodha/login?" + q.Encode()
}

// do issues one request with JSON body and bearer token, mapping 403 to
// ErrSessionExpired after running the expiry hook.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		if c.onSessionExpired != nil {
			c.onSessionExpired()
		}
		return nil, ErrSessionExpired
	}
	return resp, nil
}

// readErrorMessage pulls a human-readable message out of a gateway error
// body, falling back to the raw body.
func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return string(raw)
}
