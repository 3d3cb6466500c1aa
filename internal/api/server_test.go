package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nisargdongare/ProfitPulse/internal/cache"
	"github.com/nisargdongare/ProfitPulse/internal/config"
	"github.com/nisargdongare/ProfitPulse/internal/domain"
	"github.com/nisargdongare/ProfitPulse/internal/events"
	"github.com/nisargdongare/ProfitPulse/internal/gateway"
	"github.com/nisargdongare/ProfitPulse/internal/link"
	"github.com/nisargdongare/ProfitPulse/internal/session"
)

const trustedOrigin = "http://localhost:3000"

// gatewayCtl toggles failure modes on the fake gateway.
type gatewayCtl struct {
	mu          sync.Mutex
	profileFail bool
}

func (g *gatewayCtl) setProfileFail(v bool) {
	g.mu.Lock()
	g.profileFail = v
	g.mu.Unlock()
}

func (g *gatewayCtl) profileFailing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.profileFail
}

// newFakeGateway serves the three gateway endpoints the backend calls.
func newFakeGateway(t *testing.T) (*httptest.Server, *gatewayCtl) {
	t.Helper()
	ctl := &gatewayCtl{}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["EMAIL"] != "a@b.com" || body["PASSWORD"] != "12345678" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"user":  map[string]string{"userId": "U1", "EMAIL": "a@b.com", "role": "admin"},
			"token": "tok123",
		})
	})
	mux.HandleFunc("/users/signup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"userId": "U2", "EMAIL": "new@b.com"})
	})
	mux.HandleFunc("/zerodha/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if ctl.profileFailing() {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "broker unreachable"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"user_id": "AB1234", "user_name": "Ada", "exchanges": []string{"NSE"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, ctl
}

type testEnv struct {
	api      *httptest.Server
	sessions *session.Store
	cache    *cache.SQLiteCache
	coord    *link.Coordinator
	gwCtl    *gatewayCtl
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	gwSrv, gwCtl := newFakeGateway(t)

	cfg := config.Default()
	cfg.Gateway.BaseURL = gwSrv.URL
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "pp.db")

	sessions := session.NewStore()
	c, err := cache.Open(cfg.Storage.SQLitePath)
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw := gateway.NewClient(gwSrv.URL, sessions)
	coord := link.NewCoordinator(link.Config{
		TrustedOrigins: cfg.Link.TrustedOrigins,
	}, sessions, gw, events.Nop{}, c, link.NopOpener, log)
	coord.Start()
	t.Cleanup(coord.Close)

	srv := NewServer(cfg, sessions, c, gw, coord, log)
	api := httptest.NewServer(srv.Router())
	t.Cleanup(api.Close)

	return &testEnv{api: api, sessions: sessions, cache: c, coord: coord, gwCtl: gwCtl}
}

func (e *testEnv) post(t *testing.T, path string, body any, header map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encoding body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.api.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	resp := e.post(t, "/api/v1/users/login",
		map[string]string{"EMAIL": "a@b.com", "PASSWORD": "12345678"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
}

func waitProfile(t *testing.T, c *link.Coordinator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, _ := c.Profile(); p != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("profile fetch did not complete")
}

func waitStatus(t *testing.T, s *session.Store, want domain.ConnectionStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %v, want %v", s.Status(), want)
}

func TestLoginSuccess(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/users/login",
		map[string]string{"EMAIL": "a@b.com", "PASSWORD": "12345678"}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		User  *domain.Session `json:"user"`
		Token string          `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Token != "tok123" {
		t.Errorf("token = %q, want %q", body.Token, "tok123")
	}
	if e.sessions.Token() != "tok123" {
		t.Error("session store should hold the new token")
	}

	// The session mirror must be persisted.
	details, err := e.cache.LoadLoginDetails(resp.Request.Context())
	if err != nil {
		t.Fatalf("loading cached details: %v", err)
	}
	if details.Token != "tok123" || details.Email != "a@b.com" {
		t.Errorf("cached details = %+v", details)
	}
}

func TestLoginRejected(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/users/login",
		map[string]string{"EMAIL": "a@b.com", "PASSWORD": "wrongpass"}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if e.sessions.LoggedIn() {
		t.Error("rejected login must not install a session")
	}
}

func TestLoginValidation(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/users/login",
		map[string]string{"EMAIL": "not-an-email", "PASSWORD": "short"}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Errors["EMAIL"] == "" || body.Errors["PASSWORD"] == "" {
		t.Errorf("errors = %v, want inline EMAIL and PASSWORD messages", body.Errors)
	}
}

func TestSignupValidation(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/users/signup", map[string]string{
		"FIRST_NAME": "Ada",
		"EMAIL":      "a@b.com",
		"MOBILE":     "12345", // not 10 digits
		"PASSWORD":   "12345678",
		"ROLE":       "admin",
	}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Errors["LAST_NAME"] == "" || body.Errors["MOBILE"] == "" {
		t.Errorf("errors = %v, want LAST_NAME and MOBILE messages", body.Errors)
	}
}

func TestSignupSuccess(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/users/signup", map[string]string{
		"FIRST_NAME": "New",
		"LAST_NAME":  "Admin",
		"EMAIL":      "new@b.com",
		"MOBILE":     "9876543210",
		"PASSWORD":   "12345678",
		"ROLE":       "admin",
	}, nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
}

func TestLogoutResetsEverything(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.sessions.SetStatus(domain.Connected, session.CauseLinkMessage)
	waitProfile(t, e.coord)

	resp := e.post(t, "/api/v1/users/logout", map[string]string{}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	if e.sessions.LoggedIn() {
		t.Error("session should be cleared")
	}
	waitStatus(t, e.sessions, domain.NotConnected)
}

func TestLinkOpenRequiresAuth(t *testing.T) {
	e := newTestEnv(t)

	resp := e.post(t, "/api/v1/link/open",
		map[string]string{"api_key": "k", "api_secret": "s"}, nil)
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestLinkOpenReturnsLoginURL(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	resp := e.post(t, "/api/v1/link/open",
		map[string]string{"api_key": "key1", "api_secret": "secret1"},
		map[string]string{"Authorization": "Bearer tok123"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var attempt struct {
		ID       string `json:"attempt_id"`
		LoginURL string `json:"login_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&attempt); err != nil {
		t.Fatalf("decoding attempt: %v", err)
	}
	if attempt.ID == "" {
		t.Error("attempt id should be set")
	}
	if !bytes.Contains([]byte(attempt.LoginURL), []byte("API_KEY=key1")) {
		t.Errorf("login url %q should carry the api key", attempt.LoginURL)
	}
}

func TestLinkOpenValidatesCredentials(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	resp := e.post(t, "/api/v1/link/open",
		map[string]string{"api_key": "", "api_secret": ""},
		map[string]string{"Authorization": "Bearer tok123"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCallbackUntrustedOriginIgnored(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	resp := e.post(t, "/api/v1/link/callback", "success",
		map[string]string{"Origin": "https://evil.example"})
	resp.Body.Close()

	// The relay never reveals the origin policy.
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	time.Sleep(50 * time.Millisecond)
	if e.sessions.Status() != domain.NotConnected {
		t.Errorf("status = %v, want NotConnected", e.sessions.Status())
	}
	if e.coord.DroppedCount() != 1 {
		t.Errorf("DroppedCount = %d, want 1", e.coord.DroppedCount())
	}
}

func TestCallbackSuccessConnects(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	resp := e.post(t, "/api/v1/link/callback", "success",
		map[string]string{"Origin": trustedOrigin})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	waitStatus(t, e.sessions, domain.Connected)
}

func TestCallbackTokenPayloadConnects(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	open := e.post(t, "/api/v1/link/open",
		map[string]string{"api_key": "key1", "api_secret": "secret1"},
		map[string]string{"Authorization": "Bearer tok123"})
	open.Body.Close()
	if open.StatusCode != http.StatusOK {
		t.Fatalf("open status = %d, want 200", open.StatusCode)
	}

	resp := e.post(t, "/api/v1/link/callback",
		map[string]string{"access_token": "ztok", "user_id": "AB1234"},
		map[string]string{"Origin": trustedOrigin})
	resp.Body.Close()

	waitStatus(t, e.sessions, domain.Connected)
	if e.coord.AccessToken() != "ztok" {
		t.Errorf("AccessToken = %q, want %q", e.coord.AccessToken(), "ztok")
	}
}

func TestProfileProxiesGateway(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	req, _ := http.NewRequest(http.MethodGet, e.api.URL+"/api/v1/zerodha/profile", nil)
	req.Header.Set("Authorization", "Bearer tok123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("profile request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var p domain.BrokerProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		t.Fatalf("decoding profile: %v", err)
	}
	if p.UserID != "AB1234" {
		t.Errorf("UserID = %q, want %q", p.UserID, "AB1234")
	}
}

func TestProfileFetchFailureForcesNotConnectedExplicit(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.sessions.SetStatus(domain.Connected, session.CauseLinkMessage)
	waitProfile(t, e.coord)

	e.gwCtl.setProfileFail(true)

	req, _ := http.NewRequest(http.MethodGet, e.api.URL+"/api/v1/zerodha/profile", nil)
	req.Header.Set("Authorization", "Bearer tok123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("profile request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Error != "broker unreachable" {
		t.Errorf("error = %q, want the gateway's message", body.Error)
	}

	// A failed fetch must never leave the status Connected.
	waitStatus(t, e.sessions, domain.NotConnectedExplicit)
}

func TestLinkStatusEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.sessions.SetStatus(domain.Connected, session.CauseLinkMessage)

	resp, err := http.Get(e.api.URL + "/api/v1/link/status")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if body.Status != "Service Connected" {
		t.Errorf("status = %q, want %q", body.Status, "Service Connected")
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodOptions, e.api.URL+"/api/v1/users/login", nil)
	req.Header.Set("Origin", trustedOrigin)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight request: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != trustedOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, trustedOrigin)
	}
}

func TestCORSPreflightUntrustedOrigin(t *testing.T) {
	e := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodOptions, e.api.URL+"/api/v1/users/login", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight request: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want unset for untrusted origin", got)
	}
}
