package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nisargdongare/ProfitPulse/internal/domain"
	"github.com/nisargdongare/ProfitPulse/internal/gateway"
	"github.com/nisargdongare/ProfitPulse/internal/link"
	"github.com/nisargdongare/ProfitPulse/internal/session"
)

// maxCallbackBody caps the completion-message payload size.
const maxCallbackBody = 64 << 10

type loginRequest struct {
	Email    string `json:"EMAIL"`
	Password string `json:"PASSWORD"`
}

type loginResponse struct {
	User  *domain.Session `json:"user"`
	Token string          `json:"token"`
}

// handleLogin authenticates against the gateway, installs the session,
// and mirrors it into the persisted cache.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if fieldErrs := validateLogin(req.Email, req.Password); len(fieldErrs) > 0 {
		writeFieldErrors(w, fieldErrs)
		return
	}

	sess, err := s.gw.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var authErr *gateway.AuthError
		if errors.As(err, &authErr) {
			writeError(w, http.StatusUnauthorized, authErr.Message)
			return
		}
		s.log.Error("login failed", "err", err)
		writeError(w, http.StatusBadGateway, "login request failed")
		return
	}

	s.sessions.SetSession(sess)
	details := &domain.LoginDetails{
		Email:     sess.Email,
		Password:  req.Password,
		UserID:    sess.UserID,
		Role:      sess.Role,
		FirstName: sess.FirstName,
		LastName:  sess.LastName,
		Token:     sess.Token,
	}
	if err := s.cache.SaveLoginDetails(r.Context(), details); err != nil {
		s.log.Error("persisting login details", "err", err)
	}

	s.log.Info("user logged in", "email", sess.Email)
	writeJSON(w, http.StatusOK, loginResponse{User: sess, Token: sess.Token})
}

type signupRequest struct {
	FirstName string `json:"FIRST_NAME"`
	LastName  string `json:"LAST_NAME"`
	Email     string `json:"EMAIL"`
	Mobile    string `json:"MOBILE"`
	Password  string `json:"PASSWORD"`
	Role      string `json:"ROLE"`
}

// handleSignup validates the admin-account form and proxies account
// creation to the gateway.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if fieldErrs := validateSignup(&req); len(fieldErrs) > 0 {
		writeFieldErrors(w, fieldErrs)
		return
	}

	created, err := s.gw.Signup(r.Context(), &gateway.SignupRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Mobile:    req.Mobile,
		Password:  req.Password,
		Role:      req.Role,
	})
	if err != nil {
		var authErr *gateway.AuthError
		if errors.As(err, &authErr) {
			writeError(w, authErr.StatusCode, authErr.Message)
			return
		}
		s.log.Error("signup failed", "err", err)
		writeError(w, http.StatusBadGateway, "signup request failed")
		return
	}

	s.log.Info("account created", "email", req.Email, "role", req.Role)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(created)
}

// handleLogout clears the session and connection status atomically and
// wipes the persisted mirror.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout()
	if err := s.cache.ClearLoginDetails(r.Context()); err != nil {
		s.log.Error("clearing login details", "err", err)
	}
	s.log.Info("user logged out")
	w.WriteHeader(http.StatusNoContent)
}

type linkStatusResponse struct {
	Status      string `json:"status"`
	LastUpdated string `json:"last_updated,omitempty"`
	FetchError  string `json:"fetch_error,omitempty"`
	Dropped     uint64 `json:"dropped_messages"`
}

// handleLinkStatus reports the connection status and the captured error
// of the last failed profile fetch.
func (s *Server) handleLinkStatus(w http.ResponseWriter, r *http.Request) {
	_, fetchErr := s.coord.Profile()
	resp := linkStatusResponse{
		Status:     s.sessions.Status().String(),
		FetchError: fetchErr,
		Dropped:    s.coord.DroppedCount(),
	}
	if t := s.sessions.LastUpdated(); !t.IsZero() {
		resp.LastUpdated = t.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLinkOpen starts a broker login handshake and returns the
// child-window URL for the frontend to open.
func (s *Server) handleLinkOpen(w http.ResponseWriter, r *http.Request) {
	var creds domain.BrokerCredentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if fieldErrs := validateLinkOpen(&creds); len(fieldErrs) > 0 {
		writeFieldErrors(w, fieldErrs)
		return
	}

	attempt, err := s.coord.OpenLink(creds.APIKey, creds.APISecret)
	switch {
	case errors.Is(err, link.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, link.ErrPopupBlocked):
		writeError(w, http.StatusConflict, "popup blocked")
	case err != nil:
		s.log.Error("opening link", "err", err)
		writeError(w, http.StatusInternalServerError, "could not open link")
	default:
		writeJSON(w, http.StatusOK, attempt)
	}
}

// handleLinkCallback is the relay the child window posts its completion
// message to. The response never reveals whether the origin was
// trusted or the payload recognized.
func (s *Server) handleLinkCallback(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "slow down")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	s.coord.HandleMessage(r.Header.Get("Origin"), raw)
	w.WriteHeader(http.StatusNoContent)
}

type linkEventJSON struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"created_at"`
}

// handleLinkEvents lists the persisted link audit trail, newest first.
func (s *Server) handleLinkEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	events, err := s.cache.ListLinkEvents(r.Context(), limit)
	if err != nil {
		s.log.Error("listing link events", "err", err)
		writeError(w, http.StatusInternalServerError, "could not list link events")
		return
	}

	out := make([]linkEventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, linkEventJSON{
			ID:        e.ID,
			Kind:      e.Kind,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// handleProfile proxies the broker profile read to the gateway. No
// caching: every call hits the gateway so the dashboard always sees the
// freshest snapshot. A failed fetch forces the connection status to
// NotConnectedExplicit; it must never stay Connected past a failure.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.gw.Profile(r.Context())
	if err != nil {
		if errors.Is(err, gateway.ErrSessionExpired) {
			writeError(w, http.StatusForbidden, "session expired")
			return
		}
		msg := "profile fetch failed"
		var fetchErr *gateway.FetchError
		if errors.As(err, &fetchErr) {
			msg = fetchErr.Message
		} else {
			s.log.Error("profile fetch failed", "err", err)
		}
		if s.sessions.LoggedIn() {
			s.sessions.SetStatus(domain.NotConnectedExplicit, session.CauseProfileFetch)
		}
		writeError(w, http.StatusBadGateway, msg)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeFieldErrors(w http.ResponseWriter, fieldErrs map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"errors": fieldErrs})
}
