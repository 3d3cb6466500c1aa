// Package api provides the HTTP surface of the ProfitPulse dashboard
// backend: login/signup/logout, the broker credential-link endpoints
// (including the child-window callback relay), and a WebSocket stream
// of connection-status changes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nisargdongare/ProfitPulse/internal/cache"
	"github.com/nisargdongare/ProfitPulse/internal/config"
	"github.com/nisargdongare/ProfitPulse/internal/gateway"
	"github.com/nisargdongare/ProfitPulse/internal/link"
	"github.com/nisargdongare/ProfitPulse/internal/session"
	"github.com/nisargdongare/ProfitPulse/internal/util"
)

// Server hosts the dashboard backend HTTP API.
type Server struct {
	cfg      *config.Config
	log      *slog.Logger
	sessions *session.Store
	cache    *cache.SQLiteCache
	gw       *gateway.Client
	coord    *link.Coordinator
	hub      *Hub
	limiter  *util.RateLimiter

	httpServer *http.Server
}

// NewServer wires a Server from its collaborators.
func NewServer(
	cfg *config.Config,
	sessions *session.Store,
	c *cache.SQLiteCache,
	gw *gateway.Client,
	coord *link.Coordinator,
	log *slog.Logger,
) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		sessions: sessions,
		cache:    c,
		gw:       gw,
		coord:    coord,
		hub:      NewHub(log),
		limiter:  util.NewRateLimiter(cfg.Link.CallbackRatePerMinute, cfg.Link.CallbackBurst),
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(s.corsMiddleware)

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/users/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/users/signup", s.handleSignup).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/users/logout", s.handleLogout).Methods(http.MethodPost, http.MethodOptions)

	v1.HandleFunc("/link/status", s.handleLinkStatus).Methods(http.MethodGet, http.MethodOptions)
	v1.Handle("/link/open", s.requireAuth(s.handleLinkOpen)).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/link/callback", s.handleLinkCallback).Methods(http.MethodPost, http.MethodOptions)
	v1.Handle("/link/events", s.requireAuth(s.handleLinkEvents)).Methods(http.MethodGet, http.MethodOptions)
	v1.HandleFunc("/link/ws", s.handleWebSocket).Methods(http.MethodGet)

	v1.Handle("/zerodha/profile", s.requireAuth(s.handleProfile)).Methods(http.MethodGet, http.MethodOptions)

	return r
}

// ListenAndServe starts the listener and the status broadcaster, and
// blocks until the context is cancelled or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run(ctx)
	go s.broadcastStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown performs a graceful shutdown of the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// broadcastStatus forwards connection-status changes to WebSocket
// clients.
func (s *Server) broadcastStatus(ctx context.Context) {
	id, ch := s.sessions.Subscribe(16)
	defer s.sessions.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			s.hub.BroadcastStatus(evt)
		}
	}
}
