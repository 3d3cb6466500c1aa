package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nisargdongare/ProfitPulse/internal/api"
	"github.com/nisargdongare/ProfitPulse/internal/cache"
	"github.com/nisargdongare/ProfitPulse/internal/config"
	"github.com/nisargdongare/ProfitPulse/internal/events"
	"github.com/nisargdongare/ProfitPulse/internal/gateway"
	"github.com/nisargdongare/ProfitPulse/internal/link"
	"github.com/nisargdongare/ProfitPulse/internal/session"
	"github.com/nisargdongare/ProfitPulse/internal/util"
)

func main() {
	_ = godotenv.Load(".env")

	cfgPath := "config/profitpulse.yaml"
	if p := os.Getenv("PROFITPULSE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sessions := session.NewStore()

	c, err := cache.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}
	defer c.Close()

	// Restore a persisted session so a restart does not log the
	// dashboard out.
	if details, err := c.LoadLoginDetails(ctx); err == nil {
		sessions.SetSession(details.Session())
		logger.Info("restored persisted session", "email", details.Email)
	} else if !errors.Is(err, cache.ErrNotFound) {
		logger.Warn("could not restore persisted session", "err", err)
	}

	gw := gateway.NewClient(cfg.Gateway.BaseURL, sessions,
		gateway.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second,
		}),
		gateway.WithSessionExpiredHook(func() {
			sessions.Logout()
			if err := c.ClearLoginDetails(context.Background()); err != nil {
				logger.Error("clearing login details", "err", err)
			}
			logger.Info("session expired, logged out")
		}),
	)

	var pub link.Publisher = events.Nop{}
	if cfg.NATS.Enabled {
		np, err := events.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer np.Close()
		pub = np
	}

	coord := link.NewCoordinator(link.Config{
		TrustedOrigins:   cfg.Link.TrustedOrigins,
		HandshakeTimeout: time.Duration(cfg.Link.HandshakeTimeoutSeconds) * time.Second,
	}, sessions, gw, pub, c, link.NopOpener, logger)
	coord.Start()
	defer coord.Close()

	srv := api.NewServer(cfg, sessions, c, gw, coord, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}
