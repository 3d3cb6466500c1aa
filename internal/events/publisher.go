// Package events publishes link audit events to NATS so external
// consumers (ops tooling, alerting) can observe handshake outcomes and
// dropped untrusted-origin messages. Publishing is fire-and-forget; a
// publish failure is logged and never affects link state.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nisargdongare/ProfitPulse/internal/domain"
	"github.com/nisargdongare/ProfitPulse/internal/util"
)

// Subjects, relative to the configured prefix.
const (
	subjectStatus  = "link.status"
	subjectDropped = "link.dropped"
)

// StatusEvent is the payload published on link.status.
type StatusEvent struct {
	Status string `json:"status"`
	Cause  string `json:"cause"`
	At     int64  `json:"at"` // Unix ms
}

// DroppedEvent is the payload published on link.dropped.
type DroppedEvent struct {
	Origin string `json:"origin"`
	At     int64  `json:"at"` // Unix ms
}

// Nop satisfies link.Publisher when NATS is disabled.
type Nop struct{}

// StatusChanged implements link.Publisher.
func (Nop) StatusChanged(domain.ConnectionStatus, string) {}

// MessageDropped implements link.Publisher.
func (Nop) MessageDropped(string) {}

// NATSPublisher publishes link events to NATS core subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    *slog.Logger
}

// Connect dials the NATS server with a short backoff retry, since the
// broker may still be starting alongside this service.
func Connect(ctx context.Context, url, prefix string, log *slog.Logger) (*NATSPublisher, error) {
	var nc *nats.Conn
	err := util.Retry(ctx, 5, 500*time.Millisecond, func() error {
		var dialErr error
		nc, dialErr = nats.Connect(url,
			nats.Name("profitpulse-server"),
			nats.MaxReconnects(-1),
		)
		return dialErr
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	log.Info("connected to NATS", "url", url)
	return &NATSPublisher{nc: nc, prefix: prefix, log: log}, nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("draining NATS connection", "err", err)
	}
}

// StatusChanged publishes a connection-status transition.
func (p *NATSPublisher) StatusChanged(status domain.ConnectionStatus, cause string) {
	p.publish(subjectStatus, StatusEvent{
		Status: status.String(),
		Cause:  cause,
		At:     time.Now().UnixMilli(),
	})
}

// MessageDropped publishes one dropped untrusted-origin message.
func (p *NATSPublisher) MessageDropped(origin string) {
	p.publish(subjectDropped, DroppedEvent{
		Origin: origin,
		At:     time.Now().UnixMilli(),
	})
}

func (p *NATSPublisher) publish(subject string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("encoding event", "subject", subject, "err", err)
		return
	}
	full := p.prefix + "." + subject
	if err := p.nc.Publish(full, raw); err != nil {
		p.log.Error("publishing event", "subject", full, "err", err)
	}
}
