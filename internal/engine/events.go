package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine event types delivered through the observer hook
const (
	EventAgentOutput = "agent_output"
	EventReasoning   = "reasoning:new"
	EventRiskBlocked = "risk:blocked"
	EventModeChanged = "risk:mode_changed"
)

// Observer receives engine events. It must never block; publishers are
// expected to queue or drop internally.
type Observer func(eventType string, payload map[string]any)

// NATSPublisher is the NATS-backed Observer implementation for
// out-of-process consumers (dashboards, recorders).
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    zerolog.Logger
}

// NewNATSPublisher connects to NATS with infinite reconnects
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(
		url,
		nats.Name("tradewind-engine"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if prefix == "" {
		prefix = "tradewind.events"
	}

	return &NATSPublisher{
		nc:     nc,
		prefix: prefix,
		log:    log.With().Str("component", "nats_publisher").Logger(),
	}, nil
}

// Observe publishes one event; failures are logged, never propagated,
// so a NATS outage cannot stall a cycle.
func (p *NATSPublisher) Observe(eventType string, payload map[string]any) {
	body := map[string]any{
		"event":     eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"payload":   payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		p.log.Error().Err(err).Str("event", eventType).Msg("Failed to marshal event")
		return
	}

	if err := p.nc.Publish(p.subject(eventType), data); err != nil {
		p.log.Warn().Err(err).Str("event", eventType).Msg("Failed to publish event")
	}
}

// subject maps an event type to a NATS subject, e.g.
// "risk:blocked" -> "tradewind.events.risk.blocked".
func (p *NATSPublisher) subject(eventType string) string {
	return p.prefix + "." + strings.ReplaceAll(eventType, ":", ".")
}

// Close drains the connection
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
	}
}
