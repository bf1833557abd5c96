// Package notifier publishes regression episode lifecycle events to
// the NATS message bus.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fleetsight-systems/fleetsight/internal/logging"
	"github.com/fleetsight-systems/fleetsight/internal/models"
)

// Subject suffixes for episode lifecycle events.
// Follow the pattern: {prefix}.{resource}.{action}
const (
	actionConfirmed = "episodes.confirmed" // Episode confirmed as regression
	actionResolved  = "episodes.resolved"  // Episode resolved by operator
)

// Config holds NATS notifier configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// SubjectPrefix namespaces published subjects.
	SubjectPrefix string

	// Enabled turns publishing on. A disabled notifier accepts and
	// drops every publish so callers need no guards.
	Enabled bool
}

// EpisodeMessage is the wire payload for an episode lifecycle event.
type EpisodeMessage struct {
	Action  string                    `json:"action"`
	SentAt  time.Time                 `json:"sent_at"`
	Episode *models.RegressionEpisode `json:"episode"`
}

// Notifier publishes episode events. The zero-value-like disabled
// notifier is valid and publishes nothing.
type Notifier struct {
	conn    *nats.Conn
	prefix  string
	enabled bool
	log     *logging.Logger
}

// New connects to NATS when enabled, otherwise returns a no-op
// notifier.
func New(cfg Config, log *logging.Logger) (*Notifier, error) {
	n := &Notifier{prefix: cfg.SubjectPrefix, enabled: cfg.Enabled, log: log.With("component", "notifier")}
	if !cfg.Enabled {
		return n, nil
	}

	opts := []nats.Option{
		nats.Name("fleetsight-notifier"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				n.log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			n.log.Info("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n.conn = conn
	return n, nil
}

// PublishConfirmed announces a newly confirmed regression episode.
func (n *Notifier) PublishConfirmed(ctx context.Context, ep *models.RegressionEpisode) error {
	return n.publish(ctx, actionConfirmed, ep)
}

// PublishResolved announces an episode resolution.
func (n *Notifier) PublishResolved(ctx context.Context, ep *models.RegressionEpisode) error {
	return n.publish(ctx, actionResolved, ep)
}

func (n *Notifier) publish(ctx context.Context, action string, ep *models.RegressionEpisode) error {
	if !n.enabled || n.conn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := EpisodeMessage{Action: action, SentAt: time.Now().UTC(), Episode: ep}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal episode message: %w", err)
	}

	subject := n.prefix + "." + action
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	n.log.Debug("episode event published",
		"subject", subject,
		"regression_id", ep.RegressionID,
		"vehicle_id", ep.VehicleID)
	return nil
}

// Drain gracefully closes, allowing in-flight messages to complete.
func (n *Notifier) Drain() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Close releases the connection.
func (n *Notifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}
