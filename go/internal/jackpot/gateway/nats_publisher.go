package gateway

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/jackpot/go/internal/jackpot/session"
)

// NATSConfig holds configuration for the snapshot bus publisher.
type NATSConfig struct {
	URL           string
	Subject       string // snapshots go to <Subject>.<session id>
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS publisher configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "jackpot.snapshots",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// ConnectNATS dials the bus with reconnect logging.
func ConnectNATS(config NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("jackpotd"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// MessagePublisher is the subset of *nats.Conn the publisher uses.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher mirrors published changes onto the bus using the same events as the
// websocket fan-out. It implements session.Publisher.
type NATSPublisher struct {
	conn    MessagePublisher
	subject string
}

// NewNATSPublisher creates a publisher writing below subject.
func NewNATSPublisher(conn MessagePublisher, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// Publish encodes the change and hands it to the connection's outbound buffer.
func (p *NATSPublisher) Publish(snap session.Snapshot, changed session.Change) {
	data, err := encodeChange(snap, changed)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode snapshot for NATS")
		return
	}
	subject := p.subject + "." + snap.SessionID
	if err := p.conn.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("failed to publish snapshot")
	}
}
