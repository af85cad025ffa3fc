package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/metrics"
	"github.com/xaenox/riskwatch/internal/models"
)

const notifierNATS = "nats"

// DefaultSubject carries every dispatched result.
const DefaultSubject = "riskwatch.results"

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	Subject       string        // subject results are published to
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "riskwatch",
		Subject:       DefaultSubject,
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each result as JSON for downstream consumers.
type NATSPublisher struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	logger  *zap.Logger
}

// NewNATSPublisher connects to NATS and returns a ready publisher.
func NewNATSPublisher(cfg NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	def := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = def.ReconnectWait
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))

	p := newNATSPublisher(nc, cfg.Subject, logger)
	p.conn = nc
	return p, nil
}

func newNATSPublisher(pub publisher, subject string, logger *zap.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{pub: pub, subject: subject, logger: logger}
}

func (p *NATSPublisher) Name() string { return notifierNATS }

func (p *NATSPublisher) Notify(_ context.Context, r *models.ClassificationResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		metrics.Notifications.WithLabelValues(notifierNATS, "error").Inc()
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		metrics.Notifications.WithLabelValues(notifierNATS, "error").Inc()
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	metrics.Notifications.WithLabelValues(notifierNATS, "sent").Inc()
	p.logger.Debug("Result published", zap.String("subject", p.subject), zap.String("cycle_id", r.CycleID))
	return nil
}

// Close drains pending publishes and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
