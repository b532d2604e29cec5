package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

const (
	streamName    = "DNS_EVENTS"
	subjectPrefix = "dns.events"
)

// JetStreamMirror forwards every emitted event onto a JetStream stream so
// external consumers can follow the control plane without a websocket.
// Subjects are dns.events.<category>.<type>.
type JetStreamMirror struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewJetStreamMirror connects and provisions the stream if it does not
// exist yet.
func NewJetStreamMirror(url string, logger *zap.Logger) (*JetStreamMirror, error) {
	nc, err := nats.Connect(url,
		nats.Name("dnsweaver"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("opening jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("checking stream %s: %w", streamName, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{subjectPrefix + ".>"},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("provisioning stream %s: %w", streamName, err)
		}
		logger.Info("jetstream stream provisioned", zap.String("stream", streamName))
	}

	return &JetStreamMirror{nc: nc, js: js, logger: logger}, nil
}

// Publish forwards one event. Failures are logged, never propagated; the
// mirror is best effort and must not stall the bus.
func (m *JetStreamMirror) Publish(e model.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		m.logger.Warn("encoding event for mirror failed",
			zap.String("event_type", string(e.Type)), zap.Error(err))
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, e.Category, e.Type)
	if _, err := m.js.Publish(subject, data); err != nil {
		m.logger.Warn("mirroring event failed",
			zap.String("subject", subject), zap.Error(err))
	}
}

// Close drains the connection so queued publishes flush first.
func (m *JetStreamMirror) Close() {
	if err := m.nc.Drain(); err != nil {
		m.logger.Warn("draining nats connection", zap.Error(err))
	}
}
