// Package notify publishes block lifecycle events (dispatched,
// confirmed, expired) to NATS JetStream, strictly as an observability
// fan-out — never on the dispatcher's critical path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/cpape/butler/internal/inventory"
)

const (
	streamName          = "BUTLER"
	streamCreateTimeout = 10 * time.Second
	duplicateWindow     = 20 * time.Minute
)

// Publisher publishes block lifecycle events to a JetStream stream,
// deduplicated on (event, block) so a retried publish is harmless.
type Publisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	logger zerolog.Logger
	prefix string
}

// blockEvent is the JSON payload of a published lifecycle event.
type blockEvent struct {
	Event     string    `json:"event"`
	Block     []int64   `json:"block"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPublisher connects to NATS and ensures the lifecycle-event stream
// exists.
func NewPublisher(natsURL, subjectPrefix string, logger zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("butler-coordinator"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCreateTimeout)
	defer cancel()

	// Notify publishes to "<prefix>.blocks.<event>"; the stream must
	// capture exactly those subjects.
	subjectPattern := fmt.Sprintf("%s.blocks.*", subjectPrefix)
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPattern},
		Storage:    jetstream.FileStorage,
		Duplicates: duplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info().
		Str("stream", streamName).
		Str("subjects", subjectPattern).
		Msg("NATS publisher initialized")

	return &Publisher{js: js, nc: nc, logger: logger, prefix: subjectPrefix}, nil
}

// Notify implements dispatcher.EventNotifier. Publish errors are
// logged and swallowed: lifecycle notification must never block or
// fail a dispatch decision.
func (p *Publisher) Notify(event string, block inventory.Block) {
	subject := fmt.Sprintf("%s.blocks.%s", p.prefix, event)

	data, err := json.Marshal(blockEvent{Event: event, Block: []int64(block), Timestamp: time.Now()})
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to marshal lifecycle event")
		return
	}

	msgID := fmt.Sprintf("%s-%v", event, []int64(block))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		p.logger.Error().Err(err).Str("subject", subject).Msg("failed to publish lifecycle event")
	}
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info().Msg("NATS publisher closed")
	}
}

// Healthy reports whether the NATS connection is up.
func (p *Publisher) Healthy() bool {
	return p.nc != nil && p.nc.IsConnected()
}
