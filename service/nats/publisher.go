package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solflow/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing ledger events to NATS.
type Publisher interface {
	// PublishBlock publishes a block summary to "ledger.blocks".
	PublishBlock(ctx context.Context, event *BlockEvent) error

	// PublishWallets publishes one event per wallet to "ledger.wallets.{wallet}".
	PublishWallets(ctx context.Context, events []*WalletEvent) error

	// PublishPrices publishes one event per mint to "ledger.prices.{mint}".
	PublishPrices(ctx context.Context, events []*PriceEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes ledger events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for ledger events.
	StreamName = "LEDGER"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "ledger.>"

	// StreamRetention is how long messages are retained (7 days by default).
	StreamRetention = 7 * 24 * time.Hour

	// DuplicateWindow is how long JetStream remembers message ids.
	DuplicateWindow = 10 * time.Minute
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := connect(natsURL, "solflow-publisher")
	if err != nil {
		return nil, err
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger.With("component", "nats_publisher"),
	}

	// Ensure stream exists
	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	publisher.logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

func connect(natsURL, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Try to get existing stream
	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Ledger events: block summaries, wallet aggregates and prices",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishBlock publishes a block summary event.
func (p *JetStreamPublisher) PublishBlock(ctx context.Context, event *BlockEvent) error {
	return p.publish(ctx, "blocks", BlocksSubject, event.MsgID(), event)
}

// PublishWallets publishes wallet events. A failed event is logged and the rest are still sent;
// the first error is returned.
func (p *JetStreamPublisher) PublishWallets(ctx context.Context, events []*WalletEvent) error {
	var firstErr error
	for _, event := range events {
		err := p.publish(ctx, "wallets", WalletSubject(event.Aggregates.Wallet), event.MsgID(), event)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to publish wallet event",
				"wallet", event.Aggregates.Wallet,
				"slot", event.Slot,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// PublishPrices publishes price events. Failures are handled like PublishWallets.
func (p *JetStreamPublisher) PublishPrices(ctx context.Context, events []*PriceEvent) error {
	var firstErr error
	for _, event := range events {
		err := p.publish(ctx, "prices", PriceSubject(event.MintAddress), event.MsgID(), event)
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to publish price event",
				"mint", event.MintAddress,
				"slot", event.Slot,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (p *JetStreamPublisher) publish(ctx context.Context, kind, subject, msgID string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}

	start := time.Now()
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	status := "success"
	if err != nil {
		status = "error"
	} else if ack.Duplicate {
		status = "duplicate"
	}
	if p.metrics != nil {
		p.metrics.RecordNATSPublish(kind, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.logger.DebugContext(ctx, "published event",
		"subject", subject,
		"msg_id", msgID,
		"duplicate", ack.Duplicate,
	)
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
