package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Message is one event delivered to a subscription handler.
type Message struct {
	Subject string
	Data    []byte
}

// Subscriber reads ledger events through ephemeral JetStream consumers.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSubscriber connects to NATS for consuming the ledger stream.
func NewSubscriber(natsURL string, logger *slog.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := connect(natsURL, "solflow-subscriber")
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Subscriber{
		nc:     nc,
		js:     js,
		logger: logger.With("component", "nats_subscriber"),
	}, nil
}

// Subscribe delivers new messages matching subject to handler until ctx is done.
// Only messages published after the call are delivered.
func (s *Subscriber) Subscribe(ctx context.Context, subject string, handler func(Message)) error {
	// Ephemeral - deleted by the server once the consumer goes inactive
	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer for %s: %w", subject, err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		handler(Message{Subject: msg.Subject(), Data: msg.Data()})
		if err := msg.Ack(); err != nil {
			s.logger.WarnContext(ctx, "failed to ack message", "subject", msg.Subject(), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", subject, err)
	}
	defer cc.Stop()

	s.logger.DebugContext(ctx, "subscribed", "subject", subject)
	<-ctx.Done()
	return nil
}

// Close closes the NATS connection.
func (s *Subscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
