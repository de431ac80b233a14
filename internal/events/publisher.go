package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/ventwise/dab-controller/internal/engine"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends engine events to a Kafka topic, keyed by circuit so one
// circuit's events stay ordered.
type Publisher struct {
	w      messageWriter
	topic  string
	logger *slog.Logger
}

// NewPublisher builds a synchronous writer for topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("events: no kafka brokers")
	}
	if topic == "" {
		return nil, errors.New("events: empty topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
		Async:        false,
	}
	return newPublisher(w, topic, logger), nil
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{w: w, topic: topic, logger: logger.With("component", "events", "topic", topic)}
}

// Publish writes one event.
func (p *Publisher) Publish(ctx context.Context, ev engine.Event) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	p.logger.Debug("event published", "kind", ev.Kind, "circuit", ev.CircuitID)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// Message encodes ev as a Kafka message. The kind travels as a header so
// consumers can filter without decoding; event_id lets them drop redeliveries.
func Message(ev engine.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event: %w", err)
	}
	key := ev.CircuitID
	if key == "" {
		key = ev.VentID
	}
	return kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Time:    ev.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "event_id", Value: []byte(uuid.NewString())},
		},
	}, nil
}
