// File: internal/infra/adapters/events/kafka_publisher.go
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"subscription-lifecycle/internal/domain/ports/adapter"

	"github.com/segmentio/kafka-go"
)

var _ adapter.EventPublisher = (*KafkaPublisher)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes lifecycle events keyed by user id, so one user's
// events stay ordered within a partition.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev adapter.LifecycleEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.UserID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
