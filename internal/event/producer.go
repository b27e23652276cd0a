// Package event publishes order lifecycle events to Kafka for downstream
// consumers (receipts, fulfilment, analytics).
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/kmuchiri/dukachat/internal/conversation"
)

var _ conversation.Publisher = (*Producer)(nil)

// Producer writes completed-order events to a Kafka topic, keyed by user id
// so one user's orders stay ordered within a partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer returns a Producer for the given brokers and topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishOrderCompleted emits one event per completed order.
func (p *Producer) PublishOrderCompleted(ctx context.Context, o conversation.CompletedOrder) error {
	value, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encoding order event %q: %w", o.OrderID, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.UserID),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publishing order event %q: %w", o.OrderID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
