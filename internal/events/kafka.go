package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to the audit topic keyed by job id so all
// events of one job land on the same partition.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaPublisher{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	key := e.JobID
	if key == "" {
		key = e.LedgerID
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   b,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
