package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"lendingScope/internal/lending"
	"lendingScope/internal/model"
)

// messageWriter is satisfied by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink writes alerts to a topic keyed by owner, so one owner's alerts
// stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

var _ lending.AlertSink = (*KafkaSink)(nil)

// NewKafkaWriter builds a producer that waits for all replicas.
func NewKafkaWriter(brokers []string, maxAttempts int, backoff time.Duration) *kafka.Writer {
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            maxAttempts,
		WriteBackoffMin:        backoff,
		WriteBackoffMax:        backoff * 10,
	}
}

func NewKafkaSink(writer messageWriter, topic string) *KafkaSink {
	if topic == "" {
		topic = "lending.alerts"
	}
	return &KafkaSink{writer: writer, topic: topic}
}

func (s *KafkaSink) Emit(ctx context.Context, a model.HealthAlert) error {
	data, err := encode(a)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(a.Owner.Hex()),
		Value: data,
		Headers: []kafka.Header{
			{Key: "alert_id", Value: []byte(a.ID)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	return nil
}
