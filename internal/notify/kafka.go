package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"rfids/internal/config"
	"rfids/internal/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes alerts keyed by kind so that each kind stays ordered within
// a partition.
type Kafka struct {
	writer messageWriter
}

func NewKafka(cfg config.KafkaConfig) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (k *Kafka) Name() string {
	return "kafka"
}

func (k *Kafka) Notify(ctx context.Context, alert model.Alert) error {
	data, err := encode(alert)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.Kind),
		Value: data,
		Time:  alert.Timestamp,
	})
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
