package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const kafkaWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON to a topic so downstream anomaly detection can
// consume them. Messages are keyed by user ID to keep one user's events ordered.
type KafkaSink struct {
	writer messageWriter
	log    *slog.Logger
}

// NewKafkaSink returns nil when brokers or topic are empty.
func NewKafkaSink(brokers []string, topic string, log *slog.Logger) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaSink(w, log)
}

func newKafkaSink(w messageWriter, log *slog.Logger) *KafkaSink {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaSink{writer: w, log: log}
}

func (k *KafkaSink) Emit(ctx context.Context, e Event) {
	if k == nil || k.writer == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()
	err = k.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(e.UserID),
		Value: payload,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "schema_version", Value: []byte{byte(e.Version)}},
			{Key: "type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		k.log.Warn("audit kafka publish failed", "type", e.Type, "error", err)
	}
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
