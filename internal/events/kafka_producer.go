// Package events carries notifications over Kafka from the API process to
// the delivery worker.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/roadside-dispatch/internal/apperr"
	"github.com/example/roadside-dispatch/internal/dispatch"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications keyed by assignment id, so all
// messages about one assignment land on one partition in order.
type KafkaNotifier struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaNotifier{writer: w, timeout: 2 * time.Second}
}

func NewKafkaNotifierWithWriter(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaNotifier) Notify(ctx context.Context, n dispatch.Notification) error {
	err := k.publish(ctx, n)
	dispatch.Record("kafka", n, err)
	return err
}

func (k *KafkaNotifier) publish(ctx context.Context, n dispatch.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	msg := kafka.Message{
		Key:     []byte(n.AssignmentID),
		Value:   b,
		Headers: []kafka.Header{{Key: "channel", Value: []byte(n.Channel)}},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return apperr.Unavailable("publish notification", err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Decode parses a message written by KafkaNotifier.
func Decode(m kafka.Message) (dispatch.Notification, error) {
	var n dispatch.Notification
	if err := json.Unmarshal(m.Value, &n); err != nil {
		return n, err
	}
	if n.ID == "" || n.Channel == "" {
		return n, apperr.Invalid("notification", "missing id or channel")
	}
	return n, nil
}
