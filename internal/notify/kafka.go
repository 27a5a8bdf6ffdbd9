package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"stockalert/internal/config"
)

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes each notification as a JSON event. Events for the
// same entity share a key and so land on the same partition in order.
type KafkaNotifier struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	enabled bool
}

// NewKafkaNotifier creates a KafkaNotifier writing to cfg.Topic.
func NewKafkaNotifier(cfg config.KafkaConfig) *KafkaNotifier {
	enabled := cfg.Enabled && len(cfg.Brokers) > 0 && cfg.Topic != ""
	var w messageWriter
	if enabled {
		w = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchSize:    1,
			WriteTimeout: cfg.WriteTimeout,
		}
	}
	return newKafkaNotifier(cfg, w, enabled)
}

func newKafkaNotifier(cfg config.KafkaConfig, w messageWriter, enabled bool) *KafkaNotifier {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaNotifier{writer: w, topic: cfg.Topic, timeout: timeout, enabled: enabled && w != nil}
}

// Name returns the name of the notifier.
func (k *KafkaNotifier) Name() string {
	return "kafka"
}

// IsEnabled returns whether the notifier is enabled.
func (k *KafkaNotifier) IsEnabled() bool {
	return k.enabled
}

// triggerEvent is the JSON value of a published message.
type triggerEvent struct {
	ID        string                 `json:"id"`
	Type      NotificationType       `json:"type"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Send publishes the notification.
func (k *KafkaNotifier) Send(ctx context.Context, n Notification) error {
	if !k.enabled {
		return nil
	}

	msg, err := kafkaMessage(n)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func kafkaMessage(n Notification) (kafka.Message, error) {
	value, err := json.Marshal(triggerEvent{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.Data,
		Timestamp: n.Timestamp,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling kafka event: %w", err)
	}

	key := n.ID
	if kind, ok := n.Data["kind"].(string); ok {
		if id, ok := n.Data["id"].(string); ok {
			key = kind + ":" + id
		}
	}

	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  n.Timestamp,
		Headers: []kafka.Header{
			{Key: "notification-id", Value: []byte(n.ID)},
			{Key: "type", Value: []byte(n.Type)},
		},
	}, nil
}
