// Package kafka publishes retrain requests to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON messages keyed by product.
type Publisher struct {
	writer messageWriter
	now    func() time.Time
	sent   atomic.Uint64
}

// New creates a synchronous writer for brokers and topic.
func New(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("retrain.kafka requires brokers and topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	return &Publisher{writer: w, now: time.Now}, nil
}

// Publish implements retrain.Publisher. The returned id is a local sequence
// number since Kafka assigns offsets per partition.
func (p *Publisher) Publish(ctx context.Context, key string, payload any) (string, error) {
	value, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := kafka.Message{Key: []byte(key), Value: value, Time: p.now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("write message to kafka: %w", err)
	}
	return "kafka-" + strconv.FormatUint(p.sent.Add(1), 10), nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
