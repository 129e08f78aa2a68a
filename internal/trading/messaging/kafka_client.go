package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes core events (halt signals, order and fill events) to Kafka.
// Topics are chosen per message, so one producer serves every topic.
type Producer struct {
	writer messageWriter
	source string
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// ProducerConfig contains configuration options for Producer
type ProducerConfig struct {
	BatchSize       int
	BatchTimeout    time.Duration
	WriteTimeout    time.Duration
	RequiredAcks    int
	Compression     string
	MaxMessageBytes int
	RetryMax        int
}

// DefaultProducerConfig favours delivery over throughput: halt signals are
// rare and must reach every replica of the leader.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		BatchSize:       1,
		BatchTimeout:    5 * time.Millisecond,
		WriteTimeout:    2 * time.Second,
		RequiredAcks:    int(kafka.RequireAll),
		Compression:     "snappy",
		MaxMessageBytes: 1048576,
		RetryMax:        3,
	}
}

// NewProducer creates a synchronous producer for the given brokers.
func NewProducer(brokers []string, cfg ProducerConfig, logger *zap.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.CRC32Balancer{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.RetryMax,
		BatchBytes:   int64(cfg.MaxMessageBytes),
		Async:        false,
	}

	switch cfg.Compression {
	case "gzip":
		writer.Compression = kafka.Gzip
	case "lz4":
		writer.Compression = kafka.Lz4
	case "zstd":
		writer.Compression = kafka.Zstd
	case "none":
	default:
		writer.Compression = kafka.Snappy
	}

	return newProducer(writer, logger)
}

func newProducer(w messageWriter, logger *zap.Logger) *Producer {
	return &Producer{writer: w, source: "fno-core", logger: logger}
}

// Publish writes one message keyed by key. Messages sharing a key land on the
// same partition, so per-session ordering is preserved.
func (p *Producer) Publish(ctx context.Context, topic, key string, data []byte, headers map[string]string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("kafka producer is closed")
	}

	now := time.Now().UTC()
	kafkaHeaders := []kafka.Header{
		{Key: "source", Value: []byte(p.source)},
		{Key: "timestamp", Value: []byte(now.Format(time.RFC3339Nano))},
	}
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Headers: kafkaHeaders,
		Time:    now,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event to Kafka",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish event to kafka topic %s: %w", topic, err)
	}

	p.logger.Debug("Published event",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int("data_size", len(data)),
	)
	return nil
}

// Close flushes and closes the underlying writer. Further publishes fail.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer: %w", err)
	}
	p.logger.Info("Kafka producer closed")
	return nil
}
