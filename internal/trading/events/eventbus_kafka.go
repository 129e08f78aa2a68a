package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Publisher is the Kafka side of KafkaEventBus; *messaging.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, data []byte, headers map[string]string) error
}

// KafkaEventBus delivers events locally and forwards them, JSON encoded, to
// Kafka topics named prefix + "." + event topic.
type KafkaEventBus struct {
	local     *InMemoryEventBus
	publisher Publisher
	prefix    string
	timeout   time.Duration
	logger    *zap.Logger
}

func NewKafkaEventBus(local *InMemoryEventBus, publisher Publisher, prefix string, logger *zap.Logger) *KafkaEventBus {
	return &KafkaEventBus{
		local:     local,
		publisher: publisher,
		prefix:    prefix,
		timeout:   2 * time.Second,
		logger:    logger,
	}
}

// Publish delivers to local subscribers, then forwards synchronously. A
// forwarding failure is logged and counted; local delivery is unaffected.
func (bus *KafkaEventBus) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	bus.local.Publish(ctx, event)

	data, err := json.Marshal(event.Payload)
	if err != nil {
		bus.logger.Error("Failed to encode event for Kafka", zap.String("topic", event.Topic), zap.Error(err))
		busForwardFailed.WithLabelValues(event.Topic).Inc()
		return
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bus.timeout)
	defer cancel()
	err = bus.publisher.Publish(fctx, bus.prefix+"."+event.Topic, event.Key, data, map[string]string{
		"event_type": event.Type,
	})
	if err != nil {
		busForwardFailed.WithLabelValues(event.Topic).Inc()
	}
}

// Subscribe registers a local handler; Kafka consumers subscribe on their own.
func (bus *KafkaEventBus) Subscribe(topic string, handler EventHandler) {
	bus.local.Subscribe(topic, handler)
}
