package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is the envelope published on the bus after a ledger transaction commits.
type Event struct {
	Topic     string // e.g. "order", "fill", "risk", "halt"
	Type      string // e.g. "ORDER_FILLED", "TRADING_HALTED"
	Key       string // partition key, normally the trading session id
	Timestamp time.Time
	Payload   interface{}
}

// EventHandler handles one event. It runs on its own goroutine; a panic is
// recovered and logged.
type EventHandler func(Event)

// EventBus is the interface for publishing and subscribing to events
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(topic string, handler EventHandler)
}

// InMemoryEventBus fans each event out to the topic's subscribers.
type InMemoryEventBus struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   map[string][]EventHandler
	wg     sync.WaitGroup
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	return &InMemoryEventBus{
		logger: logger,
		subs:   make(map[string][]EventHandler),
	}
}

// Publish delivers an event to all subscribers of the topic
func (bus *InMemoryEventBus) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	busPublished.WithLabelValues(event.Topic).Inc()

	bus.mu.RLock()
	handlers := append([]EventHandler{}, bus.subs[event.Topic]...)
	bus.mu.RUnlock()
	if len(handlers) == 0 {
		bus.logger.Debug("No subscribers for event", zap.String("topic", event.Topic), zap.String("type", event.Type))
		return
	}

	for _, handler := range handlers {
		bus.wg.Add(1)
		go func(h EventHandler) {
			defer bus.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					bus.logger.Error("Event handler panic", zap.Any("recover", r), zap.String("topic", event.Topic))
					busFailed.WithLabelValues(event.Topic).Inc()
				}
			}()
			h(event)
			busDelivered.WithLabelValues(event.Topic).Inc()
		}(handler)
	}
}

// Subscribe registers a handler for a topic
func (bus *InMemoryEventBus) Subscribe(topic string, handler EventHandler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subs[topic] = append(bus.subs[topic], handler)
	bus.logger.Info("Subscribed handler to topic", zap.String("topic", topic))
}

// Drain blocks until every in-flight handler has returned.
func (bus *InMemoryEventBus) Drain() {
	bus.wg.Wait()
}
