package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())

	var mu sync.Mutex
	var got []string
	bus.Subscribe(TopicHalt, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
	})
	bus.Subscribe(TopicOrder, func(e Event) {
		t.Errorf("unexpected delivery on order topic: %s", e.Type)
	})

	bus.Publish(context.Background(), Event{Topic: TopicHalt, Type: "TRADING_HALTED"})
	bus.Drain()

	assert.Equal(t, []string{"TRADING_HALTED"}, got)
}

func TestInMemoryBusRecoversHandlerPanic(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	delivered := make(chan struct{}, 1)
	bus.Subscribe(TopicRisk, func(Event) { panic("boom") })
	bus.Subscribe(TopicRisk, func(Event) { delivered <- struct{}{} })

	bus.Publish(context.Background(), Event{Topic: TopicRisk, Type: "RISK_EVENT_CREATED"})
	bus.Drain()

	select {
	case <-delivered:
	default:
		t.Fatal("healthy subscriber did not receive the event")
	}
}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	keys   []string
	bodies [][]byte
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, topic, key string, data []byte, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, data)
	return p.err
}

func TestKafkaBusForwardsPayload(t *testing.T) {
	local := NewInMemoryEventBus(zap.NewNop())
	pub := &capturePublisher{}
	bus := NewKafkaEventBus(local, pub, "fno", zap.NewNop())

	received := make(chan Event, 1)
	bus.Subscribe(TopicHalt, func(e Event) { received <- e })

	bus.Publish(context.Background(), Event{
		Topic:   TopicHalt,
		Type:    "TRADING_HALTED",
		Key:     "session-1",
		Payload: HaltEvent{TradingSessionID: "session-1", Halted: true, Reason: "margin"},
	})
	local.Drain()

	require.Len(t, pub.topics, 1)
	assert.Equal(t, "fno.halt", pub.topics[0])
	assert.Equal(t, "session-1", pub.keys[0])

	var decoded HaltEvent
	require.NoError(t, json.Unmarshal(pub.bodies[0], &decoded))
	assert.True(t, decoded.Halted)
	assert.Equal(t, "margin", decoded.Reason)
	assert.Equal(t, "TRADING_HALTED", (<-received).Type)
}

func TestKafkaBusForwardFailureDoesNotBlockLocalDelivery(t *testing.T) {
	local := NewInMemoryEventBus(zap.NewNop())
	bus := NewKafkaEventBus(local, &capturePublisher{err: errors.New("no brokers")}, "fno", zap.NewNop())

	received := make(chan Event, 1)
	bus.Subscribe(TopicOrder, func(e Event) { received <- e })
	bus.Publish(context.Background(), Event{Topic: TopicOrder, Type: "ORDER_FILLED", Payload: OrderEvent{OrderID: "o-1"}})
	local.Drain()

	assert.Equal(t, "ORDER_FILLED", (<-received).Type)
}
