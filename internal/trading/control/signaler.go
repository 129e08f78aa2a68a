// Package control owns the trading halt flag of a session and fans halt
// signals out to the collaborators that must stop order flow.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/pincex_fno/internal/trading/events"
	"github.com/Aidin1998/pincex_fno/pkg/metrics"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HaltSignal announces that a session was halted or resumed.
type HaltSignal struct {
	SessionID   uuid.UUID
	Halted      bool
	Reason      string
	RiskEventID string
	At          time.Time
}

func (s HaltSignal) event() events.HaltEvent {
	return events.HaltEvent{
		TradingSessionID: s.SessionID.String(),
		Halted:           s.Halted,
		Reason:           s.Reason,
		RiskEventID:      s.RiskEventID,
		Timestamp:        s.At,
	}
}

func (s HaltSignal) eventType() string {
	if s.Halted {
		return "TRADING_HALTED"
	}
	return "TRADING_RESUMED"
}

// HaltSignaler delivers a halt signal to one sink.
type HaltSignaler interface {
	Signal(ctx context.Context, sig HaltSignal) error
}

// BusSignaler publishes halt signals on the in-process event bus.
type BusSignaler struct {
	bus events.EventBus
}

func NewBusSignaler(bus events.EventBus) *BusSignaler {
	return &BusSignaler{bus: bus}
}

func (s *BusSignaler) Signal(ctx context.Context, sig HaltSignal) error {
	s.bus.Publish(ctx, events.Event{
		Topic:     events.TopicHalt,
		Type:      sig.eventType(),
		Key:       sig.SessionID.String(),
		Timestamp: sig.At,
		Payload:   sig.event(),
	})
	return nil
}

// Publisher is satisfied by *messaging.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, data []byte, headers map[string]string) error
}

// KafkaSignaler writes halt signals to a Kafka topic keyed by session.
type KafkaSignaler struct {
	publisher Publisher
	topic     string
}

func NewKafkaSignaler(publisher Publisher, topic string) *KafkaSignaler {
	return &KafkaSignaler{publisher: publisher, topic: topic}
}

func (s *KafkaSignaler) Signal(ctx context.Context, sig HaltSignal) error {
	data, err := json.Marshal(sig.event())
	if err != nil {
		return fmt.Errorf("failed to encode halt signal: %w", err)
	}
	return s.publisher.Publish(ctx, s.topic, sig.SessionID.String(), data, map[string]string{
		"event_type": sig.eventType(),
	})
}

// RedisClient is the subset of *redis.Client used by RedisSignaler.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSignaler keeps a per-session halt key for gateways that poll and
// publishes every change on a channel for those that subscribe.
type RedisSignaler struct {
	client    RedisClient
	channel   string
	keyPrefix string
}

func NewRedisSignaler(client RedisClient, channel, keyPrefix string) *RedisSignaler {
	return &RedisSignaler{client: client, channel: channel, keyPrefix: keyPrefix}
}

// HaltKey is the Redis key that exists while a session is halted.
func (s *RedisSignaler) HaltKey(sessionID uuid.UUID) string {
	return s.keyPrefix + sessionID.String()
}

func (s *RedisSignaler) Signal(ctx context.Context, sig HaltSignal) error {
	key := s.HaltKey(sig.SessionID)
	if sig.Halted {
		if err := s.client.Set(ctx, key, sig.Reason, 0).Err(); err != nil {
			return fmt.Errorf("failed to set halt key %s: %w", key, err)
		}
	} else {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to clear halt key %s: %w", key, err)
		}
	}

	data, err := json.Marshal(sig.event())
	if err != nil {
		return fmt.Errorf("failed to encode halt signal: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish halt signal on %s: %w", s.channel, err)
	}
	return nil
}

// Sink names a signaler for logs and metrics.
type Sink struct {
	Name     string
	Signaler HaltSignaler
}

// MultiSignaler fans a signal out to every sink. A failing sink is logged and
// counted, and the remaining sinks are still tried.
type MultiSignaler struct {
	sinks  []Sink
	logger *zap.Logger
}

func NewMultiSignaler(logger *zap.Logger, sinks ...Sink) *MultiSignaler {
	return &MultiSignaler{sinks: sinks, logger: logger}
}

// Signal returns the joined errors of the failed sinks, if any.
func (m *MultiSignaler) Signal(ctx context.Context, sig HaltSignal) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Signaler.Signal(ctx, sig); err != nil {
			metrics.HaltSignals.WithLabelValues(sink.Name, "error").Inc()
			m.logger.Error("Halt signal delivery failed",
				zap.String("sink", sink.Name),
				zap.String("session_id", sig.SessionID.String()),
				zap.Bool("halted", sig.Halted),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
			continue
		}
		metrics.HaltSignals.WithLabelValues(sink.Name, "ok").Inc()
	}
	if len(errs) > 0 {
		return fmt.Errorf("halt signal failed on %d of %d sinks: %w", len(errs), len(m.sinks), errors.Join(errs...))
	}
	return nil
}
