package model

import (
	"context"

	"github.com/google/uuid"
)

// Actor identifies who performed a state change, as supplied by the session
// layer. System actors (scheduler, broker feed) carry no user.
type Actor struct {
	Name      string
	UserID    *uuid.UUID
	IPAddress string
	UserAgent string
	RequestID string
}

// System actors
var (
	ActorScheduler  = Actor{Name: "system:scheduler"}
	ActorBrokerFeed = Actor{Name: "system:broker-feed"}
	ActorRisk       = Actor{Name: "system:risk"}
)

// UserActor builds an actor for an authenticated user.
func UserActor(userID uuid.UUID) Actor {
	id := userID
	return Actor{Name: "user:" + userID.String(), UserID: &id}
}

type requestIDKey struct{}

// WithRequestID stores the collaborator's request id on ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request id stored on ctx, or a fresh one.
func RequestID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
			return id
		}
	}
	return uuid.New().String()
}
