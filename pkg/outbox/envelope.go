package outbox

import (
	"context"
	"encoding/json"
	"time"
)

// ActorRef identifies who produced the event. UserID is zero for system actors
// such as the payment consumer.
type ActorRef struct {
	UserID int64  `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

type actorKey struct{}

// WithActor records who is acting so events emitted further down the call
// chain carry it in their envelope.
func WithActor(ctx context.Context, actor ActorRef) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor, if any.
func ActorFromContext(ctx context.Context) *ActorRef {
	if ctx == nil {
		return nil
	}
	actor, ok := ctx.Value(actorKey{}).(ActorRef)
	if !ok {
		return nil
	}
	return &actor
}
