// Package registry maps outbox rows onto the topic they publish to and the
// typed payload they carry.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox/payloads"
)

// maxEnvelopeVersion is the newest envelope layout this build can decode.
const maxEnvelopeVersion = 1

// EventDescriptor says where an event type is published and how its data
// block decodes.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(json.RawMessage) (any, error)
}

// ResolvedEvent is a validated outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish; the dispatcher
// dead-letters it instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return "non-retryable: " + e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func rejectf(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// entitlementEvent describes an event on the entitlement record aggregate
// whose data block decodes into T.
func entitlementEvent[T any](eventType enums.OutboxEventType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: enums.AggregateEntitlementRecord,
		Topic:         topic,
		decode: func(data json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(data, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// NewEventRegistry registers every entitlement event on the configured topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.EntitlementsTopic)
	if topic == "" {
		return nil, errors.New("entitlements topic is required")
	}

	reg := &EventRegistry{entries: map[enums.OutboxEventType]EventDescriptor{}}
	for _, desc := range []EventDescriptor{
		entitlementEvent[payloads.EntitlementGrantedEvent](enums.EventEntitlementGranted, topic),
		entitlementEvent[payloads.EntitlementRevokedEvent](enums.EventEntitlementRevoked, topic),
		entitlementEvent[payloads.EntitlementStatusChangedEvent](enums.EventEntitlementStatusChanged, topic),
		entitlementEvent[payloads.EntitlementDeletedEvent](enums.EventEntitlementDeleted, topic),
	} {
		if _, dup := reg.entries[desc.EventType]; dup {
			return nil, fmt.Errorf("event type %s registered twice", desc.EventType)
		}
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the stored bytes will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, rejectf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, rejectf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, rejectf("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, rejectf("decode envelope: %w", err)
	}
	if envelope.Version > maxEnvelopeVersion {
		return nil, rejectf("envelope version %d is newer than %d", envelope.Version, maxEnvelopeVersion)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, rejectf("payload missing for %s", event.EventType)
	}

	payload, err := desc.decode(envelope.Data)
	if err != nil {
		return nil, rejectf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
