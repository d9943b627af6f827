// Package outbox queues entitlement events in the same transaction as the
// ledger write that produced them. A separate publisher drains the table.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
)

const currentEnvelopeVersion = 1

type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	var errs error
	if !e.EventType.IsValid() {
		errs = multierr.Append(errs, fmt.Errorf("invalid event type %q", e.EventType))
	}
	if !e.AggregateType.IsValid() {
		errs = multierr.Append(errs, fmt.Errorf("invalid aggregate type %q", e.AggregateType))
	}
	if e.AggregateID == uuid.Nil {
		errs = multierr.Append(errs, errors.New("aggregate id is required"))
	}
	if e.Data == nil {
		errs = multierr.Append(errs, errors.New("event data is required"))
	}
	return errs
}

// Emitter queues domain events inside a caller-owned transaction.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

type inserter interface {
	Insert(tx *gorm.DB, event models.OutboxEvent) error
}

type Service struct {
	repo inserter
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit wraps event in a versioned envelope and inserts it through tx. The
// actor defaults to the one stored on ctx by WithActor.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return ErrTxRequired
	}
	if err := event.validate(); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}

	envelope, err := s.envelope(ctx, event)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("outbox: encode envelope: %w", err)
	}

	if err := s.repo.Insert(tx, models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       raw,
	}); err != nil {
		return err
	}

	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_id":   event.AggregateID.String(),
			"aggregate_type": event.AggregateType,
		}), "outbox.queued")
	}
	return nil
}

func (s *Service) envelope(ctx context.Context, event DomainEvent) (PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("outbox: encode %s data: %w", event.EventType, err)
	}

	env := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       data,
	}
	if env.Version <= 0 {
		env.Version = currentEnvelopeVersion
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = s.now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if env.Actor == nil && ctx != nil {
		env.Actor = ActorFromContext(ctx)
	}
	return env, nil
}
