package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/metrics"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox/registry"
)

const (
	batchJob = "outbox_relay_batch"

	fallbackBatchSize   = 50
	fallbackMaxAttempts = 10
	fallbackPoll        = 500 * time.Millisecond
	publishTimeout      = 15 * time.Second
	backoffCeiling      = 10 * time.Second
)

type pinger interface {
	Ping(context.Context) error
}

type txRunner interface {
	pinger
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	pinger
	Publisher(name string) *gcppubsub.Publisher
}

// eventStore is the slice of outbox.Repository the relay writes through.
// Every call joins the batch transaction.
type eventStore interface {
	ClaimPending(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID) error
	RecordAttemptFailure(tx *gorm.DB, id uuid.UUID, err error) error
	Retire(tx *gorm.DB, id uuid.UUID, err error, ceiling int) error
}

type deadLetterStore interface {
	Insert(tx *gorm.DB, entry models.OutboxDLQ) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher publishes with ordering keys. A failed publish pauses its
// key until ResumePublish is called.
type topicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// RelayDeps wires a Relay. Publishers defaults to the Pub/Sub client's
// cached ordered publishers.
type RelayDeps struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	PubSub      topicSource
	Events      eventStore
	DeadLetters deadLetterStore
	Registry    eventResolver
	Publishers  func(topic string) topicPublisher
	Metrics     *metrics.JobMetrics
}

// Relay moves entitlement events from the outbox table onto Pub/Sub. Events
// about one entitlement record share an ordering key, and a record whose
// event failed in a batch has its later events held until the next batch.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	pubsub      topicSource
	events      eventStore
	deadLetters deadLetterStore
	registry    eventResolver
	publishers  func(topic string) topicPublisher
	metrics     *metrics.JobMetrics

	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewRelay(deps RelayDeps) (*Relay, error) {
	var missing error
	require := func(ok bool, name string) {
		if !ok {
			missing = multierr.Append(missing, fmt.Errorf("%s is required", name))
		}
	}
	require(deps.Logger != nil, "logger")
	require(deps.DB != nil, "database")
	require(deps.PubSub != nil, "pubsub client")
	require(deps.Events != nil, "event store")
	require(deps.DeadLetters != nil, "dead letter store")
	require(deps.Registry != nil, "event registry")
	if missing != nil {
		return nil, missing
	}

	publishers := deps.Publishers
	if publishers == nil {
		publishers = func(topic string) topicPublisher {
			return wrapPublisher(deps.PubSub.Publisher(topic))
		}
	}

	poll := fallbackPoll
	if deps.Outbox.PollIntervalMS > 0 {
		poll = time.Duration(deps.Outbox.PollIntervalMS) * time.Millisecond
	}
	return &Relay{
		logg:        deps.Logger,
		db:          deps.DB,
		pubsub:      deps.PubSub,
		events:      deps.Events,
		deadLetters: deps.DeadLetters,
		registry:    deps.Registry,
		publishers:  publishers,
		metrics:     deps.Metrics,
		batchSize:   orDefault(deps.Outbox.BatchSize, fallbackBatchSize),
		maxAttempts: orDefault(deps.Outbox.MaxAttempts, fallbackMaxAttempts),
		poll:        poll,
	}, nil
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func (r *Relay) checkDependencies(ctx context.Context) error {
	deps := []struct {
		name string
		dep  pinger
	}{{"database", r.db}, {"pubsub", r.pubsub}}
	for _, d := range deps {
		if err := d.dep.Ping(ctx); err != nil {
			r.logg.Error(r.logg.WithField(ctx, "dependency", d.name), "outbox.dependency_unavailable", err)
			return fmt.Errorf("%s unavailable: %w", d.name, err)
		}
	}
	return nil
}

// Run drains the outbox until ctx is cancelled. A full batch that published
// cleanly is followed by the next one without waiting; a failed batch waits
// on an exponential backoff capped at backoffCeiling.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.checkDependencies(ctx); err != nil {
		return err
	}

	failures := newBatchBackOff(r.poll)
	for ctx.Err() == nil {
		started := time.Now()
		more, err := r.relayBatch(ctx)
		r.metrics.ObserveDuration(batchJob, time.Since(started))

		if err != nil {
			r.metrics.IncFailure(batchJob)
			r.logg.Error(ctx, "outbox.batch_failed", err)
			if err := pause(ctx, failures.NextBackOff()); err != nil {
				return err
			}
			continue
		}

		r.metrics.IncSuccess(batchJob)
		failures.Reset()
		if more {
			continue
		}
		if err := pause(ctx, r.poll); err != nil {
			return err
		}
	}
	r.logg.Info(ctx, "outbox.relay_stopped")
	return ctx.Err()
}

func newBatchBackOff(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = backoffCeiling
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// disposition is what one delivery attempt did to its row.
type disposition string

const (
	dispPublished    disposition = "published"
	dispRetry        disposition = "retrying"
	dispDeadLettered disposition = "dead_lettered"
	dispHeld         disposition = "held"
)

// relayBatch claims one batch inside a transaction and delivers it. The
// transaction only aborts when a row's bookkeeping cannot be written. more
// reports a full batch with no retries, meaning the backlog may continue.
func (r *Relay) relayBatch(ctx context.Context) (more bool, err error) {
	err = r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.events.ClaimPending(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed := len(rows)
		if claimed == 0 {
			return nil
		}

		stalled := make(map[uuid.UUID]struct{})
		tally := make(map[disposition]int, 4)
		for _, row := range rows {
			if _, ok := stalled[row.AggregateID]; ok {
				tally[dispHeld]++
				continue
			}
			disp, err := r.deliver(ctx, tx, row)
			if err != nil {
				return err
			}
			tally[disp]++
			if disp == dispRetry {
				stalled[row.AggregateID] = struct{}{}
			}
		}

		summary := map[string]any{"claimed": claimed}
		for disp, n := range tally {
			summary[string(disp)] = n
		}
		r.logg.Info(r.logg.WithFields(ctx, summary), "outbox.batch")
		more = claimed == r.batchSize && tally[dispRetry] == 0
		return nil
	})
	return more, err
}

func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (disposition, error) {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return dispDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	logCtx := r.logg.WithFields(ctx, rowFields(row, resolved))

	err = r.publish(ctx, row, resolved)
	var permanent registry.NonRetryableError
	switch {
	case err == nil:
		if err := r.events.MarkPublished(tx, row.ID); err != nil {
			return dispPublished, fmt.Errorf("mark %s published: %w", row.ID, err)
		}
		r.logg.Debug(logCtx, "outbox.published")
		return dispPublished, nil

	case errors.As(err, &permanent):
		return dispDeadLettered, r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonNonRetryable, err)

	case row.AttemptCount+1 >= r.maxAttempts:
		exhausted := fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, err)
		return dispDeadLettered, r.deadLetter(logCtx, tx, row, enums.OutboxDLQReasonMaxAttempts, exhausted)
	}

	r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{
		"attempt": row.AttemptCount + 1,
		"error":   err.Error(),
	}), "outbox.retry_scheduled")
	if err := r.events.RecordAttemptFailure(tx, row.ID, err); err != nil {
		return dispRetry, fmt.Errorf("record attempt on %s: %w", row.ID, err)
	}
	return dispRetry, nil
}

// deadLetter copies row into the DLQ and retires it from the outbox.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"outbox_id": row.ID.String(),
		"reason":    reason,
		"error":     cause.Error(),
	}), "outbox.dead_lettered")

	detail := cause.Error()
	if err := r.deadLetters.Insert(tx, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &detail,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("dead-letter %s: %w", row.ID, err)
	}
	if err := r.events.Retire(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("retire %s: %w", row.ID, err)
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %q", topic))
	}

	msg := messageFor(row, resolved)
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := pub.Publish(ctx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("topic %q rejected the message", topic))
	}
	if _, err := result.Get(ctx); err != nil {
		pub.ResumePublish(msg.OrderingKey)
		return err
	}
	return nil
}

// messageFor carries the stored envelope unchanged. Attributes let
// subscribers filter without decoding the body.
func messageFor(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	recordID := row.AggregateID.String()
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   recordID,
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !resolved.Envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return &gcppubsub.Message{Data: row.Payload, OrderingKey: recordID, Attributes: attrs}
}

func rowFields(row models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":    row.ID.String(),
		"event_type":   row.EventType,
		"aggregate_id": row.AggregateID.String(),
		"topic":        resolved.Descriptor.Topic,
	}
	if resolved.Envelope.EventID != "" {
		fields["event_id"] = resolved.Envelope.EventID
	}
	return fields
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func wrapPublisher(p *gcppubsub.Publisher) topicPublisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{p}
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
