// Package payments turns payment-confirmed events from the gateway into
// checkout entitlements.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/assetledger-backend/internal/entitlements"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
)

// ConsumerName scopes idempotency claims and metrics for this consumer.
const ConsumerName = "payments-consumer"

// EventTypePaymentConfirmed is the only message type the consumer acts on.
// Messages without an event_type attribute are assumed to carry it.
const EventTypePaymentConfirmed = "payment_confirmed"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type idempotencyGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Granter is the slice of the entitlement service the consumer calls.
type Granter interface {
	GrantFromCheckout(ctx context.Context, input entitlements.CheckoutGrantInput) (*entitlements.GrantResult, error)
}

// PaymentConfirmed is the gateway message body.
type PaymentConfirmed struct {
	EventID          string `json:"event_id"`
	UserID           int64  `json:"user_id"`
	AssetID          int64  `json:"asset_id"`
	AmountMinorUnits int64  `json:"amount_minor_units"`
	Currency         string `json:"currency"`
	PointsSpent      *int   `json:"points_spent,omitempty"`
}

type Consumer struct {
	subscription receiver
	granter      Granter
	idempotency  idempotencyGuard
	logg         *logger.Logger
}

func NewConsumer(subscription receiver, granter Granter, guard idempotencyGuard, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, fmt.Errorf("payments subscription required")
	}
	if granter == nil {
		return nil, fmt.Errorf("entitlement granter required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: subscription,
		granter:      granter,
		idempotency:  guard,
		logg:         logg,
	}, nil
}

// Run receives until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != "" && eventType != EventTypePaymentConfirmed {
		c.logg.Info(logCtx, "payments.skip.unhandled_type")
		return processResult{ack: true}
	}

	var event PaymentConfirmed
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		c.logg.Error(logCtx, "payments.decode.failed", err)
		return processResult{ack: true}
	}
	event.EventID = strings.TrimSpace(event.EventID)
	if event.EventID == "" || event.UserID <= 0 || event.AssetID <= 0 {
		c.logg.Warn(logCtx, "payments.event.invalid")
		return processResult{ack: true}
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"payment_event_id": event.EventID,
		"user_id":          event.UserID,
		"asset_id":         event.AssetID,
	})

	first, err := c.idempotency.Claim(ctx, event.EventID)
	if err != nil {
		c.logg.Error(logCtx, "payments.idempotency.failed", err)
		return processResult{nack: true}
	}
	if !first {
		c.logg.Info(logCtx, "payments.event.already_processed")
		return processResult{ack: true}
	}

	grantCtx := outbox.WithActor(logCtx, outbox.ActorRef{Role: string(enums.RoleSystem)})
	result, err := c.granter.GrantFromCheckout(grantCtx, grantInput(event))
	if err != nil {
		if !pkgerrors.IsRetryable(err) {
			// Redelivery cannot fix a rejected event.
			c.logg.Error(logCtx, "payments.grant.rejected", err)
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "payments.grant.failed", err)
		if delErr := c.idempotency.Release(ctx, event.EventID); delErr != nil {
			c.logg.Error(logCtx, "payments.idempotency.release_failed", delErr)
		}
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithFields(logCtx, map[string]any{
		"entitlement_id": result.Record.ID.String(),
		"outcome":        result.Outcome,
	}), "payments.grant.applied")
	return processResult{ack: true}
}

// grantInput maps a payment onto checkout terms. Points stay zero unless the
// payment reports them.
func grantInput(event PaymentConfirmed) entitlements.CheckoutGrantInput {
	var points int
	if event.PointsSpent != nil {
		points = *event.PointsSpent
	}
	return entitlements.CheckoutGrantInput{
		UserID:           event.UserID,
		AssetID:          event.AssetID,
		PointsSpent:      points,
		CostAmount:       decimal.NewFromInt(event.AmountMinorUnits).Shift(-2),
		Currency:         event.Currency,
		PaymentReference: event.EventID,
	}
}
