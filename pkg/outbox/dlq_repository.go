package outbox

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
)

const (
	defaultDLQLimit = 50
	maxDLQListLimit = 500
)

// DLQFilter narrows List. Zero values match everything.
type DLQFilter struct {
	// AggregateID is the entitlement record the event was about.
	AggregateID *uuid.UUID
	Reason      enums.OutboxDLQErrorReason
	Limit       int
}

type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// Insert stores a dead-lettered event inside the publisher's transaction.
func (r *DLQRepository) Insert(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return ErrTxRequired
	}
	if entry.ErrorMessage != nil {
		msg := truncateError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// FindByEventID returns nil without error when the event was never
// dead-lettered.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var dlq models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&dlq).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &dlq, nil
}

// List returns the newest failures first.
func (r *DLQRepository) List(ctx context.Context, filter DLQFilter) ([]models.OutboxDLQ, error) {
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = defaultDLQLimit
	case limit > maxDLQListLimit:
		limit = maxDLQListLimit
	}

	query := r.db.WithContext(ctx).Model(&models.OutboxDLQ{})
	if filter.AggregateID != nil {
		query = query.Where("aggregate_id = ?", *filter.AggregateID)
	}
	if filter.Reason != "" {
		query = query.Where("error_reason = ?", filter.Reason)
	}

	var rows []models.OutboxDLQ
	err := query.Order("failed_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
