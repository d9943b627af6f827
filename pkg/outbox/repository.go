package outbox

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
)

// maxErrorLen bounds stored error text on outbox and dead-letter rows.
const maxErrorLen = 1024

// ErrTxRequired is returned by every write that must join the caller's
// transaction.
var ErrTxRequired = errors.New("outbox: transaction required")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return ErrTxRequired
	}
	return tx.Create(&event).Error
}

// ClaimPending returns the oldest unpublished rows still under the attempt
// ceiling. On Postgres they are locked FOR UPDATE SKIP LOCKED so several
// publishers can drain the table.
func (r *Repository) ClaimPending(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	query := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked})
	}

	var rows []models.OutboxEvent
	err := query.Order("created_at ASC, id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	return updateEvent(tx, id, map[string]any{"published_at": time.Now().UTC()})
}

// RecordAttemptFailure stores a retryable failure and bumps the attempt counter.
func (r *Repository) RecordAttemptFailure(tx *gorm.DB, id uuid.UUID, err error) error {
	return updateEvent(tx, id, map[string]any{
		"last_error":    truncateError(errText(err)),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// Retire parks a row at the attempt ceiling so it is never claimed again.
func (r *Repository) Retire(tx *gorm.DB, id uuid.UUID, err error, ceiling int) error {
	return updateEvent(tx, id, map[string]any{
		"last_error":    truncateError(errText(err)),
		"attempt_count": ceiling,
	})
}

// CountPending reports how many rows are still waiting to be published.
func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).Where("published_at IS NULL").Count(&count).Error
	return count, err
}

func updateEvent(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if tx == nil {
		return ErrTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(fields).Error
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// truncateError cuts message to maxErrorLen bytes without splitting a rune.
func truncateError(message string) string {
	if len(message) <= maxErrorLen {
		return message
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
