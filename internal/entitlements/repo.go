package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/assetledger-backend/internal/repo"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/pagination"
)

// Repository manages persistence for entitlement records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.EntitlementRecord, error)
	FindByTriple(ctx context.Context, userID, assetID int64, status enums.EntitlementStatus) (*models.EntitlementRecord, error)
	Owns(ctx context.Context, userID, assetID int64) (bool, error)
	InsertIfAbsent(ctx context.Context, record *models.EntitlementRecord) (bool, error)
	Reactivate(ctx context.Context, id uuid.UUID, terms *commercialTerms) (bool, error)
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ClearRevokedAt(ctx context.Context, id uuid.UUID) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.EntitlementStatus, revokedAt *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	ListForUser(ctx context.Context, params listQuery) ([]models.EntitlementRecord, *pagination.Cursor, error)
}

// commercialTerms are the columns a reactivation overwrites. A nil value
// leaves the stored terms untouched.
type commercialTerms struct {
	Source           enums.EntitlementSource
	PointsSpent      int
	CostAmount       decimal.Decimal
	Currency         string
	PaymentReference *string
}

type listQuery struct {
	UserID     int64
	Limit      int
	Cursor     *pagination.Cursor
	ActiveOnly bool
}

type repository struct {
	repo.Base
}

// NewRepository returns an entitlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.EntitlementRecord, error) {
	var record models.EntitlementRecord
	if err := r.DB(ctx).Where("id = ?", id).Take(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByTriple returns gorm.ErrRecordNotFound when no row holds the triple.
func (r *repository) FindByTriple(ctx context.Context, userID, assetID int64, status enums.EntitlementStatus) (*models.EntitlementRecord, error) {
	var record models.EntitlementRecord
	err := r.DB(ctx).
		Where("user_id = ? AND asset_id = ? AND status = ?", userID, assetID, status).
		Take(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) Owns(ctx context.Context, userID, assetID int64) (bool, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.EntitlementRecord{}).
		Where("user_id = ? AND asset_id = ? AND status = ? AND revoked_at IS NULL", userID, assetID, enums.EntitlementStatusCompleted).
		Count(&count).Error
	return count > 0, err
}

// InsertIfAbsent inserts the record unless a row already holds its triple.
// It reports false when the insert lost to an existing row; the caller
// re-reads that row instead of treating the conflict as a failure.
func (r *repository) InsertIfAbsent(ctx context.Context, record *models.EntitlementRecord) (bool, error) {
	result := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "asset_id"},
				{Name: "status"},
			},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Reactivate flips a revoked row back to completed. It only touches rows that
// are still revoked, so a concurrent reactivation makes this a no-op.
func (r *repository) Reactivate(ctx context.Context, id uuid.UUID, terms *commercialTerms) (bool, error) {
	updates := map[string]any{
		"status":     enums.EntitlementStatusCompleted,
		"revoked_at": nil,
		"updated_at": time.Now().UTC(),
	}
	if terms != nil {
		updates["source"] = terms.Source
		updates["points_spent"] = terms.PointsSpent
		updates["cost_amount"] = terms.CostAmount
		updates["currency"] = terms.Currency
		updates["payment_reference"] = terms.PaymentReference
	}
	result := r.DB(ctx).
		Model(&models.EntitlementRecord{}).
		Where("id = ? AND status = ?", id, enums.EntitlementStatusRevoked).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

func (r *repository) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result := r.DB(ctx).
		Model(&models.EntitlementRecord{}).
		Where("id = ? AND status = ?", id, enums.EntitlementStatusCompleted).
		Updates(map[string]any{
			"status":     enums.EntitlementStatusRevoked,
			"revoked_at": at,
			"updated_at": at,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) ClearRevokedAt(ctx context.Context, id uuid.UUID) error {
	return r.DB(ctx).
		Model(&models.EntitlementRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"revoked_at": nil,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.EntitlementStatus, revokedAt *time.Time) error {
	return r.DB(ctx).
		Model(&models.EntitlementRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"revoked_at": revokedAt,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.DB(ctx).Where("id = ?", id).Delete(&models.EntitlementRecord{})
	return result.RowsAffected > 0, result.Error
}

func (r *repository) ListForUser(ctx context.Context, params listQuery) ([]models.EntitlementRecord, *pagination.Cursor, error) {
	query := r.DB(ctx).Model(&models.EntitlementRecord{}).Where("user_id = ?", params.UserID)
	if params.ActiveOnly {
		query = query.Where("status = ? AND revoked_at IS NULL", enums.EntitlementStatusCompleted)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var records []models.EntitlementRecord
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&records).Error; err != nil {
		return nil, nil, err
	}

	page, next := pagination.Split(records, params.Limit, func(rec models.EntitlementRecord) pagination.Cursor {
		return pagination.Cursor{CreatedAt: rec.CreatedAt, ID: rec.ID}
	})
	return page, next, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
