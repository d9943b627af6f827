package views

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/assetledger-backend/internal/repo"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
)

// Repository stores view events. Nothing here enforces uniqueness.
type Repository interface {
	SeenSince(ctx context.Context, assetID int64, identity Identity, since time.Time) (bool, error)
	Insert(ctx context.Context, event *models.AssetViewEvent) error
	CountSince(ctx context.Context, assetID int64, since time.Time) (int64, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

// SeenSince matches authenticated identities on user id and anonymous ones on
// session id among anonymous rows only.
func (r *repository) SeenSince(ctx context.Context, assetID int64, identity Identity, since time.Time) (bool, error) {
	query := r.DB(ctx).Model(&models.AssetViewEvent{}).
		Where("asset_id = ? AND occurred_at >= ?", assetID, since)
	if identity.Authenticated() {
		query = query.Where("user_id = ?", *identity.UserID)
	} else {
		query = query.Where("user_id IS NULL AND session_id = ?", identity.SessionID)
	}

	var ids []int64
	if err := query.Limit(1).Pluck("id", &ids).Error; err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (r *repository) Insert(ctx context.Context, event *models.AssetViewEvent) error {
	return r.DB(ctx).Create(event).Error
}

func (r *repository) CountSince(ctx context.Context, assetID int64, since time.Time) (int64, error) {
	var n int64
	err := r.DB(ctx).Model(&models.AssetViewEvent{}).
		Where("asset_id = ? AND occurred_at >= ?", assetID, since).
		Count(&n).Error
	return n, err
}
