package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/assetledger-backend/pkg/enums"
)

// EntitlementRecordUniqueConstraint guards one row per (user, asset, status).
const EntitlementRecordUniqueConstraint = "uq_entitlement_records_user_asset_status"

// EntitlementRecord is a single ownership fact. A user owns an asset when a
// completed row with a nil RevokedAt exists for the pair.
type EntitlementRecord struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID           int64                   `gorm:"column:user_id;not null;uniqueIndex:uq_entitlement_records_user_asset_status,priority:1;index:idx_entitlement_records_user_created,priority:1"`
	AssetID          int64                   `gorm:"column:asset_id;not null;uniqueIndex:uq_entitlement_records_user_asset_status,priority:2"`
	Status           enums.EntitlementStatus `gorm:"column:status;type:entitlement_status;not null;uniqueIndex:uq_entitlement_records_user_asset_status,priority:3"`
	Source           enums.EntitlementSource `gorm:"column:source;type:entitlement_source;not null"`
	PointsSpent      int                     `gorm:"column:points_spent;not null;default:0"`
	CostAmount       decimal.Decimal         `gorm:"column:cost_amount;type:numeric(12,2);not null;default:0"`
	Currency         string                  `gorm:"column:currency;type:char(3);not null"`
	PaymentReference *string                 `gorm:"column:payment_reference"`
	RevokedAt        *time.Time              `gorm:"column:revoked_at"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime;index:idx_entitlement_records_user_created,priority:2"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (EntitlementRecord) TableName() string {
	return "entitlement_records"
}

func (r *EntitlementRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Active reports whether the row confers ownership.
func (r *EntitlementRecord) Active() bool {
	return r != nil && r.Status == enums.EntitlementStatusCompleted && r.RevokedAt == nil
}
