package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/assetledger-backend/pkg/enums"
)

// EntitlementGrantedEvent is emitted when a pair gains ownership, either by a
// fresh row or by reactivating a revoked one.
type EntitlementGrantedEvent struct {
	RecordID    uuid.UUID               `json:"record_id"`
	UserID      int64                   `json:"user_id"`
	AssetID     int64                   `json:"asset_id"`
	Source      enums.EntitlementSource `json:"source"`
	PointsSpent int                     `json:"points_spent"`
	CostAmount  string                  `json:"cost_amount"`
	Currency    string                  `json:"currency"`
	Reactivated bool                    `json:"reactivated"`
}

// EntitlementRevokedEvent is emitted on a soft revoke.
type EntitlementRevokedEvent struct {
	RecordID  uuid.UUID `json:"record_id"`
	UserID    int64     `json:"user_id"`
	AssetID   int64     `json:"asset_id"`
	RevokedAt time.Time `json:"revoked_at"`
}

// EntitlementStatusChangedEvent records an administrative status override.
type EntitlementStatusChangedEvent struct {
	RecordID       uuid.UUID               `json:"record_id"`
	UserID         int64                   `json:"user_id"`
	AssetID        int64                   `json:"asset_id"`
	PreviousStatus enums.EntitlementStatus `json:"previous_status"`
	Status         enums.EntitlementStatus `json:"status"`
}

// EntitlementDeletedEvent records a hard delete.
type EntitlementDeletedEvent struct {
	RecordID uuid.UUID               `json:"record_id"`
	UserID   int64                   `json:"user_id"`
	AssetID  int64                   `json:"asset_id"`
	Status   enums.EntitlementStatus `json:"status"`
}
