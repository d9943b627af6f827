package models

import "time"

// AssetViewEvent is an append-only impression. Deduplication happens in the
// application, there is no uniqueness constraint on this table.
type AssetViewEvent struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	AssetID    int64     `gorm:"column:asset_id;not null;index:idx_asset_view_events_user,priority:1;index:idx_asset_view_events_session,priority:1"`
	UserID     *int64    `gorm:"column:user_id;index:idx_asset_view_events_user,priority:2"`
	SessionID  *string   `gorm:"column:session_id;index:idx_asset_view_events_session,priority:2"`
	IPAddress  *string   `gorm:"column:ip_address"`
	UserAgent  *string   `gorm:"column:user_agent;size:255"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index:idx_asset_view_events_user,priority:3;index:idx_asset_view_events_session,priority:3"`
}

func (AssetViewEvent) TableName() string {
	return "asset_view_events"
}
