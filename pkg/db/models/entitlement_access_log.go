package models

import "time"

// EntitlementAccessLog keeps one rolling row per (user, asset) download pair.
type EntitlementAccessLog struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID          int64     `gorm:"column:user_id;not null;uniqueIndex:uq_entitlement_access_logs_user_asset,priority:1"`
	AssetID         int64     `gorm:"column:asset_id;not null;uniqueIndex:uq_entitlement_access_logs_user_asset,priority:2"`
	AccessCount     int64     `gorm:"column:access_count;not null;default:0"`
	LastIP          *string   `gorm:"column:last_ip"`
	LastUserAgent   *string   `gorm:"column:last_user_agent;size:255"`
	FirstAccessedAt time.Time `gorm:"column:first_accessed_at;not null"`
	LastAccessedAt  time.Time `gorm:"column:last_accessed_at;not null"`
}

func (EntitlementAccessLog) TableName() string {
	return "entitlement_access_logs"
}
