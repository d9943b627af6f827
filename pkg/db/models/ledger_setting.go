package models

import "time"

// LedgerSetting is an operator override for a named ledger default.
type LedgerSetting struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (LedgerSetting) TableName() string {
	return "ledger_settings"
}
