package models

import "time"

// Asset is the slice of the catalog the ledger reads: the stored file path of
// a downloadable asset. The catalog service owns writes to this table.
type Asset struct {
	ID        int64     `gorm:"column:id;primaryKey"`
	Title     string    `gorm:"column:title;not null"`
	FilePath  *string   `gorm:"column:file_path"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Asset) TableName() string {
	return "assets"
}
