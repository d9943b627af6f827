package downloads

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/assetledger-backend/internal/repo"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
)

// ErrAssetNotFound is returned when the catalog has no row for an asset.
var ErrAssetNotFound = errors.New("asset not found")

const maxUserAgentRunes = 255

// AssetFileLookup finds the stored file path of an asset.
type AssetFileLookup interface {
	FilePath(ctx context.Context, assetID int64) (string, error)
}

type assetRepository struct {
	repo.Base
}

// NewAssetRepository reads file paths from the catalog's assets table.
func NewAssetRepository(db *gorm.DB) AssetFileLookup {
	return &assetRepository{Base: repo.NewBase(db)}
}

// FilePath returns an empty string when the asset exists but has no file.
func (r *assetRepository) FilePath(ctx context.Context, assetID int64) (string, error) {
	var asset models.Asset
	err := r.DB(ctx).Select("id", "file_path").Where("id = ?", assetID).Take(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrAssetNotFound
		}
		return "", err
	}
	if asset.FilePath == nil {
		return "", nil
	}
	return strings.TrimSpace(*asset.FilePath), nil
}

// AccessEntry is one authorized download.
type AccessEntry struct {
	UserID    int64
	AssetID   int64
	IP        string
	UserAgent string
}

// AccessLogRepository keeps the rolling per-pair download counter.
type AccessLogRepository interface {
	Record(ctx context.Context, entry AccessEntry) error
	Find(ctx context.Context, userID, assetID int64) (*models.EntitlementAccessLog, error)
}

type accessLogRepository struct {
	repo.Base
	now func() time.Time
}

func NewAccessLogRepository(db *gorm.DB) AccessLogRepository {
	return &accessLogRepository{Base: repo.NewBase(db), now: time.Now}
}

// Record increments the pair's counter in a single statement so concurrent
// downloads never lose an update.
func (r *accessLogRepository) Record(ctx context.Context, entry AccessEntry) error {
	now := r.now().UTC()
	row := models.EntitlementAccessLog{
		UserID:          entry.UserID,
		AssetID:         entry.AssetID,
		AccessCount:     1,
		LastIP:          optional(entry.IP),
		LastUserAgent:   optional(truncateRunes(entry.UserAgent, maxUserAgentRunes)),
		FirstAccessedAt: now,
		LastAccessedAt:  now,
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "asset_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"access_count":     gorm.Expr("entitlement_access_logs.access_count + 1"),
			"last_ip":          row.LastIP,
			"last_user_agent":  row.LastUserAgent,
			"last_accessed_at": now,
		}),
	}).Create(&row).Error
}

func (r *accessLogRepository) Find(ctx context.Context, userID, assetID int64) (*models.EntitlementAccessLog, error) {
	var row models.EntitlementAccessLog
	err := r.DB(ctx).Where("user_id = ? AND asset_id = ?", userID, assetID).Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
