// Package settings resolves operator-tunable ledger defaults. A value comes
// from the ledger_settings table when a row exists, otherwise from the loaded
// configuration, otherwise from a hardcoded fallback.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
)

const (
	KeyDefaultCurrency   = "default_currency"
	KeyViewWindowMinutes = "view_window_minutes"
	KeyFreePointsDefault = "free_points_default"
)

var hardcoded = map[string]string{
	KeyDefaultCurrency:   "USD",
	KeyViewWindowMinutes: "30",
	KeyFreePointsDefault: "0",
}

// Provider is the read surface handed to services.
type Provider interface {
	String(ctx context.Context, key string) string
	Int(ctx context.Context, key string) int
}

// Store reads and writes overrides and serves cached lookups.
type Store struct {
	db         *gorm.DB
	configured map[string]string
	cache      *expirable.LRU[string, string]
	logg       *logger.Logger
}

// NewStore builds a provider over the settings table. Config values become the
// second tier of the lookup.
func NewStore(db *gorm.DB, cfg config.Config, logg *logger.Logger) *Store {
	size := cfg.Ledger.SettingsCacheSize
	if size <= 0 {
		size = 64
	}
	ttl := cfg.Ledger.SettingsCacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Store{
		db:         db,
		configured: configuredValues(cfg),
		cache:      expirable.NewLRU[string, string](size, nil, ttl),
		logg:       logg,
	}
}

func configuredValues(cfg config.Config) map[string]string {
	values := map[string]string{}
	if v := strings.TrimSpace(cfg.Ledger.DefaultCurrency); v != "" {
		values[KeyDefaultCurrency] = strings.ToUpper(v)
	}
	if cfg.Views.WindowMinutes > 0 {
		values[KeyViewWindowMinutes] = strconv.Itoa(cfg.Views.WindowMinutes)
	}
	if cfg.Ledger.FreePointsDefault >= 0 {
		values[KeyFreePointsDefault] = strconv.Itoa(cfg.Ledger.FreePointsDefault)
	}
	return values
}

// String resolves key through the lookup tiers. Database errors are logged and
// the next tier is used.
func (s *Store) String(ctx context.Context, key string) string {
	if value, ok := s.cache.Get(key); ok {
		return value
	}

	value, found, err := s.lookup(ctx, key)
	if err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"setting": key,
			"error":   err.Error(),
		}), "settings.lookup.failed")
	}
	if !found {
		value = s.fallback(key)
	}
	if err == nil {
		s.cache.Add(key, value)
	}
	return value
}

// Int resolves key and parses it. A stored value that is not an integer is
// ignored in favour of the fallback tiers.
func (s *Store) Int(ctx context.Context, key string) int {
	raw := s.String(ctx, key)
	if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return n
	}
	n, _ := strconv.Atoi(s.fallback(key))
	return n
}

// Set writes an override and drops any cached value for the key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("setting key is required")
	}
	if _, known := hardcoded[key]; !known {
		return fmt.Errorf("unknown setting %q", key)
	}
	row := models.LedgerSetting{Key: key, Value: strings.TrimSpace(value), UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	s.cache.Remove(key)
	return nil
}

// Delete removes an override so the config tier applies again.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&models.LedgerSetting{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	s.cache.Remove(key)
	return nil
}

// Entry describes one resolved setting for listings.
type Entry struct {
	Key    string
	Value  string
	Source string
}

// List reports every known key with the tier it currently resolves from.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var rows []models.LedgerSetting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	stored := make(map[string]string, len(rows))
	for _, row := range rows {
		stored[row.Key] = row.Value
	}

	keys := []string{KeyDefaultCurrency, KeyFreePointsDefault, KeyViewWindowMinutes}
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entry := Entry{Key: key}
		switch {
		case stored[key] != "":
			entry.Value, entry.Source = stored[key], "database"
		case s.configured[key] != "":
			entry.Value, entry.Source = s.configured[key], "config"
		default:
			entry.Value, entry.Source = hardcoded[key], "default"
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) lookup(ctx context.Context, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, nil
	}
	var row models.LedgerSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if strings.TrimSpace(row.Value) == "" {
		return "", false, nil
	}
	return strings.TrimSpace(row.Value), true, nil
}

func (s *Store) fallback(key string) string {
	if v, ok := s.configured[key]; ok {
		return v
	}
	return hardcoded[key]
}

// Static is a fixed provider for tests and tools that run without a database.
type Static map[string]string

func (p Static) String(_ context.Context, key string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return hardcoded[key]
}

func (p Static) Int(ctx context.Context, key string) int {
	n, err := strconv.Atoi(p.String(ctx, key))
	if err != nil {
		n, _ = strconv.Atoi(hardcoded[key])
	}
	return n
}
