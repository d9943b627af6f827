package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Ledger.DefaultCurrency = "eur"
	cfg.Ledger.SettingsCacheSize = 8
	cfg.Ledger.SettingsCacheTTL = time.Hour
	cfg.Views.WindowMinutes = 45
	return cfg
}

func TestStorePrecedence(t *testing.T) {
	client := dbtest.NewSQLite(t)
	store := NewStore(client.DB(), testConfig(), logger.Nop())
	ctx := context.Background()

	assert.Equal(t, "EUR", store.String(ctx, KeyDefaultCurrency), "config tier")
	assert.Equal(t, 45, store.Int(ctx, KeyViewWindowMinutes))
	assert.Equal(t, 0, store.Int(ctx, KeyFreePointsDefault))

	require.NoError(t, store.Set(ctx, KeyDefaultCurrency, "GBP"))
	assert.Equal(t, "GBP", store.String(ctx, KeyDefaultCurrency), "database tier")

	require.NoError(t, store.Delete(ctx, KeyDefaultCurrency))
	assert.Equal(t, "EUR", store.String(ctx, KeyDefaultCurrency))
}

func TestStoreHardcodedFallback(t *testing.T) {
	store := NewStore(nil, config.Config{}, nil)
	ctx := context.Background()

	assert.Equal(t, "USD", store.String(ctx, KeyDefaultCurrency))
	assert.Equal(t, 30, store.Int(ctx, KeyViewWindowMinutes))
}

func TestStoreCachesResolvedValues(t *testing.T) {
	client := dbtest.NewSQLite(t)
	store := NewStore(client.DB(), testConfig(), logger.Nop())
	ctx := context.Background()

	assert.Equal(t, 45, store.Int(ctx, KeyViewWindowMinutes))

	// Written behind the store's back, so the cached value stays until expiry.
	require.NoError(t, client.DB().Create(&models.LedgerSetting{Key: KeyViewWindowMinutes, Value: "5"}).Error)
	assert.Equal(t, 45, store.Int(ctx, KeyViewWindowMinutes))

	require.NoError(t, store.Set(ctx, KeyViewWindowMinutes, "10"))
	assert.Equal(t, 10, store.Int(ctx, KeyViewWindowMinutes))
}

func TestStoreIntIgnoresGarbage(t *testing.T) {
	client := dbtest.NewSQLite(t)
	store := NewStore(client.DB(), testConfig(), logger.Nop())
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, KeyViewWindowMinutes, "soon"))
	assert.Equal(t, 45, store.Int(ctx, KeyViewWindowMinutes))
}

func TestStoreSetRejectsUnknownKey(t *testing.T) {
	client := dbtest.NewSQLite(t)
	store := NewStore(client.DB(), testConfig(), logger.Nop())

	assert.Error(t, store.Set(context.Background(), "max_downloads", "3"))
	assert.Error(t, store.Set(context.Background(), " ", "3"))
}

func TestStoreList(t *testing.T) {
	client := dbtest.NewSQLite(t)
	store := NewStore(client.DB(), testConfig(), logger.Nop())
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, KeyFreePointsDefault, "25"))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	sources := map[string]string{}
	for _, e := range entries {
		sources[e.Key] = e.Source
	}
	assert.Equal(t, "config", sources[KeyDefaultCurrency])
	assert.Equal(t, "database", sources[KeyFreePointsDefault])
	assert.Equal(t, "config", sources[KeyViewWindowMinutes])
}

func TestStatic(t *testing.T) {
	p := Static{KeyViewWindowMinutes: "1"}
	assert.Equal(t, 1, p.Int(context.Background(), KeyViewWindowMinutes))
	assert.Equal(t, "USD", p.String(context.Background(), KeyDefaultCurrency))
}
