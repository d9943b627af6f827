package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/assetledger-backend/internal/downloads"
	"github.com/angelmondragon/assetledger-backend/internal/entitlements"
	"github.com/angelmondragon/assetledger-backend/internal/views"
	pkgAuth "github.com/angelmondragon/assetledger-backend/pkg/auth"
	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/db/dbtest"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
	"github.com/angelmondragon/assetledger-backend/pkg/enums"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/metrics"
	"github.com/angelmondragon/assetledger-backend/pkg/outbox"
	"github.com/angelmondragon/assetledger-backend/pkg/settings"
	"github.com/angelmondragon/assetledger-backend/pkg/storage"
)

type testEnv struct {
	cfg    *config.Config
	client *db.Client
	router http.Handler
}

func testConfig(storageRoot string) *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "dev", Port: "0"},
		JWT: config.JWTConfig{Secret: "test-secret", Issuer: "assetledger-test", ExpirationMinutes: 15},
		RateLimit: config.RateLimitConfig{
			ViewWindow:  time.Minute,
			ViewIPLimit: 100,
		},
		Storage: config.StorageConfig{
			PrimaryRoot:    storageRoot,
			FallbackRoot:   filepath.Join(storageRoot, "public"),
			PublicBaseURL:  "https://cdn.example.com",
			PublicPrefixes: []string{"public/", "/storage/"},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	cfg := testConfig(root)
	client := dbtest.NewSQLite(t)
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	registry := prometheus.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(registry)
	provider := settings.Static{}

	params := entitlements.ServiceParams{
		Repo:     entitlements.NewRepository(client.DB()),
		Tx:       client,
		Outbox:   outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Settings: provider,
		Metrics:  ledgerMetrics,
		Logger:   logg,
	}
	ledger, err := entitlements.NewService(params)
	require.NoError(t, err)
	override, err := entitlements.NewAdminOverride(params)
	require.NoError(t, err)

	resolver, err := storage.NewLocalResolver(cfg.Storage)
	require.NoError(t, err)
	gate, err := downloads.NewGate(downloads.GateParams{
		Owners:     ledger,
		Assets:     downloads.NewAssetRepository(client.DB()),
		Resolver:   resolver,
		AccessLogs: downloads.NewAccessLogRepository(client.DB()),
		Metrics:    ledgerMetrics,
		Logger:     logg,
	})
	require.NoError(t, err)

	viewService, err := views.NewService(views.ServiceParams{
		Repo:     views.NewRepository(client.DB()),
		Settings: provider,
		Metrics:  ledgerMetrics,
		Logger:   logg,
	})
	require.NoError(t, err)

	dbtest.SeedAsset(t, client, 7, "packs/drums.zip")
	full := filepath.Join(root, "packs", "drums.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("PK\x03\x04drums"), 0o644))
	dbtest.SeedAsset(t, client, 8, "public/previews/keys.mp3")

	router := NewRouter(cfg, logg, client, nil, ledger, override, gate, viewService,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &testEnv{cfg: cfg, client: client, router: router}
}

func (e *testEnv) token(t *testing.T, userID int64, role enums.Role) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(e.cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{UserID: userID, Role: role})
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data any `json:"data"`
	}{Data: dest}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
}

func accessCount(t *testing.T, client *db.Client, userID, assetID int64) int64 {
	t.Helper()
	var row models.EntitlementAccessLog
	err := client.DB().Where("user_id = ? AND asset_id = ?", userID, assetID).First(&row).Error
	require.NoError(t, err)
	return row.AccessCount
}

func TestGrantDownloadRevokeScenario(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, 1, enums.RoleAdmin)
	user := env.token(t, 3, enums.RoleUser)

	rec := env.do(t, http.MethodPost, "/api/admin/v1/entitlements", admin, map[string]int64{"user_id": 3, "asset_id": 7}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var granted struct {
		ID      string `json:"id"`
		Outcome string `json:"outcome"`
	}
	decodeData(t, rec, &granted)
	assert.Equal(t, "created", granted.Outcome)

	rec = env.do(t, http.MethodPost, "/api/admin/v1/entitlements", admin, map[string]int64{"user_id": 3, "asset_id": 7}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodGet, "/api/v1/assets/7/download", user, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "PK\x03\x04drums", rec.Body.String())
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "drums.zip")
	}
	assert.Equal(t, int64(2), accessCount(t, env.client, 3, 7))

	rec = env.do(t, http.MethodDelete, "/api/admin/v1/entitlements/"+granted.ID, admin, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/assets/7/download", user, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, int64(2), accessCount(t, env.client, 3, 7))

	rec = env.do(t, http.MethodGet, "/api/v1/assets/7/ownership", user, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ownership struct {
		Owned bool `json:"owned"`
	}
	decodeData(t, rec, &ownership)
	assert.False(t, ownership.Owned)

	rec = env.do(t, http.MethodPatch, "/api/admin/v1/entitlements/"+granted.ID, admin, map[string]string{"action": "unrevoke"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/api/v1/assets/7/download", user, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPublicAssetRedirects(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, 1, enums.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/api/admin/v1/entitlements", admin, map[string]int64{"user_id": 3, "asset_id": 8}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/assets/8/download", env.token(t, 3, enums.RoleUser), nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn.example.com/public/previews/keys.mp3", rec.Header().Get("Location"))

	rec = env.do(t, http.MethodGet, "/api/v1/assets/8/download", env.token(t, 4, enums.RoleUser), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/v1/entitlements", "", map[string]int64{"user_id": 3, "asset_id": 7}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/v1/entitlements", env.token(t, 3, enums.RoleUser), map[string]int64{"user_id": 3, "asset_id": 7}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var count int64
	require.NoError(t, env.client.DB().Model(&models.EntitlementRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestBulkGrantAndList(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, 1, enums.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/api/admin/v1/entitlements", admin, map[string]int64{"user_id": 3, "asset_id": 7}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/v1/entitlements/bulk", admin, map[string]any{"user_id": 3, "asset_ids": []int64{7, 8, 9}}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var bulk entitlements.BulkGrantResult
	decodeData(t, rec, &bulk)
	assert.Len(t, bulk.Granted, 2)
	require.Len(t, bulk.Skipped, 1)
	assert.Equal(t, entitlements.SkipAlreadyOwned, bulk.Skipped[0].Reason)

	rec = env.do(t, http.MethodGet, "/api/v1/entitlements?limit=2", env.token(t, 3, enums.RoleUser), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page entitlements.ListResult
	decodeData(t, rec, &page)
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)

	rec = env.do(t, http.MethodGet, "/api/v1/entitlements?limit=2&cursor="+page.NextCursor, env.token(t, 3, enums.RoleUser), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rest entitlements.ListResult
	decodeData(t, rec, &rest)
	assert.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)

	ids := []string{bulk.Granted[0].ID.String(), bulk.Granted[1].ID.String()}
	rec = env.do(t, http.MethodDelete, "/api/admin/v1/entitlements/bulk", admin, map[string]any{"purchase_ids": ids, "mode": "delete"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var revoked entitlements.BulkRevokeResult
	decodeData(t, rec, &revoked)
	assert.Len(t, revoked.Deleted, 2)
}

func TestViewDeduplicationOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	session := map[string]string{"X-Session-Id": "visitor-1"}

	rec := env.do(t, http.MethodPost, "/api/public/assets/7/views", "", nil, session)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first views.Result
	decodeData(t, rec, &first)
	assert.True(t, first.Created)

	rec = env.do(t, http.MethodPost, "/api/public/assets/7/views", "", nil, session)
	require.Equal(t, http.StatusOK, rec.Code)
	var second views.Result
	decodeData(t, rec, &second)
	assert.True(t, second.Deduped)

	// the same session once authenticated is a different identity
	rec = env.do(t, http.MethodPost, "/api/public/assets/7/views", env.token(t, 3, enums.RoleUser), nil, session)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/public/assets/7/views", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/public/assets/7/views", "garbage", nil, session)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/v1/assets/7/views", env.token(t, 1, enums.RoleAdmin), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var counted struct {
		UniqueViews int64 `json:"unique_views"`
	}
	decodeData(t, rec, &counted)
	assert.Equal(t, int64(2), counted.UniqueViews)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/ready", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.do(t, http.MethodPost, "/api/admin/v1/entitlements", env.token(t, 1, enums.RoleAdmin), map[string]int64{"user_id": 3, "asset_id": 7}, nil)
	rec = env.do(t, http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "assetledger_entitlement_grants_total"), rec.Body.String())
}

func TestProtectedRoutesCarryRequestID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/entitlements", "", nil, map[string]string{"X-Request-Id": "req-123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
}
