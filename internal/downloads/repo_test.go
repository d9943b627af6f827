package downloads

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/assetledger-backend/pkg/db/dbtest"
)

func TestAccessLogRecordUpserts(t *testing.T) {
	client := dbtest.NewSQLite(t)
	repo := NewAccessLogRepository(client.DB()).(*accessLogRepository)
	ctx := context.Background()

	first := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return first }
	require.NoError(t, repo.Record(ctx, AccessEntry{UserID: 3, AssetID: 7, IP: "10.0.0.1", UserAgent: "agent-a"}))

	second := first.Add(time.Hour)
	repo.now = func() time.Time { return second }
	require.NoError(t, repo.Record(ctx, AccessEntry{UserID: 3, AssetID: 7, IP: " ", UserAgent: strings.Repeat("é", 300)}))
	require.NoError(t, repo.Record(ctx, AccessEntry{UserID: 3, AssetID: 8}))

	row, err := repo.Find(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.AccessCount)
	assert.Nil(t, row.LastIP)
	require.NotNil(t, row.LastUserAgent)
	assert.Equal(t, maxUserAgentRunes, utf8.RuneCountInString(*row.LastUserAgent))
	assert.True(t, row.FirstAccessedAt.Equal(first))
	assert.True(t, row.LastAccessedAt.Equal(second))

	other, err := repo.Find(ctx, 3, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.AccessCount)
}

func TestAssetRepositoryFilePath(t *testing.T) {
	client := dbtest.NewSQLite(t)
	dbtest.SeedAsset(t, client, 7, " assets/pack.zip ")
	dbtest.SeedAsset(t, client, 8, "")
	lookup := NewAssetRepository(client.DB())
	ctx := context.Background()

	got, err := lookup.FilePath(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "assets/pack.zip", got)

	got, err = lookup.FilePath(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = lookup.FilePath(ctx, 99)
	assert.ErrorIs(t, err, ErrAssetNotFound)
}
