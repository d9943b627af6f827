// Package dbtest opens throwaway sqlite databases carrying the ledger schema.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/assetledger-backend/pkg/db"
	"github.com/angelmondragon/assetledger-backend/pkg/db/models"
)

var seq atomic.Int64

// NewSQLite returns a client backed by a private in-memory database with every
// ledger table migrated. The database is closed when the test finishes.
func NewSQLite(t testing.TB) *db.Client {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db.FromGorm(conn)
}

// SeedAsset inserts a catalog row the ledger can resolve a file path for.
func SeedAsset(t testing.TB, client *db.Client, id int64, filePath string) {
	t.Helper()

	asset := models.Asset{ID: id, Title: fmt.Sprintf("asset-%d", id)}
	if filePath != "" {
		asset.FilePath = &filePath
	}
	if err := client.DB().Create(&asset).Error; err != nil {
		t.Fatalf("seed asset %d: %v", id, err)
	}
}
