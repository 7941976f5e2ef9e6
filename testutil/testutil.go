package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/mpath"
	"github.com/yungbote/mpath/platform/envutil"
	"github.com/yungbote/mpath/platform/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	pgOnce sync.Once
	pgDB   *gorm.DB
	pgErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// SQLiteDB opens a fresh file-backed database with the plugin installed and
// the fixture models migrated. File-backed because a :memory: database is per
// connection and the pool would hand each session its own empty schema.
func SQLiteDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "tree.db")
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	if err := db.Use(mpath.New(mpath.WithLogger(Logger(tb)))); err != nil {
		tb.Fatalf("install plugin: %v", err)
	}
	if err := db.AutoMigrate(&Category{}, &Folder{}); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	tb.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// PostgresDB returns the shared postgres handle, skipping the test when
// TEST_POSTGRES_DSN is unset. Tests isolate themselves with Tx.
func PostgresDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	pgOnce.Do(func() {
		dsn := envutil.Str("TEST_POSTGRES_DSN", "")
		if dsn == "" {
			pgErr = errMissingDSN
			return
		}
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			pgErr = err
			return
		}
		if err := mpath.EnsureExtensions(context.Background(), db); err != nil {
			pgErr = err
			return
		}
		if err := db.Use(mpath.New(mpath.WithLogger(Logger(tb)))); err != nil {
			pgErr = err
			return
		}
		if err := db.AutoMigrate(&Category{}, &Folder{}); err != nil {
			pgErr = err
			return
		}
		pgDB = db
	})

	if errors.Is(pgErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run postgres tree tests")
	}
	if pgErr != nil {
		tb.Fatalf("failed to init postgres test db: %v", pgErr)
	}
	return pgDB
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}
