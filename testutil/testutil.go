package testutil

import (
	"fmt"
	"os"
	"testing"

	"qbanksync/logger"
	"qbanksync/models"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	return logger.Nop()
}

// DB returns a migrated, empty database private to the test. It uses an
// in-memory sqlite database unless TEST_POSTGRES_DSN points at a server, in
// which case the tables are truncated first.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			tb.Fatalf("failed to open test db: %v", err)
		}
		if err := db.AutoMigrate(models.All()...); err != nil {
			tb.Fatalf("failed to migrate test db: %v", err)
		}
		for _, table := range tableNames() {
			if err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", table)).Error; err != nil {
				tb.Fatalf("failed to truncate %s: %v", table, err)
			}
		}
		tb.Cleanup(func() { closeDB(db) })
		return db
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		tb.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.All()...); err != nil {
		tb.Fatalf("failed to migrate test db: %v", err)
	}
	tb.Cleanup(func() { closeDB(db) })
	return db
}

func tableNames() []string {
	return []string{
		models.QuestionCategory{}.TableName(),
		models.QuestionBankEntry{}.TableName(),
		models.QuestionVersion{}.TableName(),
		models.Question{}.TableName(),
		models.DeployedSeed{}.TableName(),
		models.Tag{}.TableName(),
		models.TagInstance{}.TableName(),
		models.SyncCopy{}.TableName(),
		models.AdhocTask{}.TableName(),
		models.PluginSetting{}.TableName(),
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
