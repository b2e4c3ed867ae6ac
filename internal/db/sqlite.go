package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// AllModels lists every table AutoMigrate manages.
var AllModels = []any{
	&models.Connection{},
	&models.Product{},
	&models.Library{},
	&models.LibraryItem{},
	&models.Job{},
	&models.CacheEntry{},
}

// InitDB opens the SQLite database at dbPath and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn(dbPath)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single pooled connection avoids SQLITE_BUSY
	// between the HTTP handlers and job workers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(AllModels...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logging.Debug().Str("path", dbPath).Msg("📦 Database ready")
	return db, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") || strings.HasPrefix(path, "file:") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}
