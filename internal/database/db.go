package marketdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// SchemaVersionKey records which schema the database was last migrated to.
	SchemaVersionKey = "schema_version"
	SchemaVersion    = "1"
)

// Open opens (creating if needed) the marketplace SQLite database and migrates it.
//
// Transactions are started with BEGIN IMMEDIATE so a read-modify-write
// holds the write lock from its first read.
func Open(dbPath string, log *zap.Logger) (*gorm.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on", dbPath)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("database ready", zap.String("path", dbPath))
	return db, nil
}

// Migrate creates or updates every marketplace table.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&SQLiteAsset{},
		&SQLiteWallet{},
		&SQLiteWalletTransaction{},
		&SQLiteSandboxTest{},
		&SQLiteMetadata{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return SetMetadata(db, SchemaVersionKey, SchemaVersion)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetMetadata upserts a key/value pair.
func SetMetadata(db *gorm.DB, key, value string) error {
	return db.Save(&SQLiteMetadata{Key: key, Value: value}).Error
}

// GetMetadata returns the value stored under key, or "" when it is unset.
func GetMetadata(db *gorm.DB, key string) (string, error) {
	var m SQLiteMetadata
	err := db.Where("key = ?", key).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return m.Value, nil
}
