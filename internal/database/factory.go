package database

import (
	"fmt"
	"os"
	"path/filepath"

	"geowatch/internal/config"
	"geowatch/internal/monitor"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (monitor.Database, error) {
	var (
		db  *SQLDatabase
		err error
	)
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		db, err = NewSQLiteDatabase(filepath.Join(cfg.DataDir, "geowatch.db"))
	case "memory":
		db, err = NewSQLiteDatabase(":memory:")
	case "mysql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for mysql database")
		}
		db, err = NewMySQLDatabase(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}
