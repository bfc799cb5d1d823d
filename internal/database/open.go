package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"geowatch/internal/database/migrations"
)

// OpenSQLite opens and configures a SQLite connection with the PRAGMAs the
// store relies on. path can be a file path or ":memory:".
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite serializes writers anyway, and each :memory:
	// connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// MySQLDSN normalizes a DSN for the store: times are parsed as UTC
// time.Time and migration files may carry several statements.
func MySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// OpenMySQL opens a MySQL connection pool.
func OpenMySQL(dsn string) (*sql.DB, error) {
	normalized, err := MySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to mysql: %w", err)
	}
	return db, nil
}

// NewSQLiteDatabase opens a SQLite-backed store at path and migrates it.
func NewSQLiteDatabase(path string) (*SQLDatabase, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return newMigrated(db, migrations.SQLite, path)
}

// NewMySQLDatabase opens a MySQL-backed store and migrates it.
func NewMySQLDatabase(dsn string) (*SQLDatabase, error) {
	db, err := OpenMySQL(dsn)
	if err != nil {
		return nil, err
	}
	return newMigrated(db, migrations.MySQL, "")
}

func newMigrated(db *sql.DB, dialect, path string) (*SQLDatabase, error) {
	if err := migrations.Up(db, dialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &SQLDatabase{db: db, dialect: dialect, path: path}, nil
}

// NewSQLDatabaseFromDB wraps an existing, already-migrated connection.
func NewSQLDatabaseFromDB(db *sql.DB, dialect string) *SQLDatabase {
	return &SQLDatabase{db: db, dialect: dialect}
}
