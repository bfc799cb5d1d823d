package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Dialects with a migration set.
const (
	SQLite = "sqlite3"
	MySQL  = "mysql"
)

// ErrNotMigrated is returned by Check for a database with no schema at all.
var ErrNotMigrated = errors.New("database has no schema version")

//go:embed files/sqlite/*.sql files/mysql/*.sql
var files embed.FS

type dialectSet struct {
	dir    string
	driver func(*sql.DB) (database.Driver, error)
}

var dialects = map[string]dialectSet{
	SQLite: {
		dir: "files/sqlite",
		driver: func(db *sql.DB) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{})
		},
	},
	MySQL: {
		dir: "files/mysql",
		driver: func(db *sql.DB) (database.Driver, error) {
			return migratemysql.WithInstance(db, &migratemysql.Config{})
		},
	},
}

// Status describes where a database stands against the embedded migrations.
type Status struct {
	Current uint // 0 when no migration ever ran
	Latest  uint
	Dirty   bool
}

// ReadStatus reports the schema version of db and the newest embedded one.
func ReadStatus(db *sql.DB, dialect string) (Status, error) {
	var st Status
	m, err := open(db, dialect)
	if err != nil {
		return st, err
	}
	// m is not closed: that would close db, which the caller owns.

	st.Current, st.Dirty, err = m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return st, fmt.Errorf("reading schema version: %w", err)
	}

	src, err := openSource(dialect)
	if err != nil {
		return st, err
	}
	defer src.Close()
	st.Latest, err = latest(src)
	if err != nil {
		return st, fmt.Errorf("scanning embedded migrations: %w", err)
	}
	return st, nil
}

// Check returns an error unless db is cleanly at the latest version.
func Check(db *sql.DB, dialect string) error {
	st, err := ReadStatus(db, dialect)
	switch {
	case err != nil:
		return err
	case st.Current == 0 && !st.Dirty:
		return ErrNotMigrated
	case st.Dirty:
		return fmt.Errorf("schema version %d is dirty, a migration failed part-way", st.Current)
	case st.Current < st.Latest:
		return fmt.Errorf("schema version %d is %d behind %d", st.Current, st.Latest-st.Current, st.Latest)
	case st.Current > st.Latest:
		return fmt.Errorf("schema version %d is newer than this binary (%d)", st.Current, st.Latest)
	}
	return nil
}

// Up applies every pending migration. An up-to-date database is a no-op.
func Up(db *sql.DB, dialect string) error {
	m, err := open(db, dialect)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func openSource(dialect string) (source.Driver, error) {
	set, ok := dialects[dialect]
	if !ok {
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
	src, err := iofs.New(files, set.dir)
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	return src, nil
}

func open(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	src, err := openSource(dialect)
	if err != nil {
		return nil, err
	}
	driver, err := dialects[dialect].driver(db)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing %s migration driver: %w", dialect, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, dialect, driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing migrations: %w", err)
	}
	return m, nil
}

// latest walks the source to its last version.
func latest(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
