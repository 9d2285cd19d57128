package store

import (
	"fmt"
	"strconv"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect struct {
	// Name is the database/sql driver name.
	Name string

	placeholder func(n int) string
	createTable string
}

// Postgres is used with the pgx stdlib driver.
var Postgres = Dialect{
	Name:        "pgx",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	createTable: `CREATE TABLE IF NOT EXISTS %[1]s (
  id           BIGSERIAL PRIMARY KEY,
  progress     INTEGER NOT NULL DEFAULT 0,
  status       INTEGER NOT NULL DEFAULT 0,
  start_time   TIMESTAMPTZ,
  updated_time TIMESTAMPTZ,
  end_time     TIMESTAMPTZ,
  request      TEXT,
  status_text  TEXT
)`,
}

// SQLite is used with mattn/go-sqlite3 (build tag sqlite).
var SQLite = Dialect{
	Name:        "sqlite3",
	placeholder: func(int) string { return "?" },
	createTable: `CREATE TABLE IF NOT EXISTS %[1]s (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  progress     INTEGER NOT NULL DEFAULT 0,
  status       INTEGER NOT NULL DEFAULT 0,
  start_time   DATETIME,
  updated_time DATETIME,
  end_time     DATETIME,
  request      TEXT,
  status_text  TEXT
)`,
}

// DialectFor maps a configured driver name onto its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case Postgres.Name:
		return Postgres, nil
	case SQLite.Name:
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

// Schema returns the statements creating the jobs table and its
// retention index.
func (d Dialect) Schema(table string) []string {
	return []string{
		fmt.Sprintf(d.createTable, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]s_status_updated_idx ON %[1]s (status, updated_time)", table),
	}
}

// DropSchema reverses Schema.
func (d Dialect) DropSchema(table string) []string {
	return []string{fmt.Sprintf("DROP TABLE IF EXISTS %s", table)}
}
