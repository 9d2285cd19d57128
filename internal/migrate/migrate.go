package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"backjob/internal/store"
)

// Run creates the jobs table if it is missing, using goose so repeated
// runs are no-ops. The table name is configurable, so the migration is a
// Go migration rather than a SQL file. Versions are tracked in
// <table>_goose_version so the host application's own goose history is
// left alone.
func Run(ctx context.Context, db *sql.DB, d store.Dialect, table string) error {
	gooseDialect, err := gooseDialectFor(d)
	if err != nil {
		return err
	}

	versions, err := database.NewStore(gooseDialect, table+"_goose_version")
	if err != nil {
		return fmt.Errorf("goose store: %w", err)
	}

	up := &goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
		return execAll(ctx, tx, d.Schema(table))
	}}
	down := &goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
		return execAll(ctx, tx, d.DropSchema(table))
	}}

	provider, err := goose.NewProvider("", db, nil,
		goose.WithStore(versions),
		goose.WithGoMigrations(goose.NewGoMigration(1, up, down)),
	)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func gooseDialectFor(d store.Dialect) (database.Dialect, error) {
	switch d.Name {
	case store.Postgres.Name:
		return database.DialectPostgres, nil
	case store.SQLite.Name:
		return database.DialectSQLite3, nil
	}
	return "", fmt.Errorf("no goose dialect for driver %q", d.Name)
}

func execAll(ctx context.Context, tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
