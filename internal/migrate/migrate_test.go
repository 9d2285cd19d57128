package migrate

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/pressly/goose/v3/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backjob/internal/jobs"
	"backjob/internal/store"
)

func TestGooseDialectFor(t *testing.T) {
	d, err := gooseDialectFor(store.Postgres)
	require.NoError(t, err)
	assert.Equal(t, database.DialectPostgres, d)

	d, err = gooseDialectFor(store.SQLite)
	require.NoError(t, err)
	assert.Equal(t, database.DialectSQLite3, d)

	_, err = gooseDialectFor(store.Dialect{Name: "mysql"})
	assert.Error(t, err)
}

func TestRun_Postgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set; skipping postgres integration test")
	}

	db, err := store.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}

	table := fmt.Sprintf("backjob_migrate_%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = db.Exec("DROP TABLE IF EXISTS " + table)
		_, _ = db.Exec("DROP TABLE IF EXISTS " + table + "_goose_version")
	})

	st, err := store.New(db, table, store.Postgres)
	require.NoError(t, err)

	_, _, err = st.Lookup(ctx, 1)
	require.ErrorIs(t, err, store.ErrTableMissing)

	require.NoError(t, Run(ctx, db, store.Postgres, table))
	// A second run finds the version recorded and does nothing.
	require.NoError(t, Run(ctx, db, store.Postgres, table))

	id, err := st.Insert(ctx, jobs.Progress(0))
	require.NoError(t, err)
	_, found, err := st.Lookup(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
}
