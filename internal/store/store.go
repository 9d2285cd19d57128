package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"backjob/internal/config"
	"backjob/internal/jobs"
)

// ErrTableMissing is returned when the jobs table does not exist. Enable
// jobs.checkAndCreateTable or run the migration to create it.
var ErrTableMissing = errors.New("jobs table does not exist")

// Store is the durable job table over a shared *sql.DB with pooling.
type Store struct {
	DB      *sql.DB
	table   string
	dialect Dialect
}

// New creates a Store on table. The table name is interpolated into SQL,
// so it must be a plain identifier.
func New(db *sql.DB, table string, d Dialect) (*Store, error) {
	if !config.ValidIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{DB: db, table: table, dialect: d}, nil
}

// Open opens a pooled connection for the configured driver.
func Open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Basic pool settings; adjust as needed
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Table returns the table name the store operates on.
func (s *Store) Table() string { return s.table }

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() Dialect { return s.dialect }

// Insert stores a new job row and returns its id.
func (s *Store) Insert(ctx context.Context, p jobs.Patch) (int64, error) {
	cols, args := columns(p)

	var q string
	if len(cols) == 0 {
		q = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", s.table)
	} else {
		marks := make([]string, len(cols))
		for i := range cols {
			marks[i] = s.dialect.placeholder(i + 1)
		}
		q = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			s.table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	}

	var id int64
	if err := s.DB.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// Update writes the fields set in p to the row with the given id.
// Updating a missing row is not an error.
func (s *Store) Update(ctx context.Context, id int64, p jobs.Patch) error {
	_, err := s.update(ctx, id, p, false)
	return err
}

// UpdateRunning is Update for a row that is still Started or InProgress.
// The status check is part of the UPDATE itself, so a row that became
// Completed or Failed concurrently is left alone. It reports whether a
// row was written.
func (s *Store) UpdateRunning(ctx context.Context, id int64, p jobs.Patch) (bool, error) {
	return s.update(ctx, id, p, true)
}

func (s *Store) update(ctx context.Context, id int64, p jobs.Patch, running bool) (bool, error) {
	cols, args := columns(p)
	if len(cols) == 0 {
		return false, nil
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = " + s.dialect.placeholder(i+1)
	}
	args = append(args, id)
	where := "id = " + s.dialect.placeholder(len(args))
	if running {
		where += fmt.Sprintf(" AND status < %d", jobs.StatusCompleted)
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s", s.table, strings.Join(sets, ", "), where)

	res, err := s.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Lookup reads the row with the given id. NULL columns come back unset.
func (s *Store) Lookup(ctx context.Context, id int64) (jobs.Patch, bool, error) {
	q := fmt.Sprintf(`SELECT progress, status, start_time, updated_time, end_time, request, status_text
FROM %s WHERE id = %s`, s.table, s.dialect.placeholder(1))

	var (
		progress, status      sql.NullInt64
		start, updated, ended sql.NullTime
		request, text         sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, q, id).Scan(&progress, &status, &start, &updated, &ended, &request, &text)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Patch{}, false, nil
	}
	if err != nil {
		return jobs.Patch{}, false, classify(err)
	}

	var p jobs.Patch
	if progress.Valid {
		n := int(progress.Int64)
		p.Progress = &n
	}
	if status.Valid {
		st := jobs.Status(status.Int64)
		p.Status = &st
	}
	p.StartTime = utcPtr(start)
	p.UpdatedTime = utcPtr(updated)
	p.EndTime = utcPtr(ended)
	if request.Valid {
		p.Request = &request.String
	}
	if text.Valid {
		p.StatusText = &text.String
	}
	return p, true, nil
}

// DeleteFinishedBefore removes Completed and Failed jobs last updated
// before cutoff.
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE status IN (%d, %d) AND updated_time < %s",
		s.table, jobs.StatusCompleted, jobs.StatusFailed, s.dialect.placeholder(1))
	res, err := s.DB.ExecContext(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, classify(err)
	}
	return res.RowsAffected()
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// columns lists the set fields of p in a fixed order with their values.
func columns(p jobs.Patch) ([]string, []any) {
	var cols []string
	var args []any
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	if p.Progress != nil {
		add("progress", *p.Progress)
	}
	if p.Status != nil {
		add("status", int(*p.Status))
	}
	if p.StartTime != nil {
		add("start_time", p.StartTime.UTC())
	}
	if p.UpdatedTime != nil {
		add("updated_time", p.UpdatedTime.UTC())
	}
	if p.EndTime != nil {
		add("end_time", p.EndTime.UTC())
	}
	if p.Request != nil {
		add("request", *p.Request)
	}
	if p.StatusText != nil {
		add("status_text", *p.StatusText)
	}
	return cols, args
}

func utcPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

// classify maps driver errors onto sentinel errors callers can act on.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return fmt.Errorf("%w: %s", ErrTableMissing, pgErr.Message)
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", ErrTableMissing, err)
	}
	return err
}
