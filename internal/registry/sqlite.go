// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ManuGH/restream/internal/persistence/sqlite"
	"github.com/ManuGH/restream/internal/task"
)

const sqliteSchemaVersion = 2

// SqliteRegistry persists records in a single SQLite table.
type SqliteRegistry struct {
	DB  *sql.DB
	now func() time.Time
}

// NewSqlite opens (and migrates) the registry database at path.
func NewSqlite(path string) (*SqliteRegistry, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	r := &SqliteRegistry{DB: db, now: time.Now}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("task registry: migration failed: %w", err)
	}
	return r, nil
}

func (r *SqliteRegistry) Close() error { return r.DB.Close() }

func (r *SqliteRegistry) migrate() error {
	var current int
	if err := r.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		video_filename TEXT NOT NULL,
		rtmp_url TEXT NOT NULL,
		task_name TEXT NOT NULL DEFAULT '',
		auto_stop_minutes INTEGER NOT NULL DEFAULT 0,
		transcode_enabled INTEGER NOT NULL DEFAULT 0,
		socks5_proxy TEXT NOT NULL DEFAULT '',
		create_time_ns INTEGER NOT NULL,
		update_time_ns INTEGER NOT NULL,
		scheduled_start_time_ns INTEGER,
		start_time_ns INTEGER,
		end_time_ns INTEGER,
		message TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		runtime_minutes REAL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_create ON tasks(create_time_ns);
	CREATE INDEX IF NOT EXISTS idx_tasks_start ON tasks(start_time_ns);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if current < 2 {
		// v2 tracks supervised relaunches.
		if !r.hasColumn(tx, "restarts") {
			if _, err := tx.Exec("ALTER TABLE tasks ADD COLUMN restarts INTEGER NOT NULL DEFAULT 0"); err != nil {
				return err
			}
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SqliteRegistry) hasColumn(tx *sql.Tx, name string) bool {
	rows, err := tx.Query("PRAGMA table_info(tasks)")
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			col     string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return false
		}
		if col == name {
			return true
		}
	}
	return false
}

const taskColumns = `id, status, video_filename, rtmp_url, task_name, auto_stop_minutes,
	transcode_enabled, socks5_proxy, create_time_ns, update_time_ns, scheduled_start_time_ns,
	start_time_ns, end_time_ns, message, error_message, runtime_minutes, restarts`

func (r *SqliteRegistry) Create(ctx context.Context, rec *task.Record) error {
	if err := validateNew(rec); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, recordArgs(rec)...)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
			return fmt.Errorf("%w: task %s already exists", task.ErrConflict, rec.ID)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *SqliteRegistry) Get(ctx context.Context, id string) (*task.Record, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	return rec, err
}

func (r *SqliteRegistry) List(ctx context.Context, opts ListOptions) ([]*task.Record, error) {
	if err := validOrder(opts.OrderBy); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if len(opts.Statuses) > 0 {
		marks := make([]string, len(opts.Statuses))
		for i, st := range opts.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}

	col := "create_time_ns"
	switch opts.OrderBy {
	case task.OrderStartTime:
		col = "start_time_ns"
	case task.OrderScheduledStartTime:
		col = "scheduled_start_time_ns"
	}
	dir := "DESC"
	if opts.Ascending {
		dir = "ASC"
	}

	q := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY COALESCE(%s, %d) %s, create_time_ns %s, id ASC", col, zeroNanos, dir, dir)
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SqliteRegistry) Transition(ctx context.Context, id string, from []task.Status, to task.Status, mutate MutateFunc) (*task.Record, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	observed := rec.Status
	if err := apply(rec, from, to, mutate, r.now()); err != nil {
		return nil, err
	}

	args := recordArgs(rec)
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET
		status = ?, video_filename = ?, rtmp_url = ?, task_name = ?, auto_stop_minutes = ?,
		transcode_enabled = ?, socks5_proxy = ?, update_time_ns = ?, scheduled_start_time_ns = ?,
		start_time_ns = ?, end_time_ns = ?, message = ?, error_message = ?, runtime_minutes = ?, restarts = ?
		WHERE id = ? AND status = ?`,
		args[1], args[2], args[3], args[4], args[5], args[6], args[7], args[9], args[10],
		args[11], args[12], args[13], args[14], args[15], args[16],
		id, string(observed))
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, fmt.Errorf("%w: task %s changed concurrently", task.ErrConflict, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return rec, nil
}

// Missing timestamps sort before every real one.
const zeroNanos = math.MinInt64

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*task.Record, error) {
	var (
		rec                   task.Record
		status                string
		transcode             int
		created, updated      int64
		scheduled, start, end sql.NullInt64
		runtime               sql.NullFloat64
	)
	err := s.Scan(&rec.ID, &status, &rec.VideoFilename, &rec.RTMPURL, &rec.TaskName, &rec.AutoStopMinutes,
		&transcode, &rec.SOCKS5Proxy, &created, &updated, &scheduled, &start, &end,
		&rec.Message, &rec.ErrorMessage, &runtime, &rec.Restarts)
	if err != nil {
		return nil, err
	}
	st, err := task.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = st
	rec.TranscodeEnabled = transcode != 0
	rec.CreateTime = time.Unix(0, created).UTC()
	rec.UpdateTime = time.Unix(0, updated).UTC()
	rec.ScheduledStartTime = fromNanos(scheduled)
	rec.StartTime = fromNanos(start)
	rec.EndTime = fromNanos(end)
	if runtime.Valid {
		v := runtime.Float64
		rec.RuntimeMinutes = &v
	}
	return &rec, nil
}

func recordArgs(rec *task.Record) []any {
	transcode := 0
	if rec.TranscodeEnabled {
		transcode = 1
	}
	var runtime any
	if rec.RuntimeMinutes != nil {
		runtime = *rec.RuntimeMinutes
	}
	return []any{
		rec.ID, string(rec.Status), rec.VideoFilename, rec.RTMPURL, rec.TaskName, rec.AutoStopMinutes,
		transcode, rec.SOCKS5Proxy, rec.CreateTime.UnixNano(), rec.UpdateTime.UnixNano(),
		toNanos(rec.ScheduledStartTime), toNanos(rec.StartTime), toNanos(rec.EndTime),
		rec.Message, rec.ErrorMessage, runtime, rec.Restarts,
	}
}

func toNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
