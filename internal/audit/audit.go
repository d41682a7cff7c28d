// Package audit is an optional local spool recording actor lifecycle
// events and KV operation outcomes for operator debugging. It is not
// part of the runner's correctness path: the control channel and
// journal remain authoritative, and a disabled or failing audit spool
// never blocks an operation.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Log records runner activity. All methods are safe to call with a
// nil *Log, which is what Open returns when auditing is disabled, so
// callers never need a separate enabled/disabled branch.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite database at path and runs
// pending migrations. An empty path disables auditing: Open returns a
// nil *Log and nil error, matching the driver="none" default.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: creating directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Log{db: db}
	if err := l.initPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database. Safe on a nil *Log.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

func (l *Log) initPragmas(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, q := range stmts {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// RecordEvent appends a lifecycle event row. Errors are returned to
// the caller rather than swallowed here; callers on the core loop
// should log-and-continue rather than treat a spool failure as fatal.
func (l *Log) RecordEvent(ctx context.Context, journalIdx int64, kind, actorID, detail string, occurredAt time.Time) error {
	if l == nil || l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events(journal_idx, kind, actor_id, detail, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		journalIdx, kind, nullableString(actorID), detail, occurredAt.Unix())
	return err
}

// RecordKvOutcome appends a row describing how a KV request resolved.
func (l *Log) RecordKvOutcome(ctx context.Context, requestID uint32, actorID, op string, ok bool, errMsg string, d time.Duration, occurredAt time.Time) error {
	if l == nil || l.db == nil {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO kv_outcomes(request_id, actor_id, op, ok, error, duration_ms, occurred_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		requestID, actorID, op, boolToInt(ok), nullableString(errMsg), d.Milliseconds(), occurredAt.Unix())
	return err
}

// EventRow is one row returned by RecentEvents.
type EventRow struct {
	JournalIdx int64
	Kind       string
	ActorID    string
	Detail     string
	OccurredAt time.Time
}

// RecentEvents returns the most recently recorded lifecycle events,
// newest first, for the `pegboard-runner events tail` CLI command.
func (l *Log) RecentEvents(ctx context.Context, limit int) ([]EventRow, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT journal_idx, kind, COALESCE(actor_id, ''), detail, occurred_at
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []EventRow
	for rows.Next() {
		var r EventRow
		var occurred int64
		if err := rows.Scan(&r.JournalIdx, &r.Kind, &r.ActorID, &r.Detail, &occurred); err != nil {
			return nil, err
		}
		r.OccurredAt = time.Unix(occurred, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// KvOutcomeRow is one row returned by RecentKvOutcomes.
type KvOutcomeRow struct {
	RequestID  uint32
	ActorID    string
	Op         string
	Ok         bool
	Error      string
	Duration   time.Duration
	OccurredAt time.Time
}

// RecentKvOutcomes returns the most recently recorded KV operation
// outcomes, newest first, for the `pegboard-runner kv-log` CLI command.
func (l *Log) RecentKvOutcomes(ctx context.Context, limit int) ([]KvOutcomeRow, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT request_id, actor_id, op, ok, COALESCE(error, ''), duration_ms, occurred_at
		 FROM kv_outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []KvOutcomeRow
	for rows.Next() {
		var r KvOutcomeRow
		var ok int
		var durationMs, occurred int64
		if err := rows.Scan(&r.RequestID, &r.ActorID, &r.Op, &ok, &r.Error, &durationMs, &occurred); err != nil {
			return nil, err
		}
		r.Ok = ok != 0
		r.Duration = time.Duration(durationMs) * time.Millisecond
		r.OccurredAt = time.Unix(occurred, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (l *Log) migrate(ctx context.Context) error {
	if l == nil || l.db == nil {
		return errors.New("audit: log not initialized")
	}
	if _, err := l.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}
	applied, err := l.appliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		name := f.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		v, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{Version: v, Name: name, SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := l.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("audit: migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

func (l *Log) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (l *Log) applyMigration(ctx context.Context, m migration) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 1 {
		return 0, fmt.Errorf("invalid migration filename: %s", filename)
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}
