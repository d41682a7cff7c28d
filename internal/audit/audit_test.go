package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenDisabledWithEmptyPath(t *testing.T) {
	l, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if l != nil {
		t.Fatal("expected nil Log for empty path")
	}
	// All methods must be safe to call on a nil Log.
	if err := l.RecordEvent(context.Background(), 1, "actor_started", "a1", "{}", time.Unix(0, 0)); err != nil {
		t.Fatalf("RecordEvent on nil Log: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close on nil Log: %v", err)
	}
}

func TestOpenCreatesSchemaAndRecordsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.sqlite")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = l.Close() }()

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	if err := l.RecordEvent(ctx, 1, "actor_started", "actor-1", `{"key":"x"}`, now); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := l.RecordKvOutcome(ctx, 42, "actor-1", "get", true, "", 12*time.Millisecond, now); err != nil {
		t.Fatalf("RecordKvOutcome: %v", err)
	}

	var count int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		t.Fatalf("querying events: %v", err)
	}
	if count != 1 {
		t.Fatalf("events count = %d, want 1", count)
	}
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_outcomes`).Scan(&count); err != nil {
		t.Fatalf("querying kv_outcomes: %v", err)
	}
	if count != 1 {
		t.Fatalf("kv_outcomes count = %d, want 1", count)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.sqlite")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = l.Close() }()
	if err := l.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRecentEventsOrderingAndLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.sqlite")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = l.Close() }()

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	for i, kind := range []string{"actor_started", "actor_stopped", "actor_started"} {
		if err := l.RecordEvent(ctx, int64(i), kind, "actor-1", "{}", now.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("RecordEvent %d: %v", i, err)
		}
	}

	rows, err := l.RecentEvents(ctx, 2)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	// Newest first.
	if rows[0].JournalIdx != 2 || rows[1].JournalIdx != 1 {
		t.Fatalf("unexpected ordering: %+v", rows)
	}
	if rows[0].ActorID != "actor-1" {
		t.Fatalf("ActorID = %q, want actor-1", rows[0].ActorID)
	}
}

func TestRecentEventsOnNilLog(t *testing.T) {
	var l *Log
	rows, err := l.RecentEvents(context.Background(), 10)
	if err != nil || rows != nil {
		t.Fatalf("RecentEvents on nil Log = (%v, %v), want (nil, nil)", rows, err)
	}
}

func TestRecentKvOutcomesOrderingAndFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.sqlite")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = l.Close() }()

	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	if err := l.RecordKvOutcome(ctx, 1, "actor-1", "put", true, "", 5*time.Millisecond, now); err != nil {
		t.Fatalf("RecordKvOutcome 1: %v", err)
	}
	if err := l.RecordKvOutcome(ctx, 2, "actor-1", "get", false, "kvbroker: request timed out", 9*time.Millisecond, now.Add(time.Second)); err != nil {
		t.Fatalf("RecordKvOutcome 2: %v", err)
	}

	rows, err := l.RecentKvOutcomes(ctx, 10)
	if err != nil {
		t.Fatalf("RecentKvOutcomes: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].RequestID != 2 || rows[0].Ok || rows[0].Error != "kvbroker: request timed out" {
		t.Fatalf("unexpected newest row: %+v", rows[0])
	}
	if rows[1].RequestID != 1 || !rows[1].Ok || rows[1].Duration != 5*time.Millisecond {
		t.Fatalf("unexpected oldest row: %+v", rows[1])
	}
}

func TestRecentKvOutcomesOnNilLog(t *testing.T) {
	var l *Log
	rows, err := l.RecentKvOutcomes(context.Background(), 10)
	if err != nil || rows != nil {
		t.Fatalf("RecentKvOutcomes on nil Log = (%v, %v), want (nil, nil)", rows, err)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("0001_init.sql")
	if err != nil {
		t.Fatalf("parseMigrationVersion: %v", err)
	}
	if v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
	if _, err := parseMigrationVersion("bad.sql"); err == nil {
		t.Fatal("expected error for non-numeric version")
	}
}
