// internal/log/database_test.go
package log

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestDBHandler_Write(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test-log.db")

	cfg := &Config{
		DBPath:        dbPath,
		RetentionDays: 7,
	}

	h, err := NewDBHandler(cfg, slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewDBHandler: %v", err)
	}
	defer h.Close()

	logger := slog.New(h)
	logger.Info("realtime: subscribed", "topic", "room:1", "event", "INSERT", "attempt", 2)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Open db: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM logs").Scan(&count); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 log entry, got %d", count)
	}

	var msg, level, topic, event, extra string
	err = db.QueryRow("SELECT message, level, topic, event, extra FROM logs").Scan(&msg, &level, &topic, &event, &extra)
	if err != nil {
		t.Fatalf("Query row: %v", err)
	}
	if msg != "realtime: subscribed" {
		t.Errorf("expected message 'realtime: subscribed', got %q", msg)
	}
	if level != "INFO" {
		t.Errorf("expected level 'INFO', got %q", level)
	}
	if topic != "room:1" {
		t.Errorf("expected topic 'room:1', got %q", topic)
	}
	if event != "INSERT" {
		t.Errorf("expected event 'INSERT', got %q", event)
	}
	if extra != `{"attempt":2}` {
		t.Errorf("expected extra attempt field, got %q", extra)
	}
}

func TestDBHandler_WithAttrs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "attrs.db")

	h, err := NewDBHandler(&Config{DBPath: dbPath, RetentionDays: 7}, slog.LevelDebug)
	if err != nil {
		t.Fatalf("NewDBHandler: %v", err)
	}
	defer h.Close()

	logger := slog.New(h).With("topic", "room:2")
	logger.Debug("first")
	logger.Warn("second")

	entries, err := ReadEntries(context.Background(), dbPath, Query{Topic: "room:2"})
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "second" {
		t.Errorf("expected newest first, got %q", entries[0].Message)
	}
}

func TestReadEntries_Filters(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "filters.db")

	h, err := NewDBHandler(&Config{DBPath: dbPath, RetentionDays: 7}, slog.LevelDebug)
	if err != nil {
		t.Fatalf("NewDBHandler: %v", err)
	}
	defer h.Close()

	logger := slog.New(h)
	logger.Debug("noise", "topic", "a")
	logger.Warn("reconnecting", "topic", "a")
	logger.Error("giving up", "topic", "b")

	entries, err := ReadEntries(context.Background(), dbPath, Query{Level: "warn"})
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 warn+ entries, got %d", len(entries))
	}

	entries, err = ReadEntries(context.Background(), dbPath, Query{Topic: "a", Limit: 1})
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "reconnecting" {
		t.Errorf("expected latest entry for topic a, got %+v", entries)
	}
}

func TestDBHandler_Retention(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test-log.db")

	cfg := &Config{
		DBPath:        dbPath,
		RetentionDays: 0, // immediate cleanup
	}

	h, err := NewDBHandler(cfg, slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewDBHandler: %v", err)
	}
	defer h.Close()

	db, _ := sql.Open("sqlite", dbPath)
	defer db.Close()

	oldTime := time.Now().UTC().AddDate(0, 0, -1).Format(time.RFC3339Nano)
	db.Exec("INSERT INTO logs (timestamp, level, message) VALUES (?, 'INFO', 'old message')", oldTime)

	h.store.runCleanup()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM logs").Scan(&count)
	if count != 0 {
		t.Errorf("expected 0 logs after cleanup, got %d", count)
	}
}

func TestDBHandler_CloseTwice(t *testing.T) {
	h, err := NewDBHandler(&Config{DBPath: filepath.Join(t.TempDir(), "c.db")}, slog.LevelInfo)
	if err != nil {
		t.Fatalf("NewDBHandler: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
