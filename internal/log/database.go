// internal/log/database.go
package log

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const createLogsTableSQL = `
CREATE TABLE IF NOT EXISTS logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    level TEXT NOT NULL,
    message TEXT NOT NULL,
    topic TEXT,
    event TEXT,
    extra TEXT
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_topic ON logs(topic);
`

// DBHandler writes logs to a SQLite database. The topic and event attributes
// get their own columns; everything else lands in extra as JSON.
type DBHandler struct {
	store *dbStore
	level slog.Level
	attrs []slog.Attr
}

type dbStore struct {
	mu            sync.Mutex
	db            *sql.DB
	stmt          *sql.Stmt
	retention     int
	cleanupTicker *time.Ticker
	done          chan struct{}
	closed        bool
}

// NewDBHandler creates a database handler.
func NewDBHandler(cfg *Config, level slog.Level) (*DBHandler, error) {
	db, err := openLogDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	stmt, err := db.Prepare(`
		INSERT INTO logs (timestamp, level, message, topic, event, extra)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	store := &dbStore{
		db:        db,
		stmt:      stmt,
		retention: cfg.RetentionDays,
		done:      make(chan struct{}),
	}
	store.startCleanup()

	return &DBHandler{store: store, level: level}, nil
}

func openLogDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open log database: %w", err)
	}
	if _, err := db.Exec(createLogsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create logs table: %w", err)
	}
	return db, nil
}

// Enabled reports whether the handler handles records at the given level.
func (h *DBHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle writes the record to the database.
func (h *DBHandler) Handle(ctx context.Context, r slog.Record) error {
	var topic, event, extra sql.NullString
	extraData := make(map[string]any)

	collect := func(a slog.Attr) bool {
		switch a.Key {
		case "topic":
			topic = sql.NullString{String: a.Value.String(), Valid: true}
		case "event":
			event = sql.NullString{String: a.Value.String(), Valid: true}
		default:
			extraData[a.Key] = a.Value.Any()
		}
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if len(extraData) > 0 {
		data, err := json.Marshal(extraData)
		if err == nil {
			extra = sql.NullString{String: string(data), Valid: true}
		}
	}

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.store.closed {
		return sql.ErrConnDone
	}
	_, err := h.store.stmt.Exec(
		r.Time.UTC().Format(time.RFC3339Nano),
		r.Level.String(),
		r.Message,
		topic,
		event,
		extra,
	)
	return err
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *DBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &DBHandler{store: h.store, level: h.level, attrs: merged}
}

// WithGroup returns the same handler; groups are flattened into extra.
func (h *DBHandler) WithGroup(name string) slog.Handler {
	return h
}

// startCleanup starts the background cleanup ticker.
func (s *dbStore) startCleanup() {
	s.cleanupTicker = time.NewTicker(1 * time.Hour)
	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.runCleanup()
			case <-s.done:
				return
			}
		}
	}()
}

// runCleanup deletes old log entries.
func (s *dbStore) runCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retention)
	s.db.Exec("DELETE FROM logs WHERE timestamp < ?", cutoff.Format(time.RFC3339Nano))
}

// Close closes the database handler.
func (h *DBHandler) Close() error {
	s := h.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	close(s.done)
	s.cleanupTicker.Stop()
	s.stmt.Close()
	return s.db.Close()
}

// Entry is one row of the log database.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Topic   string         `json:"topic,omitempty"`
	Event   string         `json:"event,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Query selects log entries, newest first.
type Query struct {
	Topic string
	Level string // minimum level
	Since time.Time
	Limit int
}

// ReadEntries reads entries from the log database at path.
func ReadEntries(ctx context.Context, path string, q Query) ([]Entry, error) {
	db, err := openLogDB(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var where []string
	var args []any
	if q.Topic != "" {
		where = append(where, "topic = ?")
		args = append(args, q.Topic)
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Since.UTC().Format(time.RFC3339Nano))
	}
	if q.Level != "" {
		levels := levelsAtLeast(ParseLevel(q.Level))
		where = append(where, "level IN (?"+strings.Repeat(", ?", len(levels)-1)+")")
		for _, l := range levels {
			args = append(args, l)
		}
	}

	query := "SELECT timestamp, level, message, topic, event, extra FROM logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var ts string
		var topic, event, extra sql.NullString
		var e Entry
		if err := rows.Scan(&ts, &e.Level, &e.Message, &topic, &event, &extra); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		e.Topic = topic.String
		e.Event = event.String
		if extra.Valid {
			json.Unmarshal([]byte(extra.String), &e.Extra)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func levelsAtLeast(floor slog.Level) []string {
	var out []string
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if l >= floor {
			out = append(out, l.String())
		}
	}
	return out
}
