// Package audit persists preview session events — compile outcomes, theme
// changes, surface failures — to SQLite. Recording is asynchronous and
// never blocks the pipeline: events queue into a bounded buffer and a
// single writer drains it; when the buffer is full the event is dropped
// and counted, not waited for.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/vorschau/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	at         INTEGER NOT NULL,
	kind       TEXT    NOT NULL,
	request_id TEXT    NOT NULL DEFAULT '',
	detail     TEXT    NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_at ON events(at);
CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
`

// Event is one persisted session event.
type Event struct {
	ID        int64
	At        time.Time
	Kind      string
	RequestID string
	Detail    map[string]any

	// flush, when set, marks a barrier: the writer closes it instead of
	// inserting anything.
	flush chan struct{}
}

// Config configures a Log.
type Config struct {
	// DB is the event store. Required.
	DB *sql.DB

	// Buffer is the pending-event capacity. Default 256.
	Buffer int

	Logger *slog.Logger
}

func (c *Config) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("audit: Config.DB is required")
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Log is an asynchronous SQLite-backed event log.
type Log struct {
	cfg     Config
	ch      chan Event
	wg      sync.WaitGroup
	dropped atomic.Int64
	ownDB   bool

	mu     sync.Mutex
	closed bool
}

// New creates a Log over an already-open database, applying the schema.
func New(cfg Config) (*Log, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	if _, err := cfg.DB.Exec(schema); err != nil {
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	l := &Log{cfg: cfg, ch: make(chan Event, cfg.Buffer)}
	l.wg.Add(1)
	go l.writer()
	return l, nil
}

// Open opens (creating if needed) the event store at path and returns a
// Log that owns the connection.
func Open(path string, logger *slog.Logger) (*Log, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, err
	}
	l, err := New(Config{DB: db, Logger: logger})
	if err != nil {
		db.Close()
		return nil, err
	}
	l.ownDB = true
	return l, nil
}

// OpenMemory creates an in-memory Log for testing.
func OpenMemory(t testing.TB) *Log {
	t.Helper()
	db := dbopen.OpenMemory(t)
	l, err := New(Config{DB: db})
	if err != nil {
		t.Fatalf("audit.OpenMemory: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// Record queues one event. It never blocks: with a full buffer the event
// is dropped and counted. A nil detail is stored as an empty object.
func (l *Log) Record(kind, requestID string, detail map[string]any) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	ev := Event{At: time.Now().UTC(), Kind: kind, RequestID: requestID, Detail: detail}
	select {
	case l.ch <- ev:
	default:
		l.dropped.Add(1)
	}
	l.mu.Unlock()
}

// Dropped reports how many events were discarded on a full buffer.
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

func (l *Log) writer() {
	defer l.wg.Done()
	for ev := range l.ch {
		if ev.flush != nil {
			close(ev.flush)
			continue
		}
		if err := l.insert(ev); err != nil {
			l.cfg.Logger.Warn("audit: insert failed", "kind", ev.Kind, "error", err)
		}
	}
}

func (l *Log) insert(ev Event) error {
	detail := "{}"
	if len(ev.Detail) > 0 {
		data, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("audit: marshal detail: %w", err)
		}
		detail = string(data)
	}
	_, err := dbopen.Exec(context.Background(), l.cfg.DB,
		`INSERT INTO events (at, kind, request_id, detail) VALUES (?, ?, ?, ?)`,
		ev.At.UnixMilli(), ev.Kind, ev.RequestID, detail)
	return err
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.cfg.DB.QueryContext(ctx,
		`SELECT id, at, kind, request_id, detail FROM events ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev     Event
			at     int64
			detail string
		)
		if err := rows.Scan(&ev.ID, &at, &ev.Kind, &ev.RequestID, &detail); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		ev.At = time.UnixMilli(at).UTC()
		if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
			ev.Detail = map[string]any{}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Prune deletes events older than the retention window and returns how
// many were removed.
func (l *Log) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := dbopen.Exec(ctx, l.cfg.DB, `DELETE FROM events WHERE at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	return res.RowsAffected()
}

// Sync blocks until every event queued before the call is written. Test
// helper; production callers never need it.
func (l *Log) Sync() {
	done := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.ch <- Event{flush: done}
	l.mu.Unlock()
	<-done
}

// Close drains pending events and, if the Log owns the connection, closes
// the database.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	l.wg.Wait()
	if n := l.dropped.Load(); n > 0 {
		l.cfg.Logger.Warn("audit: events dropped on full buffer", "count", n)
	}
	if l.ownDB {
		return l.cfg.DB.Close()
	}
	return nil
}
