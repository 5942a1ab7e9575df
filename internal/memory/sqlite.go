package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Kinds of long-term memory records.
const (
	KindObservation = "observation"
	KindIdea        = "idea"
	KindReply       = "reply"
)

// Record is one row of long-term memory.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"`
}

// SQLiteStore is the SQLite-backed long-term memory store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the long-term memory database at
// dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS long_term_memory (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		content TEXT NOT NULL,
		kind TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_long_term_memory_kind ON long_term_memory(kind, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores content under kind and returns the new record.
func (s *SQLiteStore) Append(ctx context.Context, content, kind string) (Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Record{}, fmt.Errorf("generate id: %w", err)
	}
	rec := Record{
		ID:        id.String(),
		Timestamp: s.now().UTC(),
		Content:   content,
		Kind:      kind,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO long_term_memory (id, timestamp, content, kind) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.Format(time.RFC3339Nano), rec.Content, rec.Kind)
	if err != nil {
		return Record{}, fmt.Errorf("insert memory: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first. An empty kind
// matches every kind.
func (s *SQLiteStore) Recent(ctx context.Context, kind string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	// UUIDv7 ids sort by creation time, which breaks timestamp ties.
	query := `SELECT id, timestamp, content, kind FROM long_term_memory`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.Content, &rec.Kind); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}
