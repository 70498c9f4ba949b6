// Package store persists suggestion interaction history across restarts.
//
// DESIGN: The acceptance monitor tunes debounce and aggressiveness from the
// user's recent accept/reject/ignore record. A fresh process with an empty
// window would reset the user to defaults, so interactions are appended to a
// local SQLite database and the most recent rows are replayed into the
// monitor at startup.
//
// Currently SQLiteStore and MemoryStore are implemented. For multi-machine
// setups, implement Store with a shared backend.
package store

import (
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/compresr/nextedit/internal/monitor"
)

// Interaction is one persisted accept/reject/ignore record.
type Interaction struct {
	Kind      monitor.Kind
	RequestID string
	DocID     string
	At        time.Time
}

// Store defines the interface for interaction persistence.
type Store interface {
	// Append records one interaction.
	Append(rec Interaction) error

	// Recent returns up to limit interactions, oldest first, suitable for
	// replaying into the monitor in order.
	Recent(limit int) ([]Interaction, error)

	// Close releases resources.
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT    NOT NULL,
	request_id TEXT    NOT NULL,
	doc_id     TEXT    NOT NULL,
	at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_at ON interactions(at_unix_ms);
`

// SQLiteStore persists interactions in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY on concurrent appends.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append records one interaction.
func (s *SQLiteStore) Append(rec Interaction) error {
	_, err := s.db.Exec(
		`INSERT INTO interactions (kind, request_id, doc_id, at_unix_ms) VALUES (?, ?, ?, ?)`,
		string(rec.Kind), rec.RequestID, rec.DocID, rec.At.UnixMilli(),
	)
	return err
}

// Recent returns up to limit interactions, oldest first.
func (s *SQLiteStore) Recent(limit int) ([]Interaction, error) {
	rows, err := s.db.Query(
		`SELECT kind, request_id, doc_id, at_unix_ms FROM interactions ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var rec Interaction
		var kind string
		var atMs int64
		if err := rows.Scan(&kind, &rec.RequestID, &rec.DocID, &atMs); err != nil {
			return nil, err
		}
		rec.Kind = monitor.Kind(kind)
		rec.At = time.UnixMilli(atMs)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; replay wants oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Prune deletes interactions older than cutoff. Returns rows removed.
func (s *SQLiteStore) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM interactions WHERE at_unix_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// MemoryStore is a non-persistent Store used in tests and when persistence
// is disabled.
type MemoryStore struct {
	mu   sync.Mutex
	recs []Interaction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append records one interaction.
func (s *MemoryStore) Append(rec Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

// Recent returns up to limit interactions, oldest first.
func (s *MemoryStore) Recent(limit int) ([]Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.recs
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]Interaction, len(recs))
	copy(out, recs)
	return out, nil
}

// Close clears the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = nil
	return nil
}

// Warm replays stored interactions into the monitor, oldest first.
func Warm(st Store, m *monitor.Monitor, limit int) error {
	recs, err := st.Recent(limit)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		m.ObserveAt(rec.Kind, rec.At)
	}
	return nil
}

// Ensure implementations satisfy Store
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
