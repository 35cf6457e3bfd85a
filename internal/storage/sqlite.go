package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database holding meetings, documents, observation
// sessions and the job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "opscribe.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection serialises writers and keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for maintenance queries and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Meetings ---

// EnsureMeeting creates the meeting row if it does not exist yet.
func (s *Store) EnsureMeeting(id, title string) error {
	_, err := s.db.Exec(`INSERT INTO meetings (id, title, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		id, title, formatTime(time.Now()))
	return err
}

func (s *Store) GetMeeting(id string) (Meeting, error) {
	var m Meeting
	var createdAt string
	err := s.db.QueryRow(`SELECT id, title, created_at FROM meetings WHERE id = ?`, id).Scan(&m.ID, &m.Title, &createdAt)
	if err == sql.ErrNoRows {
		return Meeting{}, ErrNotFound
	}
	if err != nil {
		return Meeting{}, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Meeting{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return m, nil
}

func (s *Store) ListMeetings(limit int) ([]Meeting, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at FROM meetings ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Meeting
	for rows.Next() {
		var m Meeting
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Title, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// DeleteMeeting removes a meeting together with its documents, versions,
// observation sessions, observations and clarifications.
func (s *Store) DeleteMeeting(id string) error {
	res, err := s.db.Exec(`DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
