package progress

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DBFilename is the ledger file created inside each task directory.
const DBFilename = "task.db"

// SQLiteStore is the default Store backend: an embedded sqlite file inside
// the task directory, so a task can always be rehydrated from its directory
// alone.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger for the given task directory.
func Open(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	path := filepath.Join(dir, DBFilename)
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open progress db: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping progress db: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS progress(step TEXT PRIMARY KEY, completed INTEGER NOT NULL DEFAULT 0);
CREATE TABLE IF NOT EXISTS info(key TEXT PRIMARY KEY, value TEXT NOT NULL);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init progress schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) HasCompleted(step Step) (bool, error) {
	var completed int
	err := s.db.QueryRow(`SELECT completed FROM progress WHERE step=?`, string(step)).Scan(&completed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return completed != 0, nil
}

func (s *SQLiteStore) MarkCompleted(step Step) error {
	_, err := s.db.Exec(
		`INSERT INTO progress(step, completed) VALUES(?, 1) ON CONFLICT(step) DO UPDATE SET completed=1`,
		string(step))
	return err
}

func (s *SQLiteStore) SetInfo(key InfoKey, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO info(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		string(key), value)
	return err
}

func (s *SQLiteStore) GetInfo(key InfoKey) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM info WHERE key=?`, string(key)).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
