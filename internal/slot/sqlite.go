package slot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSlot implements Slot on a single sqlite table. Concurrent writers
// under the same key follow last-write-wins by write timestamp.
type SQLiteSlot struct {
	db *sql.DB
}

// NewSQLiteSlot opens (creating if needed) the slot database at path.
func NewSQLiteSlot(path string) (*SQLiteSlot, error) {
	// WAL mode for concurrent access, busy timeout for write contention
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open slot database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping slot database: %w", err)
	}

	s := &SQLiteSlot{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run slot migrations: %w", err)
	}

	return s, nil
}

// migrate creates the slots table if it doesn't exist
func (s *SQLiteSlot) migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS slots (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Read implements Slot.
func (s *SQLiteSlot) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	query := `SELECT data FROM slots WHERE key = ?`
	err := s.db.QueryRowContext(ctx, query, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read slot %s: %w", key, err)
	}
	return data, nil
}

// Write implements Slot.
func (s *SQLiteSlot) Write(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO slots (key, data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query, key, data)
	if err != nil {
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}
	return nil
}

// Delete implements Slot.
func (s *SQLiteSlot) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM slots WHERE key = ?`
	_, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to delete slot %s: %w", key, err)
	}
	return nil
}

// Close implements Slot.
func (s *SQLiteSlot) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
