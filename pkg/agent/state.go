package agent

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultStatePath is where the agent remembers what it last applied.
const DefaultStatePath = "/var/lib/relay-fleet/state.db"

// State is the agent's local sqlite database. It survives restarts so a
// rebooted agent does not re-apply (and restart the engine for) a config
// it already runs.
type State struct {
	db *sql.DB
}

func OpenState(path string) (*State, error) {
	if path == "" {
		path = DefaultStatePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state db: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS applied_configs(hash TEXT NOT NULL, applied_at INTEGER NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state schema: %w", err)
	}
	return &State{db: db}, nil
}

func (s *State) Close() error {
	return s.db.Close()
}

// LastHash returns the hash of the most recently applied config, or ""
// on a fresh install.
func (s *State) LastHash() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var h string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM applied_configs ORDER BY applied_at DESC, rowid DESC LIMIT 1`).Scan(&h)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return h, err
}

// RecordApplied appends a row and trims history to the last 50 applies.
func (s *State) RecordApplied(hash string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO applied_configs(hash, applied_at) VALUES(?, ?)`, hash, time.Now().Unix()); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM applied_configs WHERE rowid NOT IN (SELECT rowid FROM applied_configs ORDER BY applied_at DESC, rowid DESC LIMIT 50)`)
	return err
}
