// Package sqlite opens the embedded database used for local development in place of postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/taskbridge/internal/platform/env"

	_ "modernc.org/sqlite"
)

type Config struct {
	Path string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Path: env.String("TASKBRIDGE_SQLITE_PATH", "taskbridge.db"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return errors.New("TASKBRIDGE_SQLITE_PATH is required")
	}
	return nil
}

// Open opens the database at cfg.Path. A single connection is kept so that
// ":memory:" databases are shared by every caller of the returned handle.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}
