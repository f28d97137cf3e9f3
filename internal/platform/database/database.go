// Package database selects between the postgres and sqlite backends and
// owns the schema shared by both.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/animus-labs/taskbridge/internal/platform/env"
	"github.com/animus-labs/taskbridge/internal/platform/postgres"
	"github.com/animus-labs/taskbridge/internal/platform/sqlite"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Rebind rewrites '?' placeholders into the dialect's positional form.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Config struct {
	Dialect  Dialect
	Postgres postgres.Config
	SQLite   sqlite.Config
}

func ConfigFromEnv() (Config, error) {
	dialect := Dialect(strings.ToLower(strings.TrimSpace(env.String("TASKBRIDGE_DATABASE_DRIVER", string(DialectPostgres)))))
	cfg := Config{Dialect: dialect}
	switch dialect {
	case DialectPostgres:
		pg, err := postgres.ConfigFromEnv()
		if err != nil {
			return Config{}, err
		}
		cfg.Postgres = pg
	case DialectSQLite:
		lite, err := sqlite.ConfigFromEnv()
		if err != nil {
			return Config{}, err
		}
		cfg.SQLite = lite
	default:
		return Config{}, fmt.Errorf("TASKBRIDGE_DATABASE_DRIVER must be one of: postgres, sqlite (got %q)", dialect)
	}
	return cfg, nil
}

type DB struct {
	*sql.DB
	Dialect Dialect
}

func Open(ctx context.Context, cfg Config) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Dialect {
	case DialectPostgres:
		db, err = postgres.Open(ctx, cfg.Postgres)
	case DialectSQLite:
		db, err = sqlite.Open(ctx, cfg.SQLite)
	default:
		return nil, fmt.Errorf("unsupported database dialect: %q", cfg.Dialect)
	}
	if err != nil {
		return nil, err
	}
	return &DB{DB: db, Dialect: cfg.Dialect}, nil
}

const createImageKeysTable = `
CREATE TABLE IF NOT EXISTS image_keys (
    image_key          TEXT NOT NULL,
    target_environment TEXT NOT NULL DEFAULT '',
    image              TEXT NOT NULL,
    environment        TEXT NOT NULL DEFAULT '[]',
    PRIMARY KEY (image_key, target_environment)
)`

const createAuditEventsTable = `
CREATE TABLE IF NOT EXISTS audit_events (
    occurred_at      TIMESTAMP NOT NULL,
    actor            TEXT NOT NULL,
    action           TEXT NOT NULL,
    resource_type    TEXT NOT NULL,
    resource_id      TEXT NOT NULL,
    request_id       TEXT,
    payload          TEXT NOT NULL,
    integrity_sha256 TEXT NOT NULL
)`

// Migrate creates the tables used by the service. It is safe to call repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	for name, stmt := range map[string]string{
		"image_keys":   createImageKeysTable,
		"audit_events": createAuditEventsTable,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create %s table: %w", name, err)
		}
	}
	return nil
}
