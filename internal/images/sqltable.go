package images

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/database"
)

// SQLTable stores image keys in the image_keys table of a postgres or sqlite database.
type SQLTable struct {
	db *database.DB
}

func NewSQLTable(db *database.DB) *SQLTable {
	return &SQLTable{db: db}
}

func (t *SQLTable) GetImage(ctx context.Context, imageKey, targetEnvironment string) (domain.ImageConfig, bool, error) {
	var (
		image   string
		envJSON string
	)
	err := t.db.QueryRowContext(ctx, t.db.Dialect.Rebind(
		`SELECT image, environment
		FROM image_keys
		WHERE image_key = ? AND target_environment IN (?, '')
		ORDER BY target_environment DESC
		LIMIT 1`),
		imageKey, targetEnvironment,
	).Scan(&image, &envJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ImageConfig{}, false, nil
	}
	if err != nil {
		return domain.ImageConfig{}, false, fmt.Errorf("get image key: %w", err)
	}

	cfg := domain.ImageConfig{Image: image}
	if strings.TrimSpace(envJSON) != "" {
		if err := json.Unmarshal([]byte(envJSON), &cfg.Environment); err != nil {
			return domain.ImageConfig{}, false, fmt.Errorf("decode environment for image key %q: %w", imageKey, err)
		}
	}
	return cfg, true, nil
}

// Put inserts or replaces the image registered for (imageKey, targetEnvironment).
func (t *SQLTable) Put(ctx context.Context, imageKey, targetEnvironment string, cfg domain.ImageConfig) error {
	if strings.TrimSpace(imageKey) == "" {
		return fmt.Errorf("%w: image key is required", domain.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	environment := cfg.Environment
	if environment == nil {
		environment = []string{}
	}
	envJSON, err := json.Marshal(environment)
	if err != nil {
		return fmt.Errorf("encode environment: %w", err)
	}

	_, err = t.db.ExecContext(ctx, t.db.Dialect.Rebind(
		`INSERT INTO image_keys (image_key, target_environment, image, environment)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (image_key, target_environment)
		DO UPDATE SET image = excluded.image, environment = excluded.environment`),
		imageKey, targetEnvironment, cfg.Image, string(envJSON),
	)
	if err != nil {
		return fmt.Errorf("put image key: %w", err)
	}
	return nil
}
