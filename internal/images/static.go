package images

import (
	"context"

	"github.com/animus-labs/taskbridge/internal/domain"
)

type Key struct {
	ImageKey          string
	TargetEnvironment string
}

// StaticTable is an in-memory image key table, typically loaded from the settings file.
// An entry with an empty TargetEnvironment matches any environment without a specific entry.
type StaticTable map[Key]domain.ImageConfig

func (t StaticTable) GetImage(_ context.Context, imageKey, targetEnvironment string) (domain.ImageConfig, bool, error) {
	if cfg, ok := t[Key{ImageKey: imageKey, TargetEnvironment: targetEnvironment}]; ok {
		return cfg, true, nil
	}
	cfg, ok := t[Key{ImageKey: imageKey}]
	return cfg, ok, nil
}
