// Package images resolves a task's declared image or image key into a
// concrete container image and its environment.
package images

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/taskbridge/internal/domain"
)

// Lookup finds the image registered for an image key in a target environment.
type Lookup interface {
	GetImage(ctx context.Context, imageKey, targetEnvironment string) (domain.ImageConfig, bool, error)
}

type Resolved struct {
	Image       domain.ImageConfig
	Environment map[string]string
}

type Resolver struct {
	lookup Lookup
	logger *slog.Logger
}

func NewResolver(lookup Lookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, logger: logger.With("component", "image_resolver")}
}

func (r *Resolver) Resolve(ctx context.Context, sub domain.TaskSubmission) (Resolved, error) {
	cfg := sub.Config
	if image := strings.TrimSpace(cfg.Image); image != "" {
		return Resolved{Image: domain.ImageConfig{Image: image}, Environment: copyEnv(cfg.Environment)}, nil
	}

	key := strings.TrimSpace(cfg.ImageKey)
	if key == "" {
		return Resolved{}, fmt.Errorf("%w: task %q: one of image or image_key is required", domain.ErrConfiguration, cfg.ID)
	}
	if r.lookup == nil {
		return Resolved{}, fmt.Errorf("%w: no image key table configured for image key %q", domain.ErrConfiguration, key)
	}

	r.logger.Info("resolving image key", "image_key", key, "target_environment", sub.TargetEnvironment)
	image, ok, err := r.lookup.GetImage(ctx, key, sub.TargetEnvironment)
	if err != nil {
		return Resolved{}, fmt.Errorf("lookup image key %q: %w", key, err)
	}
	if !ok {
		return Resolved{}, fmt.Errorf("%w: image for image key %q and target environment %q not found",
			domain.ErrConfiguration, key, sub.TargetEnvironment)
	}

	defaults, err := image.Env()
	if err != nil {
		return Resolved{}, fmt.Errorf("image key %q: %w", key, err)
	}
	return Resolved{Image: image, Environment: MergeEnvironment(defaults, cfg.Environment)}, nil
}

// MergeEnvironment layers task over defaults; task values win on collision.
// With an empty task environment the defaults are returned as is. Inputs are never modified.
func MergeEnvironment(defaults, task map[string]string) map[string]string {
	if len(task) == 0 {
		return copyEnv(defaults)
	}
	out := make(map[string]string, len(defaults)+len(task))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range task {
		out[k] = v
	}
	return out
}

func copyEnv(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
