package secrets

import (
	"context"

	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/env"
)

// Local resolves secrets from the process environment. It is meant for development.
type Local struct{}

func (Local) Open(context.Context) (Session, error) {
	return localSession{}, nil
}

type localSession struct{}

func (localSession) Substitute(ctx context.Context, values map[string]string) (map[string]string, error) {
	return substitute(ctx, values, func(_ context.Context, name string) (string, error) {
		v, ok := env.Lookup(name)
		if !ok {
			return "", &domain.SecretResolutionError{Reference: name}
		}
		return v, nil
	})
}

func (localSession) Close() error { return nil }
