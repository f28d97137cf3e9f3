// Package secrets substitutes ${{ secrets.NAME }} references in string maps.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Provider opens sessions against a secrets backend.
type Provider interface {
	Open(ctx context.Context) (Session, error)
}

type Session interface {
	// Substitute returns a copy of values with every secret reference replaced.
	Substitute(ctx context.Context, values map[string]string) (map[string]string, error)
	Close() error
}

// With opens a session, runs fn, and always closes the session.
func With(ctx context.Context, p Provider, fn func(Session) error) (err error) {
	session, err := p.Open(ctx)
	if err != nil {
		return fmt.Errorf("open secrets session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close secrets session: %w", closeErr))
		}
	}()
	return fn(session)
}

var referencePattern = regexp.MustCompile(`\$\{\{\s*secrets\.([^}\s]+)\s*\}\}`)

type getter func(ctx context.Context, name string) (string, error)

// substitute resolves each distinct reference once and rewrites every value.
func substitute(ctx context.Context, values map[string]string, get getter) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}
	resolved := make(map[string]string)
	out := make(map[string]string, len(values))
	for key, value := range values {
		for _, match := range referencePattern.FindAllStringSubmatch(value, -1) {
			name := match[1]
			if _, ok := resolved[name]; ok {
				continue
			}
			secret, err := get(ctx, name)
			if err != nil {
				return nil, err
			}
			resolved[name] = secret
		}
		out[key] = referencePattern.ReplaceAllStringFunc(value, func(ref string) string {
			return resolved[referencePattern.FindStringSubmatch(ref)[1]]
		})
	}
	return out, nil
}
