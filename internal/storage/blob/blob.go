// Package blob uploads task inputs where remote workers can read them.
package blob

import (
	"context"
	"io"
)

type Store interface {
	Put(ctx context.Context, container, path string, body io.Reader, size int64, contentType string) error
}
