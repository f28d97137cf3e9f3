// Package credentials mints short lived, permission scoped access tokens for
// queues, tables and blobs.
package credentials

import (
	"context"
	"time"
)

const DefaultTTL = 7 * 24 * time.Hour

type Token struct {
	AccountURL  string
	Token       string
	Permissions string
	StartsAt    time.Time
	ExpiresAt   time.Time
}

type QueueMinter interface {
	QueueToken(ctx context.Context, queue string, perms QueuePermissions, ttl time.Duration) (Token, error)
}

type TableMinter interface {
	TableToken(ctx context.Context, table string, perms TablePermissions, ttl time.Duration) (Token, error)
}

type BlobMinter interface {
	BlobToken(ctx context.Context, container, blobPath string, perms BlobPermissions, ttl time.Duration) (Token, error)
}

type Minter interface {
	QueueMinter
	TableMinter
	BlobMinter
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// Composite routes each resource type to its own minter.
type Composite struct {
	QueueMinter
	TableMinter
	BlobMinter
}
