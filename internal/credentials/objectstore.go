package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/metrics"
)

// Presigner is the subset of *minio.Client used to presign object URLs.
type Presigner interface {
	PresignedPutObject(ctx context.Context, bucket, object string, expires time.Duration) (*url.URL, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Longest expiry an S3 presigned URL accepts.
const maxPresignTTL = 7 * 24 * time.Hour

// ObjectStoreBlobMinter issues blob tokens as S3 presigned query strings.
// Containers map directly onto buckets. A token grants either read or write, not both.
type ObjectStoreBlobMinter struct {
	presigner Presigner
	now       func() time.Time
	logger    *slog.Logger
}

func NewObjectStoreBlobMinter(presigner Presigner, logger *slog.Logger) (*ObjectStoreBlobMinter, error) {
	if presigner == nil {
		return nil, fmt.Errorf("presigner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectStoreBlobMinter{
		presigner: presigner,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With("component", "presign_minter"),
	}, nil
}

func (m *ObjectStoreBlobMinter) BlobToken(ctx context.Context, container, blobPath string, perms BlobPermissions, ttl time.Duration) (Token, error) {
	if strings.TrimSpace(container) == "" || strings.TrimSpace(blobPath) == "" {
		return Token{}, fmt.Errorf("%w: container and blob path are required", domain.ErrCredential)
	}
	ttl = ttlOrDefault(ttl)
	if ttl > maxPresignTTL {
		return Token{}, fmt.Errorf("%w: ttl %s exceeds presign limit %s", domain.ErrCredential, ttl, maxPresignTTL)
	}
	write := perms.Write || perms.Create || perms.Add
	if perms.Delete || (write && perms.Read) || (!write && !perms.Read) {
		return Token{}, fmt.Errorf("%w: blob %s/%s: unsupported permission set %q", domain.ErrCredential, container, blobPath, perms.String())
	}

	start := m.now().Truncate(time.Second)
	var (
		u   *url.URL
		err error
	)
	if write {
		u, err = m.presigner.PresignedPutObject(ctx, container, blobPath, ttl)
	} else {
		u, err = m.presigner.PresignedGetObject(ctx, container, blobPath, ttl, nil)
	}
	if err != nil {
		return Token{}, fmt.Errorf("%w: presign %s/%s: %v", domain.ErrCredential, container, blobPath, err)
	}

	metrics.ObserveCredential("blob")
	m.logger.Debug("presigned blob token", "bucket", container, "key", blobPath, "permissions", perms.String())
	return Token{
		AccountURL:  u.Scheme + "://" + u.Host,
		Token:       u.RawQuery,
		Permissions: perms.String(),
		StartsAt:    start,
		ExpiresAt:   start.Add(ttl),
	}, nil
}
