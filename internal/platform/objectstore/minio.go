package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// WithContainers points the task io and run log buckets at the given containers.
func (c Config) WithContainers(taskIO, runLogs string) Config {
	c.BucketTaskIO = taskIO
	c.BucketRunLogs = runLogs
	return c
}

func (c Config) buckets() map[string]string {
	return map[string]string{
		"task io":  c.BucketTaskIO,
		"run logs": c.BucketRunLogs,
	}
}

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return client, nil
}

// EnsureBuckets creates any missing bucket that task inputs, logs or outputs are written to.
func EnsureBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	for role, bucket := range cfg.buckets() {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("%s bucket %s: %w", role, bucket, err)
		}
		if exists {
			continue
		}
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return fmt.Errorf("create %s bucket %s: %w", role, bucket, err)
		}
	}
	return nil
}

func CheckBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	for role, bucket := range cfg.buckets() {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("%s bucket %s: %w", role, bucket, err)
		}
		if !exists {
			return fmt.Errorf("%s bucket missing: %s", role, bucket)
		}
	}
	return nil
}

// newTransport keeps dial and handshake timeouts short so presign and upload
// failures surface before the request deadline.
func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
