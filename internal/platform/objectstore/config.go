package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/taskbridge/internal/platform/env"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	BucketTaskIO  string
	BucketRunLogs string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("TASKBRIDGE_S3_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:      env.String("TASKBRIDGE_S3_ENDPOINT", "localhost:9000"),
		AccessKey:     env.String("TASKBRIDGE_S3_ACCESS_KEY", "taskbridge"),
		SecretKey:     env.String("TASKBRIDGE_S3_SECRET_KEY", "taskbridgeminio"),
		Region:        env.String("TASKBRIDGE_S3_REGION", "us-east-1"),
		UseSSL:        useSSL,
		BucketTaskIO:  env.String("TASKBRIDGE_S3_BUCKET_TASK_IO", "taskio"),
		BucketRunLogs: env.String("TASKBRIDGE_S3_BUCKET_RUN_LOGS", "tasklogs"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketTaskIO) == "" {
		return errors.New("task io bucket is required")
	}
	if strings.TrimSpace(c.BucketRunLogs) == "" {
		return errors.New("run logs bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
