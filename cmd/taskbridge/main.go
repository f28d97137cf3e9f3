package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/animus-labs/taskbridge/internal/batch"
	"github.com/animus-labs/taskbridge/internal/credentials"
	"github.com/animus-labs/taskbridge/internal/images"
	"github.com/animus-labs/taskbridge/internal/platform/auditlog"
	"github.com/animus-labs/taskbridge/internal/platform/auth"
	"github.com/animus-labs/taskbridge/internal/platform/database"
	"github.com/animus-labs/taskbridge/internal/platform/env"
	"github.com/animus-labs/taskbridge/internal/platform/httpserver"
	"github.com/animus-labs/taskbridge/internal/platform/objectstore"
	"github.com/animus-labs/taskbridge/internal/runmessage"
	"github.com/animus-labs/taskbridge/internal/service/tasks"
	"github.com/animus-labs/taskbridge/internal/settings"
	"github.com/animus-labs/taskbridge/internal/storage/blob"
	"github.com/animus-labs/taskbridge/internal/submit"
)

// errInvalidConfig marks startup failures caused by configuration; they exit with status 2.
var errInvalidConfig = errors.New("invalid configuration")

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(env.String("TASKBRIDGE_LOG_LEVEL", "info")),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, logger)
	stop()
	if err == nil {
		return
	}
	logger.Error("taskbridge stopped", "error", err)
	if errors.Is(err, errInvalidConfig) {
		os.Exit(2)
	}
	os.Exit(1)
}

func run(ctx context.Context, logger *slog.Logger) error {
	shutdownTimeout, err := env.Duration("TASKBRIDGE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return fmt.Errorf("%w: invalid env: %w", errInvalidConfig, err)
	}

	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("%w: invalid settings: %w", errInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: invalid settings: %w", errInvalidConfig, err)
	}
	exec := cfg.Executor

	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("%w: invalid database config: %w", errInvalidConfig, err)
	}
	db, err := database.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	checks := []httpserver.ReadinessCheck{{
		Name:  string(db.Dialect),
		Check: withTimeout(750*time.Millisecond, db.PingContext),
	}}

	var lookup images.Lookup = images.NewSQLTable(db)
	if exec.ImageKeyTable == settings.ImageKeysSettings {
		lookup = cfg.StaticImageTable()
	}

	secretsProvider, err := exec.SecretsProvider(logger)
	if err != nil {
		return fmt.Errorf("%w: secrets provider init failed: %w", errInvalidConfig, err)
	}

	sas, err := exec.SharedKeyMinter(logger)
	if err != nil {
		return fmt.Errorf("%w: credential minter init failed: %w", errInvalidConfig, err)
	}
	var (
		blobMinter credentials.BlobMinter = sas
		store      blob.Store
	)
	switch exec.BlobBackend {
	case settings.BlobBackendS3:
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			return fmt.Errorf("%w: invalid object store config: %w", errInvalidConfig, err)
		}
		storeCfg = storeCfg.WithContainers(exec.TaskIOContainer, exec.LogContainer)
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			return fmt.Errorf("%w: object store client init failed: %w", errInvalidConfig, err)
		}
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := objectstore.EnsureBuckets(startupCtx, client, storeCfg); err != nil {
			cancel()
			return fmt.Errorf("object store unavailable: %w", err)
		}
		cancel()
		presigner, err := credentials.NewObjectStoreBlobMinter(client, logger)
		if err != nil {
			return fmt.Errorf("%w: presign minter init failed: %w", errInvalidConfig, err)
		}
		minioStore, err := blob.NewMinioStore(client)
		if err != nil {
			return fmt.Errorf("%w: object store init failed: %w", errInvalidConfig, err)
		}
		blobMinter, store = presigner, minioStore
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: withTimeout(750*time.Millisecond, func(ctx context.Context) error {
				return objectstore.CheckBuckets(ctx, client, storeCfg)
			}),
		})
	default:
		tokenStore, err := blob.NewTokenStore(sas, nil)
		if err != nil {
			return fmt.Errorf("%w: blob store init failed: %w", errInvalidConfig, err)
		}
		store = tokenStore
	}
	minter := credentials.Composite{QueueMinter: sas, TableMinter: sas, BlobMinter: blobMinter}

	builder, err := runmessage.NewBuilder(exec.RunMessage(), runmessage.Deps{
		Resolver: images.NewResolver(lookup, logger),
		Secrets:  secretsProvider,
		Queue:    minter,
		Table:    minter,
		Blob:     minter,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("%w: run message builder init failed: %w", errInvalidConfig, err)
	}

	batchClient, err := batch.NewRESTClient(ctx, exec.BatchREST())
	if err != nil {
		return fmt.Errorf("%w: batch client init failed: %w", errInvalidConfig, err)
	}
	executor, err := batch.NewExecutor(batchClient, exec.BatchExecutor(), logger)
	if err != nil {
		return fmt.Errorf("%w: batch executor init failed: %w", errInvalidConfig, err)
	}

	recorder, err := auditlog.NewRecorder(db, logger)
	if err != nil {
		return fmt.Errorf("%w: audit log init failed: %w", errInvalidConfig, err)
	}

	svc, err := tasks.NewService(tasks.Config{
		BlobAccountName: exec.BlobAccount.Name,
		TaskIOContainer: exec.TaskIOContainer,
		InputTokenTTL:   exec.TokenTTL,
	}, tasks.Deps{
		Builder:  builder,
		Executor: executor,
		Store:    store,
		Blob:     minter,
		Audit:    recorder,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("%w: task service init failed: %w", errInvalidConfig, err)
	}

	var workflows workflowSubmitter
	if strings.TrimSpace(cfg.Submit.RedisURL) != "" {
		submitter, err := submit.New(submit.Config{
			RedisURL:  cfg.Submit.RedisURL,
			QueueName: cfg.Submit.QueueName,
			ImageKeys: cfg.ImageKeys,
		}, logger)
		if err != nil {
			return fmt.Errorf("%w: invalid submit queue config: %w", errInvalidConfig, err)
		}
		if err := submitter.Open(ctx); err != nil {
			return fmt.Errorf("submit queue unavailable: %w", err)
		}
		defer func() { _ = submitter.Close() }()
		workflows = submitter
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "redis",
			Check: withTimeout(750*time.Millisecond, submitter.Ping),
		})
	}

	authn, err := auth.NewAPIKeyAuthenticator(cfg.Server.Auth())
	if err != nil {
		return fmt.Errorf("%w: invalid auth config: %w", errInvalidConfig, err)
	}
	denyAudit := recorder.AuthDeny(serviceName)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authn,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return denyAudit(auditCtx, event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz", "/metrics"},
	}.Wrap(newRouter(logger, svc, workflows, checks...))

	serverCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: shutdownTimeout,
	}
	logger.Info("starting",
		"executor", executor.Kind(),
		"pool_id", exec.Batch.PoolID,
		"blob_backend", exec.BlobBackend,
		"image_key_table", exec.ImageKeyTable,
		"dev", exec.Dev,
	)
	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, serviceName, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func withTimeout(timeout time.Duration, check func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return check(checkCtx)
	}
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
