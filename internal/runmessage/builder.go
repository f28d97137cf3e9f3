// Package runmessage assembles the self-contained execution message a remote
// worker receives for one task run.
package runmessage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/taskbridge/internal/credentials"
	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/images"
	"github.com/animus-labs/taskbridge/internal/secrets"
)

type Config struct {
	// Dev passes the signal queue as a connection string instead of a minted token.
	Dev                         bool
	SignalQueue                 string
	SignalQueueConnectionString string
	TaskRunsTable               string
	BlobAccountName             string
	LogContainer                string
	TokenTTL                    time.Duration
	AppInsightsKey              string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.SignalQueue) == "" {
		return errors.New("signal queue name is required")
	}
	if c.Dev && strings.TrimSpace(c.SignalQueueConnectionString) == "" {
		return errors.New("signal queue connection string is required in dev mode")
	}
	if strings.TrimSpace(c.TaskRunsTable) == "" {
		return errors.New("task runs table name is required")
	}
	if strings.TrimSpace(c.BlobAccountName) == "" {
		return errors.New("blob account name is required")
	}
	if strings.TrimSpace(c.LogContainer) == "" {
		return errors.New("log container is required")
	}
	if c.TokenTTL < 0 {
		return errors.New("token ttl must be >= 0")
	}
	return nil
}

type Builder struct {
	cfg      Config
	resolver *images.Resolver
	secrets  secrets.Provider
	queue    credentials.QueueMinter
	table    credentials.TableMinter
	blob     credentials.BlobMinter
	logger   *slog.Logger

	newSignalKey func() (string, error)
}

type Deps struct {
	Resolver *images.Resolver
	Secrets  secrets.Provider
	Queue    credentials.QueueMinter
	Table    credentials.TableMinter
	Blob     credentials.BlobMinter
	Logger   *slog.Logger
}

func NewBuilder(cfg Config, deps Deps) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Resolver == nil || deps.Secrets == nil || deps.Table == nil || deps.Blob == nil {
		return nil, errors.New("resolver, secrets, table and blob minters are required")
	}
	if !cfg.Dev && deps.Queue == nil {
		return nil, errors.New("queue minter is required outside dev mode")
	}
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = credentials.DefaultTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		cfg:          cfg,
		resolver:     deps.Resolver,
		secrets:      deps.Secrets,
		queue:        deps.Queue,
		table:        deps.Table,
		blob:         deps.Blob,
		logger:       logger.With("component", "run_message_builder"),
		newSignalKey: newSignalKey,
	}, nil
}

// newSignalKey returns a time based UUID in hex form.
func newSignalKey() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

func (b *Builder) Build(ctx context.Context, sub domain.TaskSubmission) (domain.ExecutionMessage, error) {
	if err := sub.Validate(); err != nil {
		return domain.ExecutionMessage{}, err
	}
	jobID, taskID, runID := sub.JobID, sub.TaskID(), sub.RunID
	logger := b.logger.With("run_id", runID, "job_id", jobID, "task_id", taskID)

	resolved, err := b.resolver.Resolve(ctx, sub)
	if err != nil {
		return domain.ExecutionMessage{}, fmt.Errorf("resolve image: %w", err)
	}

	environment, tokens, err := b.substituteSecrets(ctx, resolved.Environment, sub.Tokens)
	if err != nil {
		return domain.ExecutionMessage{}, fmt.Errorf("substitute secrets: %w", err)
	}

	signalQueue, queueExpiry, err := b.signalQueue(ctx)
	if err != nil {
		return domain.ExecutionMessage{}, err
	}

	tableTok, err := b.table.TableToken(ctx, b.cfg.TaskRunsTable,
		credentials.TablePermissions{Read: true, Write: true, Update: true}, b.cfg.TokenTTL)
	if err != nil {
		return domain.ExecutionMessage{}, fmt.Errorf("mint task runs table token: %w", err)
	}

	writeOnly := credentials.BlobPermissions{Write: true}
	logPath := RunLogPath(runID, jobID, taskID)
	logTok, err := b.blob.BlobToken(ctx, b.cfg.LogContainer, logPath, writeOnly, b.cfg.TokenTTL)
	if err != nil {
		return domain.ExecutionMessage{}, fmt.Errorf("mint log blob token: %w", err)
	}
	outputPath := TaskOutputPath(runID, jobID, taskID)
	outputTok, err := b.blob.BlobToken(ctx, b.cfg.LogContainer, outputPath, writeOnly, b.cfg.TokenTTL)
	if err != nil {
		return domain.ExecutionMessage{}, fmt.Errorf("mint output blob token: %w", err)
	}

	signalKey, err := b.newSignalKey()
	if err != nil {
		return domain.ExecutionMessage{}, fmt.Errorf("generate signal key: %w", err)
	}

	expiresAt := earliest(queueExpiry, tableTok.ExpiresAt, logTok.ExpiresAt, outputTok.ExpiresAt)
	logger.Info("built run message", "image", resolved.Image.Image, "credentials_expire_at", expiresAt)

	return domain.ExecutionMessage{
		Args: sub.Config.Args,
		Config: domain.RunConfig{
			Image:          resolved.Image.Image,
			RunID:          runID,
			JobID:          jobID,
			TaskID:         taskID,
			SignalKey:      signalKey,
			SignalTargetID: sub.InstanceID,
			Task:           sub.Config.Task,
			Environment:    environment,
			Tokens:         tokens,
			SignalQueue:    signalQueue,
			TaskRunsTable: domain.TableConfig{
				AccountURL: tableTok.AccountURL,
				TableName:  b.cfg.TaskRunsTable,
				SASToken:   tableTok.Token,
			},
			OutputBlob: domain.BlobConfig{
				AccountURL: outputTok.AccountURL,
				URI:        BlobURI(b.cfg.BlobAccountName, b.cfg.LogContainer, outputPath),
				SASToken:   outputTok.Token,
			},
			LogBlob: domain.BlobConfig{
				AccountURL: logTok.AccountURL,
				URI:        BlobURI(b.cfg.BlobAccountName, b.cfg.LogContainer, logPath),
				SASToken:   logTok.Token,
			},
			EventLoggerAppInsightsKey: b.cfg.AppInsightsKey,
			CredentialsExpireAt:       expiresAt,
		},
	}, nil
}

func (b *Builder) substituteSecrets(
	ctx context.Context,
	environment map[string]string,
	tokens map[string]domain.StorageAccountTokens,
) (map[string]string, map[string]domain.StorageAccountTokens, error) {
	var outTokens map[string]domain.StorageAccountTokens
	err := secrets.With(ctx, b.secrets, func(s secrets.Session) error {
		if len(environment) > 0 {
			substituted, err := s.Substitute(ctx, environment)
			if err != nil {
				return err
			}
			environment = substituted
		}
		if len(tokens) == 0 {
			return nil
		}
		outTokens = make(map[string]domain.StorageAccountTokens, len(tokens))
		for account, tok := range tokens {
			fields, err := s.Substitute(ctx, map[string]string{"token": tok.Token})
			if err != nil {
				return fmt.Errorf("tokens for account %q: %w", account, err)
			}
			containers, err := s.Substitute(ctx, tok.Containers)
			if err != nil {
				return fmt.Errorf("container tokens for account %q: %w", account, err)
			}
			outTokens[account] = domain.StorageAccountTokens{Token: fields["token"], Containers: containers}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return environment, outTokens, nil
}

func (b *Builder) signalQueue(ctx context.Context) (domain.QueueConfig, time.Time, error) {
	if b.cfg.Dev {
		return domain.QueueConfig{
			QueueName:        b.cfg.SignalQueue,
			ConnectionString: b.cfg.SignalQueueConnectionString,
		}, time.Time{}, nil
	}
	tok, err := b.queue.QueueToken(ctx, b.cfg.SignalQueue, credentials.QueuePermissions{Add: true}, b.cfg.TokenTTL)
	if err != nil {
		return domain.QueueConfig{}, time.Time{}, fmt.Errorf("mint signal queue token: %w", err)
	}
	return domain.QueueConfig{
		AccountURL: tok.AccountURL,
		QueueName:  b.cfg.SignalQueue,
		SASToken:   tok.Token,
	}, tok.ExpiresAt, nil
}

func earliest(times ...time.Time) time.Time {
	var out time.Time
	for _, t := range times {
		if t.IsZero() {
			continue
		}
		if out.IsZero() || t.Before(out) {
			out = t
		}
	}
	return out
}
