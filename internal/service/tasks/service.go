// Package tasks drives a task submission end to end: build the execution
// message, stage it as the task input blob, and hand it to the executor.
package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/taskbridge/internal/credentials"
	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/auditlog"
	"github.com/animus-labs/taskbridge/internal/runmessage"
	"github.com/animus-labs/taskbridge/internal/storage/blob"
)

// MessageBuilder produces the execution message for a submission.
type MessageBuilder interface {
	Build(ctx context.Context, sub domain.TaskSubmission) (domain.ExecutionMessage, error)
}

// Executor runs execution messages on a compute backend.
type Executor interface {
	Kind() string
	Submit(ctx context.Context, sub domain.TaskSubmission, msg domain.ExecutionMessage, input domain.BlobConfig) (domain.BatchTaskID, error)
	Poll(ctx context.Context, id domain.BatchTaskID, previousPollCount int) (domain.TaskPollResult, error)
}

// AuditRecorder persists audit events. It is optional.
type AuditRecorder interface {
	Record(ctx context.Context, event auditlog.Event) error
}

// AuditContext captures request identity details for audit logging.
type AuditContext struct {
	Actor     string
	RequestID string
}

type Config struct {
	BlobAccountName string
	TaskIOContainer string
	// InputTokenTTL bounds the worker's read access to its input blob.
	InputTokenTTL time.Duration
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BlobAccountName) == "" {
		return errors.New("blob account name is required")
	}
	if strings.TrimSpace(c.TaskIOContainer) == "" {
		return errors.New("task io container is required")
	}
	return nil
}

type Deps struct {
	Builder  MessageBuilder
	Executor Executor
	Store    blob.Store
	Blob     credentials.BlobMinter
	Audit    AuditRecorder
	Logger   *slog.Logger
}

type SubmitResult struct {
	ExecutorID domain.BatchTaskID `json:"executor_id"`
	RunID      string             `json:"run_id"`
	InputURI   string             `json:"input_uri"`
}

// Summary describes a built execution message without its credentials or environment.
type Summary struct {
	RunID          string    `json:"run_id"`
	Image          string    `json:"image"`
	LogURI         string    `json:"log_uri"`
	OutputURI      string    `json:"output_uri"`
	SignalTargetID string    `json:"signal_target_id"`
	ExpiresAt      time.Time `json:"credentials_expire_at"`
}

type Service struct {
	cfg      Config
	builder  MessageBuilder
	executor Executor
	store    blob.Store
	blob     credentials.BlobMinter
	audit    AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Builder == nil {
		return nil, errors.New("message builder is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if deps.Store == nil {
		return nil, errors.New("blob store is required")
	}
	if deps.Blob == nil {
		return nil, errors.New("blob minter is required")
	}
	if cfg.InputTokenTTL <= 0 {
		cfg.InputTokenTTL = credentials.DefaultTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		builder:  deps.Builder,
		executor: deps.Executor,
		store:    deps.Store,
		blob:     deps.Blob,
		audit:    deps.Audit,
		logger:   logger.With("component", "task_service"),
		now:      time.Now,
	}, nil
}

func (s *Service) Submit(ctx context.Context, sub domain.TaskSubmission, auditCtx AuditContext) (SubmitResult, error) {
	msg, err := s.builder.Build(ctx, sub)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("build execution message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("marshal execution message: %w", err)
	}
	inputPath := runmessage.TaskInputPath(sub.RunID, sub.JobID, sub.TaskID())
	if err := s.store.Put(ctx, s.cfg.TaskIOContainer, inputPath, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return SubmitResult{}, fmt.Errorf("upload task input: %w", err)
	}

	tok, err := s.blob.BlobToken(ctx, s.cfg.TaskIOContainer, inputPath, credentials.BlobPermissions{Read: true}, s.cfg.InputTokenTTL)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("mint task input token: %w", err)
	}
	input := domain.BlobConfig{
		AccountURL: tok.AccountURL,
		URI:        runmessage.BlobURI(s.cfg.BlobAccountName, s.cfg.TaskIOContainer, inputPath),
		SASToken:   tok.Token,
	}

	id, err := s.executor.Submit(ctx, sub, msg, input)
	if err != nil {
		return SubmitResult{}, err
	}

	s.logger.Info("task submitted",
		"executor", s.executor.Kind(),
		"run_id", sub.RunID,
		"batch_job_id", id.BatchJobID,
		"batch_task_id", id.BatchTaskID,
		"request_id", auditCtx.RequestID,
	)
	s.appendAudit(ctx, auditCtx, "task.submitted", id, map[string]any{
		"run_id":    sub.RunID,
		"dataset":   sub.Dataset,
		"job_id":    sub.JobID,
		"task_id":   sub.TaskID(),
		"image":     msg.Config.Image,
		"input_uri": input.URI,
	})
	return SubmitResult{ExecutorID: id, RunID: sub.RunID, InputURI: input.URI}, nil
}

// BuildSummary builds the execution message without staging or submitting it.
func (s *Service) BuildSummary(ctx context.Context, sub domain.TaskSubmission) (Summary, error) {
	msg, err := s.builder.Build(ctx, sub)
	if err != nil {
		return Summary{}, fmt.Errorf("build execution message: %w", err)
	}
	return Summary{
		RunID:          msg.Config.RunID,
		Image:          msg.Config.Image,
		LogURI:         msg.Config.LogBlob.URI,
		OutputURI:      msg.Config.OutputBlob.URI,
		SignalTargetID: msg.Config.SignalTargetID,
		ExpiresAt:      msg.Config.CredentialsExpireAt,
	}, nil
}

func (s *Service) Poll(ctx context.Context, id domain.BatchTaskID, previousPollCount int) (domain.TaskPollResult, error) {
	if previousPollCount < 0 {
		return domain.TaskPollResult{}, fmt.Errorf("%w: previous poll count must be >= 0", domain.ErrInvalidInput)
	}
	return s.executor.Poll(ctx, id, previousPollCount)
}

func (s *Service) appendAudit(ctx context.Context, auditCtx AuditContext, action string, id domain.BatchTaskID, payload map[string]any) {
	if s.audit == nil {
		return
	}
	actor := strings.TrimSpace(auditCtx.Actor)
	if actor == "" {
		actor = "system"
	}
	err := s.audit.Record(ctx, auditlog.Event{
		OccurredAt:   s.now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: "batch_task",
		ResourceID:   id.BatchJobID + "/" + id.BatchTaskID,
		RequestID:    auditCtx.RequestID,
		Payload:      payload,
	})
	if err != nil {
		s.logger.Warn("audit append failed", "action", action, "error", err)
	}
}
