package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/metrics"
)

const (
	// maxSubmitAttempts bounds submission to one retry after a JobCompleted race.
	maxSubmitAttempts = 2

	DefaultMaxMissingPolls = 10
)

type Config struct {
	PoolID          string
	MaxMissingPolls int
	WorkerProgram   string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.PoolID) == "" {
		return errors.New("batch pool id is required")
	}
	if c.MaxMissingPolls < 0 {
		return errors.New("max missing polls must be >= 0")
	}
	return nil
}

type Executor struct {
	client    Client
	cfg       Config
	logger    *slog.Logger
	newSuffix func() string
}

func NewExecutor(client Client, cfg Config, logger *slog.Logger) (*Executor, error) {
	if client == nil {
		return nil, errors.New("batch client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:    client,
		cfg:       cfg,
		logger:    logger.With("component", "batch_executor"),
		newSuffix: newULIDSuffix,
	}, nil
}

func (e *Executor) Kind() string {
	return "batch"
}

// Submit adds the task to an active job for its (dataset, job, task) prefix,
// creating the job when none is active. The task id is the run id.
func (e *Executor) Submit(ctx context.Context, sub domain.TaskSubmission, msg domain.ExecutionMessage, input domain.BlobConfig) (domain.BatchTaskID, error) {
	if strings.TrimSpace(msg.Config.Image) == "" {
		return domain.BatchTaskID{}, fmt.Errorf("%w: execution message has no image", domain.ErrConfiguration)
	}
	if strings.TrimSpace(input.URI) == "" {
		return domain.BatchTaskID{}, errors.New("task input uri is required")
	}

	prefix := JobPrefix(sub.Dataset, sub.JobID, sub.TaskID())
	task := Task{
		ID:      sub.RunID,
		Command: WorkerCommand(e.cfg.WorkerProgram, input),
		Image:   msg.Config.Image,
	}
	logger := e.logger.With("run_id", sub.RunID, "job_prefix", prefix)

	var jobID string
	for attempt := 1; ; attempt++ {
		var err error
		jobID, err = e.findOrCreateJob(ctx, logger, prefix)
		if err != nil {
			metrics.ObserveSubmission(metrics.OutcomeFailed)
			return domain.BatchTaskID{}, err
		}

		err = e.client.AddTask(ctx, jobID, task)
		if err == nil {
			break
		}
		if errors.Is(err, ErrJobCompleted) {
			if attempt < maxSubmitAttempts {
				logger.Warn("batch job completed before task was added, retrying", "batch_job_id", jobID, "attempt", attempt)
				metrics.ObserveJobCompletedRetry()
				continue
			}
			metrics.ObserveSubmission(metrics.OutcomeFailed)
			return domain.BatchTaskID{}, err
		}
		metrics.ObserveSubmission(metrics.OutcomeFailed)
		return domain.BatchTaskID{}, fmt.Errorf("add task %q to job %q: %w", task.ID, jobID, err)
	}

	if jobID == "" {
		metrics.ObserveSubmission(metrics.OutcomeFailed)
		return domain.BatchTaskID{}, fmt.Errorf("%w: failed to create batch job", domain.ErrBatchExecutor)
	}
	metrics.ObserveSubmission(metrics.OutcomeSubmitted)
	logger.Info("submitted batch task", "batch_job_id", jobID, "batch_task_id", task.ID)
	return domain.BatchTaskID{BatchJobID: jobID, BatchTaskID: task.ID}, nil
}

func (e *Executor) findOrCreateJob(ctx context.Context, logger *slog.Logger, prefix string) (string, error) {
	jobID, found, err := e.client.FindActiveJob(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("find active job: %w", err)
	}
	if found {
		logger.Info("found existing batch job", "batch_job_id", jobID)
		metrics.ObserveJob(metrics.JobReused)
		return jobID, nil
	}

	if _, ok, err := e.client.GetPool(ctx, e.cfg.PoolID); err != nil {
		return "", fmt.Errorf("get pool %q: %w", e.cfg.PoolID, err)
	} else if !ok {
		return "", fmt.Errorf("%w: %w: batch pool %q", domain.ErrConfiguration, domain.ErrPoolNotFound, e.cfg.PoolID)
	}

	newID := UniqueJobID(prefix, e.newSuffix())
	logger.Info("creating batch job", "batch_job_id", newID, "pool_id", e.cfg.PoolID)
	jobID, err = e.client.AddJob(ctx, newID, e.cfg.PoolID)
	if err != nil {
		return "", err
	}
	if jobID == "" {
		return "", fmt.Errorf("%w: batch job %q was created without an id", domain.ErrBatchExecutor, newID)
	}
	metrics.ObserveJob(metrics.JobCreated)
	return jobID, nil
}

// Poll reports the normalized status of a submitted task. A task the backend
// cannot find is pending until previousPollCount reaches MaxMissingPolls.
func (e *Executor) Poll(ctx context.Context, id domain.BatchTaskID, previousPollCount int) (domain.TaskPollResult, error) {
	if err := id.Validate(); err != nil {
		return domain.TaskPollResult{}, err
	}
	status, found, err := e.client.GetTaskStatus(ctx, id.BatchJobID, id.BatchTaskID)
	if err != nil {
		return domain.TaskPollResult{}, fmt.Errorf("get task status: %w", err)
	}

	var result domain.TaskPollResult
	switch {
	case !found && previousPollCount < e.cfg.MaxMissingPolls:
		result = domain.TaskPollResult{Status: domain.TaskRunStatusPending}
	case !found:
		e.logger.Warn("batch task not found, giving up",
			"batch_job_id", id.BatchJobID, "batch_task_id", id.BatchTaskID, "polls", previousPollCount)
		result = domain.TaskPollResult{
			Status:     domain.TaskRunStatusFailed,
			PollErrors: []string{fmt.Sprintf("Batch task not found after %d polls.", previousPollCount)},
		}
	default:
		result = domain.TaskPollResult{Status: status.Status}
		if status.ErrorMessage != "" {
			result.PollErrors = []string{status.ErrorMessage}
		}
	}
	metrics.ObservePoll(string(result.Status))
	if result.Status.Terminal() {
		e.logger.Info("batch task finished",
			"batch_job_id", id.BatchJobID, "batch_task_id", id.BatchTaskID, "status", result.Status)
	}
	return result, nil
}
