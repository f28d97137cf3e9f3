// Package batch submits tasks to a shared batch compute pool and polls their status.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/taskbridge/internal/domain"
)

var (
	ErrNotFound      = errors.New("batch resource not found")
	ErrAlreadyExists = errors.New("batch resource already exists")
	ErrJobCompleted  = errors.New("batch job already completed")
	ErrUnauthorized  = errors.New("batch request unauthorized")
	ErrForbidden     = errors.New("batch request forbidden")
)

// APIError carries the error code and message returned by the batch service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		return fmt.Sprintf("batch api error (status=%d code=%s)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("batch api error (status=%d code=%s): %s", e.StatusCode, e.Code, msg)
}

type Pool struct {
	ID    string
	State string
}

// Task is the descriptor added to a batch job.
type Task struct {
	ID      string
	Command []string
	Image   string
}

type TaskStatus struct {
	Status       domain.TaskRunStatus
	ErrorMessage string
}

// Client is the compute backend surface used by the Executor.
type Client interface {
	FindActiveJob(ctx context.Context, prefix string) (string, bool, error)
	GetPool(ctx context.Context, poolID string) (Pool, bool, error)
	AddJob(ctx context.Context, jobID, poolID string) (string, error)
	// AddTask returns an error matching ErrJobCompleted when the job finished before the task was added.
	AddTask(ctx context.Context, jobID string, task Task) error
	GetTaskStatus(ctx context.Context, jobID, taskID string) (TaskStatus, bool, error)
}
