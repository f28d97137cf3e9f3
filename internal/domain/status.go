package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type TaskRunStatus string

const (
	TaskRunStatusReceived   TaskRunStatus = "received"
	TaskRunStatusPending    TaskRunStatus = "pending"
	TaskRunStatusSubmitting TaskRunStatus = "submitting"
	TaskRunStatusSubmitted  TaskRunStatus = "submitted"
	TaskRunStatusStarting   TaskRunStatus = "starting"
	TaskRunStatusRunning    TaskRunStatus = "running"
	TaskRunStatusWaiting    TaskRunStatus = "waiting"
	TaskRunStatusCompleted  TaskRunStatus = "completed"
	TaskRunStatusFailed     TaskRunStatus = "failed"
	TaskRunStatusCancelled  TaskRunStatus = "cancelled"
)

func (s TaskRunStatus) Terminal() bool {
	switch s {
	case TaskRunStatusCompleted, TaskRunStatusFailed, TaskRunStatusCancelled:
		return true
	default:
		return false
	}
}

type TaskPollResult struct {
	Status     TaskRunStatus `json:"task_status"`
	PollErrors []string      `json:"poll_errors,omitempty"`
}

// BatchTaskID locates a submitted task on the compute backend.
type BatchTaskID struct {
	BatchJobID  string `json:"batch_job_id"`
	BatchTaskID string `json:"batch_task_id"`
}

func (id BatchTaskID) Validate() error {
	if strings.TrimSpace(id.BatchJobID) == "" {
		return fmt.Errorf("%w: batch_job_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(id.BatchTaskID) == "" {
		return fmt.Errorf("%w: batch_task_id is required", ErrInvalidInput)
	}
	return nil
}

func (id BatchTaskID) Encode() ([]byte, error) {
	return json.Marshal(id)
}

func ParseBatchTaskID(data []byte) (BatchTaskID, error) {
	var id BatchTaskID
	if err := json.Unmarshal(data, &id); err != nil {
		return BatchTaskID{}, fmt.Errorf("%w: decode batch task id: %v", ErrInvalidInput, err)
	}
	if err := id.Validate(); err != nil {
		return BatchTaskID{}, err
	}
	return id, nil
}
