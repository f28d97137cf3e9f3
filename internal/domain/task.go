package domain

import (
	"fmt"
	"strings"
)

type TaskConfig struct {
	ID          string            `json:"id"`
	Image       string            `json:"image,omitempty"`
	ImageKey    string            `json:"image_key,omitempty"`
	Task        string            `json:"task"`
	Args        map[string]any    `json:"args,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

func (c TaskConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.Task) == "" {
		return fmt.Errorf("%w: task %q: task path is required", ErrInvalidInput, c.ID)
	}
	image, key := strings.TrimSpace(c.Image) != "", strings.TrimSpace(c.ImageKey) != ""
	switch {
	case !image && !key:
		return fmt.Errorf("%w: task %q: one of image or image_key is required", ErrConfiguration, c.ID)
	case image && key:
		return fmt.Errorf("%w: task %q: image and image_key are mutually exclusive", ErrConfiguration, c.ID)
	}
	return nil
}

// StorageAccountTokens carries caller supplied SAS tokens for one storage account.
type StorageAccountTokens struct {
	Token      string            `json:"token,omitempty"`
	Containers map[string]string `json:"containers,omitempty"`
}

type TaskSubmission struct {
	Dataset           string                          `json:"dataset"`
	JobID             string                          `json:"job_id"`
	RunID             string                          `json:"run_id"`
	InstanceID        string                          `json:"instance_id"`
	TargetEnvironment string                          `json:"target_environment,omitempty"`
	Config            TaskConfig                      `json:"config"`
	Tokens            map[string]StorageAccountTokens `json:"tokens,omitempty"`
}

func (s TaskSubmission) TaskID() string {
	return s.Config.ID
}

func (s TaskSubmission) Validate() error {
	if strings.TrimSpace(s.Dataset) == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}
	if strings.TrimSpace(s.JobID) == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(s.RunID) == "" {
		return fmt.Errorf("%w: run_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(s.InstanceID) == "" {
		return fmt.Errorf("%w: instance_id is required", ErrInvalidInput)
	}
	return s.Config.Validate()
}
