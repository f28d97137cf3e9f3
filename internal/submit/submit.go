// Package submit enqueues workflow run requests onto the submission queue.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/images"
)

var ErrNotOpen = errors.New("submit client is not open")

type Job struct {
	ID    string              `json:"id"`
	Tasks []domain.TaskConfig `json:"tasks"`
}

type Workflow struct {
	ID                string `json:"id"`
	Name              string `json:"name,omitempty"`
	Dataset           string `json:"dataset"`
	TargetEnvironment string `json:"target_environment,omitempty"`
	Jobs              []Job  `json:"jobs"`
}

type WorkflowSubmitMessage struct {
	RunID    string         `json:"run_id"`
	Workflow Workflow       `json:"workflow"`
	Args     map[string]any `json:"args,omitempty"`
}

func (m WorkflowSubmitMessage) Validate() error {
	if strings.TrimSpace(m.Workflow.ID) == "" {
		return fmt.Errorf("%w: workflow id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(m.Workflow.Dataset) == "" {
		return fmt.Errorf("%w: workflow dataset is required", domain.ErrInvalidInput)
	}
	if len(m.Workflow.Jobs) == 0 {
		return fmt.Errorf("%w: workflow has no jobs", domain.ErrInvalidInput)
	}
	for _, job := range m.Workflow.Jobs {
		if strings.TrimSpace(job.ID) == "" {
			return fmt.Errorf("%w: job id is required", domain.ErrInvalidInput)
		}
		for _, task := range job.Tasks {
			if err := task.Validate(); err != nil {
				return fmt.Errorf("job %q: %w", job.ID, err)
			}
		}
	}
	return nil
}

type Config struct {
	RedisURL  string
	QueueName string
	// ImageKeys replaces matching task image keys before enqueueing.
	ImageKeys map[string]domain.ImageConfig
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RedisURL) == "" {
		return errors.New("redis url is required")
	}
	if strings.TrimSpace(c.QueueName) == "" {
		return errors.New("queue name is required")
	}
	for key, img := range c.ImageKeys {
		if err := img.Validate(); err != nil {
			return fmt.Errorf("image key %q: %w", key, err)
		}
	}
	return nil
}

// Client must be opened before submitting and closed afterwards.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu  sync.Mutex
	rdb *redis.Client
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger.With("component", "submit_client")}, nil
}

func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb != nil {
		return nil
	}
	opts, err := redis.ParseURL(c.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	c.rdb = rdb
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil
	}
	err := c.rdb.Close()
	c.rdb = nil
	return err
}

func (c *Client) conn() (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb == nil {
		return nil, ErrNotOpen
	}
	return c.rdb, nil
}

func (c *Client) Ping(ctx context.Context) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	return rdb.Ping(ctx).Err()
}

// SubmitWorkflow applies configured image keys, assigns a run id when absent
// and enqueues the message. It returns the run id.
func (c *Client) SubmitWorkflow(ctx context.Context, msg WorkflowSubmitMessage) (string, error) {
	rdb, err := c.conn()
	if err != nil {
		return "", err
	}
	if err := msg.Validate(); err != nil {
		return "", err
	}
	msg, err = c.prepare(msg)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal workflow message: %w", err)
	}
	if err := rdb.LPush(ctx, c.cfg.QueueName, body).Err(); err != nil {
		return "", fmt.Errorf("enqueue workflow %q: %w", msg.Workflow.ID, err)
	}
	c.logger.Info("workflow submitted", "run_id", msg.RunID, "workflow_id", msg.Workflow.ID, "queue", c.cfg.QueueName)
	return msg.RunID, nil
}

// Receive pops the oldest message, waiting up to timeout. ok is false when
// nothing arrived in time.
func (c *Client) Receive(ctx context.Context, timeout time.Duration) (msg WorkflowSubmitMessage, ok bool, err error) {
	rdb, err := c.conn()
	if err != nil {
		return WorkflowSubmitMessage{}, false, err
	}
	res, err := rdb.BRPop(ctx, timeout, c.cfg.QueueName).Result()
	if errors.Is(err, redis.Nil) {
		return WorkflowSubmitMessage{}, false, nil
	}
	if err != nil {
		return WorkflowSubmitMessage{}, false, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) != 2 {
		return WorkflowSubmitMessage{}, false, fmt.Errorf("dequeue: unexpected reply %v", res)
	}
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return WorkflowSubmitMessage{}, false, fmt.Errorf("decode workflow message: %w", err)
	}
	return msg, true, nil
}

func (c *Client) prepare(msg WorkflowSubmitMessage) (WorkflowSubmitMessage, error) {
	if strings.TrimSpace(msg.RunID) == "" {
		msg.RunID = uuid.NewString()
	}
	jobs := make([]Job, len(msg.Workflow.Jobs))
	for i, job := range msg.Workflow.Jobs {
		tasks := make([]domain.TaskConfig, len(job.Tasks))
		for j, task := range job.Tasks {
			resolved, err := c.applyImageKey(task)
			if err != nil {
				return WorkflowSubmitMessage{}, fmt.Errorf("job %q task %q: %w", job.ID, task.ID, err)
			}
			tasks[j] = resolved
		}
		jobs[i] = Job{ID: job.ID, Tasks: tasks}
	}
	msg.Workflow.Jobs = jobs
	return msg, nil
}

// applyImageKey swaps a configured image key for its image. Unknown keys are
// left for the executor to resolve.
func (c *Client) applyImageKey(task domain.TaskConfig) (domain.TaskConfig, error) {
	img, ok := c.cfg.ImageKeys[task.ImageKey]
	if task.ImageKey == "" || !ok {
		return task, nil
	}
	defaults, err := img.Env()
	if err != nil {
		return domain.TaskConfig{}, err
	}
	task.Image = img.Image
	task.ImageKey = ""
	task.Environment = images.MergeEnvironment(defaults, task.Environment)
	return task, nil
}
