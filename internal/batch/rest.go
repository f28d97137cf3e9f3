package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/clientauth"
)

const (
	defaultAPIVersion = "2023-05-01.17.0"
	DefaultScope      = "https://batch.core.windows.net/.default"
)

type RESTConfig struct {
	URL        string
	APIVersion string
	Timeout    time.Duration
	Auth       clientauth.Config
}

func (c RESTConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("batch url is required")
	}
	if _, err := url.ParseRequestURI(c.URL); err != nil {
		return fmt.Errorf("batch url: %w", err)
	}
	return nil
}

// RESTClient talks to the batch service REST API.
type RESTClient struct {
	baseURL    string
	apiVersion string
	http       *http.Client
}

// NewRESTClient authenticates with cfg.Auth. Use NewRESTClientWithHTTP to supply a client directly.
func NewRESTClient(ctx context.Context, cfg RESTConfig) (*RESTClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Auth.Scopes) == 0 {
		cfg.Auth.Scopes = []string{DefaultScope}
	}
	httpClient, err := clientauth.HTTPClient(ctx, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("batch auth: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient.Timeout = cfg.Timeout
	return NewRESTClientWithHTTP(cfg, httpClient)
}

func NewRESTClientWithHTTP(cfg RESTConfig, httpClient *http.Client) (*RESTClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		return nil, errors.New("http client is required")
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		apiVersion: apiVersion,
		http:       httpClient,
	}, nil
}

func (c *RESTClient) FindActiveJob(ctx context.Context, prefix string) (string, bool, error) {
	filter := fmt.Sprintf("startswith(id,'%s') and state eq 'active'", strings.ReplaceAll(prefix, "'", "''"))
	query := url.Values{}
	query.Set("$filter", filter)
	query.Set("$select", "id,state")

	req, err := c.newRequest(ctx, http.MethodGet, "/jobs", query, nil)
	if err != nil {
		return "", false, err
	}
	var out struct {
		Value []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"value"`
	}
	if err := c.do(req, &out); err != nil {
		return "", false, fmt.Errorf("list jobs: %w", err)
	}
	for _, job := range out.Value {
		if job.State == "active" && strings.HasPrefix(job.ID, prefix) {
			return job.ID, true, nil
		}
	}
	return "", false, nil
}

func (c *RESTClient) GetPool(ctx context.Context, poolID string) (Pool, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/pools/"+url.PathEscape(poolID), nil, nil)
	if err != nil {
		return Pool{}, false, err
	}
	var out struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := c.do(req, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Pool{}, false, nil
		}
		return Pool{}, false, fmt.Errorf("get pool: %w", err)
	}
	return Pool{ID: out.ID, State: out.State}, true, nil
}

func (c *RESTClient) AddJob(ctx context.Context, jobID, poolID string) (string, error) {
	body := map[string]any{
		"id":                 jobID,
		"poolInfo":           map[string]any{"poolId": poolID},
		"onAllTasksComplete": "terminatejob",
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/jobs", nil, body)
	if err != nil {
		return "", err
	}
	if err := c.do(req, nil); err != nil {
		return "", fmt.Errorf("add job %q: %w", jobID, err)
	}
	return jobID, nil
}

func (c *RESTClient) AddTask(ctx context.Context, jobID string, task Task) error {
	body := map[string]any{
		"id":          task.ID,
		"commandLine": shellJoin(task.Command),
		"containerSettings": map[string]any{
			"imageName": task.Image,
		},
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/tasks", nil, body)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *RESTClient) GetTaskStatus(ctx context.Context, jobID, taskID string) (TaskStatus, bool, error) {
	path := "/jobs/" + url.PathEscape(jobID) + "/tasks/" + url.PathEscape(taskID)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return TaskStatus{}, false, err
	}
	var out struct {
		State         string `json:"state"`
		ExecutionInfo struct {
			Result      string `json:"result"`
			ExitCode    *int   `json:"exitCode"`
			FailureInfo *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"failureInfo"`
		} `json:"executionInfo"`
	}
	if err := c.do(req, &out); err != nil {
		if errors.Is(err, ErrNotFound) {
			return TaskStatus{}, false, nil
		}
		return TaskStatus{}, false, fmt.Errorf("get task: %w", err)
	}

	var message string
	if fi := out.ExecutionInfo.FailureInfo; fi != nil {
		message = strings.TrimSpace(fi.Message)
		if message == "" {
			message = strings.TrimSpace(fi.Code)
		}
	}
	return TaskStatus{Status: mapTaskState(out.State, out.ExecutionInfo.Result), ErrorMessage: message}, true, nil
}

func mapTaskState(state, result string) domain.TaskRunStatus {
	switch state {
	case "active":
		return domain.TaskRunStatusPending
	case "preparing":
		return domain.TaskRunStatusStarting
	case "running":
		return domain.TaskRunStatusRunning
	case "completed":
		if strings.EqualFold(result, "failure") {
			return domain.TaskRunStatusFailed
		}
		return domain.TaskRunStatusCompleted
	default:
		return domain.TaskRunStatusPending
	}
}

func (c *RESTClient) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", c.apiVersion)
	endpoint := c.baseURL + path + "?" + query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; odata=minimalmetadata")
	}
	return req, nil
}

func (c *RESTClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode batch response: %w", err)
		}
		return nil
	}

	apiErr := parseAPIError(resp.StatusCode, body)
	switch {
	case apiErr.Code == "JobCompleted":
		return fmt.Errorf("%w: %w", ErrJobCompleted, apiErr)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %w", ErrAlreadyExists, apiErr)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", ErrForbidden, apiErr)
	default:
		return apiErr
	}
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var payload struct {
		Code    string `json:"code"`
		Message struct {
			Value string `json:"value"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message.Value
	}
	if apiErr.Message == "" && apiErr.Code == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
