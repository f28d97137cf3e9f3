package batch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/animus-labs/taskbridge/internal/domain"
)

// fakeBatchService is an in-memory stand-in for the batch REST API.
type fakeBatchService struct {
	mu         sync.Mutex
	jobs       map[string]string
	pools      map[string]bool
	tasks      map[string]map[string]any
	lastFilter string
	lastTask   map[string]any
	lastJob    map[string]any
}

func newFakeBatchService(t *testing.T) (*fakeBatchService, *RESTClient) {
	t.Helper()
	svc := &fakeBatchService{
		jobs:  map[string]string{},
		pools: map[string]bool{"pool-1": true},
		tasks: map[string]map[string]any{},
	}
	srv := httptest.NewServer(http.HandlerFunc(svc.serve))
	t.Cleanup(srv.Close)

	client, err := NewRESTClientWithHTTP(RESTConfig{URL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("NewRESTClientWithHTTP() err=%v", err)
	}
	return svc, client
}

func writeBatchError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": map[string]any{"lang": "en-US", "value": message},
	})
}

func (s *fakeBatchService) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.URL.Query().Get("api-version") == "" {
		writeBatchError(w, http.StatusBadRequest, "MissingRequiredQueryParameter", "api-version")
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "jobs":
		s.lastFilter = r.URL.Query().Get("$filter")
		values := []map[string]any{}
		for id, state := range s.jobs {
			if strings.Contains(s.lastFilter, "'"+strings.SplitN(id, "-", 2)[0]+"'") {
				values = append(values, map[string]any{"id": id, "state": state})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"value": values})

	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "pools":
		if !s.pools[parts[1]] {
			writeBatchError(w, http.StatusNotFound, "PoolNotFound", "The specified pool does not exist.")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": parts[1], "state": "active"})

	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "jobs":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.lastJob = body
		id, _ := body["id"].(string)
		if _, ok := s.jobs[id]; ok {
			writeBatchError(w, http.StatusConflict, "JobExists", "The specified job already exists.")
			return
		}
		s.jobs[id] = "active"
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "jobs" && parts[2] == "tasks":
		state, ok := s.jobs[parts[1]]
		if !ok {
			writeBatchError(w, http.StatusNotFound, "JobNotFound", "The specified job does not exist.")
			return
		}
		if state == "completed" {
			writeBatchError(w, http.StatusConflict, "JobCompleted", "The specified job is already in a completed state.")
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.lastTask = body
		id, _ := body["id"].(string)
		s.tasks[parts[1]+"/"+id] = map[string]any{"id": id, "state": "active"}
		w.WriteHeader(http.StatusCreated)

	case r.Method == http.MethodGet && len(parts) == 4 && parts[0] == "jobs" && parts[2] == "tasks":
		task, ok := s.tasks[parts[1]+"/"+parts[3]]
		if !ok {
			writeBatchError(w, http.StatusNotFound, "TaskNotFound", "The specified task does not exist.")
			return
		}
		_ = json.NewEncoder(w).Encode(task)

	default:
		writeBatchError(w, http.StatusInternalServerError, "Unexpected", r.Method+" "+r.URL.Path)
	}
}

func TestRESTClient_SubmitAndPollFlow(t *testing.T) {
	svc, client := newFakeBatchService(t)
	e, err := NewExecutor(client, Config{PoolID: "pool-1"}, nil)
	if err != nil {
		t.Fatalf("NewExecutor() err=%v", err)
	}
	ctx := context.Background()

	id, err := e.Submit(ctx, submission("eo", "j1", "t1", "r1"), testMessage, testInput)
	if err != nil {
		t.Fatalf("Submit() err=%v", err)
	}
	if !strings.HasPrefix(id.BatchJobID, "eo_j1_t1-") || id.BatchTaskID != "r1" {
		t.Fatalf("Submit()=%+v", id)
	}
	if svc.lastJob["onAllTasksComplete"] != "terminatejob" {
		t.Fatalf("job body=%v, want onAllTasksComplete=terminatejob", svc.lastJob)
	}
	settings, _ := svc.lastTask["containerSettings"].(map[string]any)
	if settings["imageName"] != "img:1" {
		t.Fatalf("task containerSettings=%v", settings)
	}
	cmd, _ := svc.lastTask["commandLine"].(string)
	if !strings.HasPrefix(cmd, "taskbridge task run blob://acct/taskio/r1/j1/t1/input.json --sas-token 'sv=x&sig=y'") {
		t.Fatalf("commandLine=%q", cmd)
	}

	res, err := e.Poll(ctx, id, 0)
	if err != nil {
		t.Fatalf("Poll() err=%v", err)
	}
	if res.Status != domain.TaskRunStatusPending {
		t.Fatalf("Poll()=%+v, want pending", res)
	}

	again, err := e.Submit(ctx, submission("eo", "j1", "t1", "r2"), testMessage, testInput)
	if err != nil {
		t.Fatalf("second Submit() err=%v", err)
	}
	if again.BatchJobID != id.BatchJobID {
		t.Fatalf("second job=%q, want reuse of %q", again.BatchJobID, id.BatchJobID)
	}
	if !strings.Contains(svc.lastFilter, "startswith(id,'eo_j1_t1')") || !strings.Contains(svc.lastFilter, "state eq 'active'") {
		t.Fatalf("filter=%q", svc.lastFilter)
	}
}

func TestRESTClient_AddTaskJobCompleted(t *testing.T) {
	svc, client := newFakeBatchService(t)
	svc.jobs["eo_j1_t1-old"] = "completed"

	err := client.AddTask(context.Background(), "eo_j1_t1-old", Task{ID: "r1", Command: []string{"x"}, Image: "img"})
	if !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("AddTask() err=%v, want ErrJobCompleted", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "JobCompleted" || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("AddTask() err=%v, want APIError JobCompleted", err)
	}
}

func TestRESTClient_NotFoundMapping(t *testing.T) {
	_, client := newFakeBatchService(t)
	ctx := context.Background()

	if _, ok, err := client.GetPool(ctx, "missing"); err != nil || ok {
		t.Fatalf("GetPool(missing) ok=%v err=%v", ok, err)
	}
	if _, ok, err := client.GetTaskStatus(ctx, "job", "task"); err != nil || ok {
		t.Fatalf("GetTaskStatus(missing) ok=%v err=%v", ok, err)
	}
	if err := client.AddTask(ctx, "nojob", Task{ID: "r1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddTask(nojob) err=%v, want ErrNotFound", err)
	}
	if _, err := client.AddJob(ctx, "dup", "pool-1"); err != nil {
		t.Fatalf("AddJob() err=%v", err)
	}
	if _, err := client.AddJob(ctx, "dup", "pool-1"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("AddJob(dup) err=%v, want ErrAlreadyExists", err)
	}
}

func TestRESTClient_TaskStateMapping(t *testing.T) {
	cases := []struct {
		body    map[string]any
		want    domain.TaskRunStatus
		wantMsg string
	}{
		{body: map[string]any{"state": "active"}, want: domain.TaskRunStatusPending},
		{body: map[string]any{"state": "preparing"}, want: domain.TaskRunStatusStarting},
		{body: map[string]any{"state": "running"}, want: domain.TaskRunStatusRunning},
		{body: map[string]any{"state": "completed", "executionInfo": map[string]any{"result": "success", "exitCode": 0}}, want: domain.TaskRunStatusCompleted},
		{
			body: map[string]any{"state": "completed", "executionInfo": map[string]any{
				"result": "failure", "exitCode": 1,
				"failureInfo": map[string]any{"code": "FailureExitCode", "message": "The task exited with an exit code representing a failure"},
			}},
			want:    domain.TaskRunStatusFailed,
			wantMsg: "The task exited with an exit code representing a failure",
		},
	}
	for _, tc := range cases {
		svc, client := newFakeBatchService(t)
		svc.tasks["job/task"] = tc.body
		got, ok, err := client.GetTaskStatus(context.Background(), "job", "task")
		if err != nil || !ok {
			t.Fatalf("GetTaskStatus() ok=%v err=%v", ok, err)
		}
		if got.Status != tc.want || got.ErrorMessage != tc.wantMsg {
			t.Fatalf("GetTaskStatus(%v)=%+v, want %s %q", tc.body, got, tc.want, tc.wantMsg)
		}
	}
}

func TestRESTConfigValidate(t *testing.T) {
	if err := (RESTConfig{}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for empty url")
	}
}
