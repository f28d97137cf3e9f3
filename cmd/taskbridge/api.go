package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/animus-labs/taskbridge/internal/batch"
	"github.com/animus-labs/taskbridge/internal/domain"
	"github.com/animus-labs/taskbridge/internal/platform/auth"
	"github.com/animus-labs/taskbridge/internal/platform/httpserver"
	"github.com/animus-labs/taskbridge/internal/platform/metrics"
	"github.com/animus-labs/taskbridge/internal/service/tasks"
	"github.com/animus-labs/taskbridge/internal/submit"
)

const serviceName = "taskbridge"

type taskService interface {
	Submit(ctx context.Context, sub domain.TaskSubmission, auditCtx tasks.AuditContext) (tasks.SubmitResult, error)
	BuildSummary(ctx context.Context, sub domain.TaskSubmission) (tasks.Summary, error)
	Poll(ctx context.Context, id domain.BatchTaskID, previousPollCount int) (domain.TaskPollResult, error)
}

type workflowSubmitter interface {
	SubmitWorkflow(ctx context.Context, msg submit.WorkflowSubmitMessage) (string, error)
}

type taskbridgeAPI struct {
	logger    *slog.Logger
	tasks     taskService
	workflows workflowSubmitter
}

// newRouter mounts the health checks, metrics and task routes. workflows may be nil
// when no submission queue is configured.
func newRouter(logger *slog.Logger, svc taskService, workflows workflowSubmitter, checks ...httpserver.ReadinessCheck) *chi.Mux {
	api := &taskbridgeAPI{logger: logger, tasks: svc, workflows: workflows}

	r := chi.NewRouter()
	r.Get("/healthz", httpserver.Healthz(serviceName))
	r.Get("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", api.handleSubmitTask)
		r.Post("/tasks/run-message", api.handleBuildRunMessage)
		r.Get("/tasks/{batch_job_id}/{batch_task_id}/status", api.handlePollTask)
		r.Post("/workflows", api.handleSubmitWorkflow)
	})
	return r
}

func (api *taskbridgeAPI) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var sub domain.TaskSubmission
	if err := decodeJSON(r, &sub); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	if err := sub.Validate(); err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	identity, _ := auth.IdentityFromContext(r.Context())
	res, err := api.tasks.Submit(r.Context(), sub, tasks.AuditContext{
		Actor:     identity.Subject,
		RequestID: requestID,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, res)
}

func (api *taskbridgeAPI) handleBuildRunMessage(w http.ResponseWriter, r *http.Request) {
	var sub domain.TaskSubmission
	if err := decodeJSON(r, &sub); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	summary, err := api.tasks.BuildSummary(r.Context(), sub)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, summary)
}

func (api *taskbridgeAPI) handlePollTask(w http.ResponseWriter, r *http.Request) {
	id := domain.BatchTaskID{
		BatchJobID:  strings.TrimSpace(chi.URLParam(r, "batch_job_id")),
		BatchTaskID: strings.TrimSpace(chi.URLParam(r, "batch_task_id")),
	}
	previous := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("previous_poll_count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_previous_poll_count")
			return
		}
		previous = n
	}

	res, err := api.tasks.Poll(r.Context(), id, previous)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, res)
}

func (api *taskbridgeAPI) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	if api.workflows == nil {
		httpserver.WriteError(w, r, http.StatusServiceUnavailable, "submit_queue_disabled")
		return
	}
	var msg submit.WorkflowSubmitMessage
	if err := decodeJSON(r, &msg); err != nil {
		httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	runID, err := api.workflows.SubmitWorkflow(r.Context(), msg)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusAccepted, map[string]any{"run_id": runID})
}

func (api *taskbridgeAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		api.logger.Error("request failed", "request_id", requestID, "code", code, "error", err)
	} else {
		api.logger.Warn("request rejected", "request_id", requestID, "code", code, "error", err)
	}
	httpserver.WriteError(w, r, status, code)
}

func classifyError(err error) (int, string) {
	var secretErr *domain.SecretResolutionError
	var apiErr *batch.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrPoolNotFound):
		return http.StatusUnprocessableEntity, "pool_not_found"
	case errors.As(err, &secretErr):
		return http.StatusUnprocessableEntity, "secret_not_found"
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusUnprocessableEntity, "configuration_error"
	case errors.Is(err, domain.ErrCredential):
		return http.StatusBadGateway, "credential_error"
	case errors.Is(err, batch.ErrUnauthorized), errors.Is(err, batch.ErrForbidden):
		return http.StatusBadGateway, "batch_unauthorized"
	case errors.Is(err, domain.ErrBatchExecutor), errors.Is(err, batch.ErrJobCompleted), errors.As(err, &apiErr):
		return http.StatusBadGateway, "batch_error"
	case errors.Is(err, submit.ErrNotOpen):
		return http.StatusServiceUnavailable, "submit_queue_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}
