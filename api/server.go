// Package api 提供作业提交与查询的 HTTP 接口。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/logging"
	"github.com/mengeric/geoetl-go/orchestrator"
	"github.com/mengeric/geoetl-go/state"
)

const maxBodyBytes = 1 << 20

// Service 接口背后的编排能力，由 orchestrator.Manager 实现。
type Service interface {
	Submit(ctx context.Context, jobType string, params map[string]any) (string, error)
	GetJob(ctx context.Context, jobID string) (*state.JobRecord, error)
	ListTasks(ctx context.Context, jobID string, stage int) ([]state.TaskRecord, error)
	Cancel(ctx context.Context, jobID string) error
	Resubmit(ctx context.Context, jobID string) error
}

var _ Service = (*orchestrator.Manager)(nil)

// NewHandler 构造路由。
// 端点：
// - POST /api/v1/jobs/{id}：id 为作业类型，body 为参数对象 → 202 {job_id}；
// - GET  /api/v1/jobs/{id}：查询作业；
// - GET  /api/v1/jobs/{id}/tasks?stage=N：当前尝试的任务列表；
// - POST /api/v1/jobs/{id}/cancel、/resubmit；
// - GET  /metrics、/healthz。
func NewHandler(svc Service) http.Handler {
	h := &handler{svc: svc}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, CommonResp[string]{Success: true, Data: "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1/jobs/{id}", func(r chi.Router) {
		r.Post("/", h.submit)
		r.Get("/", h.getJob)
		r.Get("/tasks", h.listTasks)
		r.Post("/cancel", h.cancel)
		r.Post("/resubmit", h.resubmit)
	})
	return r
}

type handler struct{ svc Service }

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "id")
	var params map[string]any
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err, nil)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeErr(w, http.StatusBadRequest, errors.New("body must be a JSON object"), nil)
			return
		}
	}
	id, err := h.svc.Submit(r.Context(), jobType, params)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CommonResp[SubmitResp]{Success: true, Data: SubmitResp{JobID: id}})
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommonResp[*state.JobRecord]{Success: true, Data: job})
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	stage := 0
	if s := r.URL.Query().Get("stage"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeErr(w, http.StatusBadRequest, errors.New("stage must be a positive integer"), nil)
			return
		}
		stage = n
	}
	tasks, err := h.svc.ListTasks(r.Context(), chi.URLParam(r, "id"), stage)
	if err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CommonResp[[]state.TaskRecord]{Success: true, Data: tasks})
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CommonResp[any]{Success: true})
}

func (h *handler) resubmit(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Resubmit(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CommonResp[any]{Success: true})
}

// writeServiceErr 将领域错误映射为 HTTP 状态码。
func writeServiceErr(w http.ResponseWriter, err error) {
	var ve *jobdef.ValidationError
	switch {
	case errors.As(err, &ve):
		writeErr(w, http.StatusBadRequest, err, ve)
	case errors.Is(err, orchestrator.ErrUnknownJobType), errors.Is(err, state.ErrNotFound):
		writeErr(w, http.StatusNotFound, err, nil)
	case errors.Is(err, orchestrator.ErrNotResubmittable):
		writeErr(w, http.StatusConflict, err, nil)
	default:
		logging.L().Error(context.Background(), "api request failed", "err", err)
		writeErr(w, http.StatusInternalServerError, err, nil)
	}
}

// writeErr/JSON 公共返回工具。
func writeErr(w http.ResponseWriter, code int, err error, data any) {
	writeJSON(w, code, CommonResp[any]{Success: false, Data: data, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.L().Debug(r.Context(), "http request",
			"method", r.Method, "path", r.URL.Path, "status", ww.Status(), "elapsed_ms", time.Since(start).Milliseconds())
	})
}
