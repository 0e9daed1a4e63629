// Package client 是 api 包 HTTP 接口的客户端，供命令行使用。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mengeric/geoetl-go/api"
	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/state"
)

// 按响应状态码区分的错误。
var (
	ErrNotFound         = errors.New("client: not found")
	ErrInvalidParams    = errors.New("client: invalid parameters")
	ErrNotResubmittable = errors.New("client: job is not resubmittable")
)

// API 定义与编排服务的交互接口，便于 gomock 打桩。
type API interface {
	Submit(ctx context.Context, jobType string, params map[string]any) (string, error)
	GetJob(ctx context.Context, jobID string) (*state.JobRecord, error)
	ListTasks(ctx context.Context, jobID string, stage int) ([]state.TaskRecord, error)
	Cancel(ctx context.Context, jobID string) error
	Resubmit(ctx context.Context, jobID string) error
}

// Error 服务端返回的非 2xx 响应。
type Error struct {
	Status     int
	Message    string
	Validation *jobdef.ValidationError
}

func (e *Error) Error() string { return fmt.Sprintf("http %d: %s", e.Status, e.Message) }

// Unwrap 将状态码映射为哨兵错误，便于 errors.Is 判断。
func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest:
		return ErrInvalidParams
	case http.StatusConflict:
		return ErrNotResubmittable
	}
	return nil
}

// httpAPI 实现 API。
type httpAPI struct {
	base string
	hc   *http.Client
}

// New 构造 HTTP 实现；base 形如 http://127.0.0.1:8080。
func New(base string) API {
	return &httpAPI{base: strings.TrimRight(base, "/"), hc: &http.Client{Timeout: 10 * time.Second}}
}

// Submit 提交作业，返回 job_id。
func (h *httpAPI) Submit(ctx context.Context, jobType string, params map[string]any) (string, error) {
	var resp api.CommonResp[api.SubmitResp]
	if err := h.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobType), params, &resp); err != nil {
		return "", err
	}
	return resp.Data.JobID, nil
}

// GetJob 查询作业。
func (h *httpAPI) GetJob(ctx context.Context, jobID string) (*state.JobRecord, error) {
	var resp api.CommonResp[*state.JobRecord]
	if err := h.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListTasks 查询当前尝试的任务；stage<=0 表示全部阶段。
func (h *httpAPI) ListTasks(ctx context.Context, jobID string, stage int) ([]state.TaskRecord, error) {
	p := "/api/v1/jobs/" + url.PathEscape(jobID) + "/tasks"
	if stage > 0 {
		p += "?stage=" + strconv.Itoa(stage)
	}
	var resp api.CommonResp[[]state.TaskRecord]
	if err := h.do(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Cancel 请求取消作业。
func (h *httpAPI) Cancel(ctx context.Context, jobID string) error {
	return h.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil)
}

// Resubmit 重新执行失败的作业。
func (h *httpAPI) Resubmit(ctx context.Context, jobID string) error {
	return h.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/resubmit", nil, nil)
}

// do 执行请求并解码 JSON；非 2xx 返回 *Error。
func (h *httpAPI) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := h.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode/100 != 2 {
		var er api.CommonResp[*jobdef.ValidationError]
		if json.Unmarshal(raw, &er) != nil || er.Message == "" {
			er.Message = strings.TrimSpace(string(raw))
		}
		return &Error{Status: res.StatusCode, Message: er.Message, Validation: er.Data}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
