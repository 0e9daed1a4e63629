package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/api"
	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/state"
)

func TestHTTPAPI(t *testing.T) {
	Convey("客户端请求与解码", t, func() {
		var lastBody map[string]any
		var stageQuery, cancelMethod string
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v1/jobs/hello_world", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&lastBody)
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(api.CommonResp[api.SubmitResp]{Success: true, Data: api.SubmitResp{JobID: "abc"}})
		})
		mux.HandleFunc("/api/v1/jobs/abc", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(api.CommonResp[state.JobRecord]{Success: true, Data: state.JobRecord{JobID: "abc", Status: state.JobCompleted}})
		})
		mux.HandleFunc("/api/v1/jobs/abc/tasks", func(w http.ResponseWriter, r *http.Request) {
			stageQuery = r.URL.Query().Get("stage")
			_ = json.NewEncoder(w).Encode(api.CommonResp[[]state.TaskRecord]{Success: true, Data: []state.TaskRecord{{TaskID: "abc-s2-t0"}}})
		})
		mux.HandleFunc("/api/v1/jobs/abc/cancel", func(w http.ResponseWriter, r *http.Request) {
			cancelMethod = r.Method
			w.WriteHeader(http.StatusAccepted)
		})
		mux.HandleFunc("/api/v1/jobs/abc/resubmit", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(api.CommonResp[any]{Message: "job is queued"})
		})
		mux.HandleFunc("/api/v1/jobs/bad", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(api.CommonResp[jobdef.ValidationError]{
				Message: "invalid parameter", Data: jobdef.ValidationError{Field: "n", Constraint: "minimum"},
			})
		})
		ts := httptest.NewServer(mux)
		defer ts.Close()
		c := New(ts.URL + "/")
		ctx := context.Background()

		id, err := c.Submit(ctx, "hello_world", map[string]any{"n": 3})
		So(err, ShouldBeNil)
		So(id, ShouldEqual, "abc")
		So(lastBody["n"], ShouldEqual, float64(3))

		job, err := c.GetJob(ctx, "abc")
		So(err, ShouldBeNil)
		So(job.Status, ShouldEqual, state.JobCompleted)

		tasks, err := c.ListTasks(ctx, "abc", 2)
		So(err, ShouldBeNil)
		So(tasks, ShouldHaveLength, 1)
		So(stageQuery, ShouldEqual, "2")

		So(c.Cancel(ctx, "abc"), ShouldBeNil)
		So(cancelMethod, ShouldEqual, http.MethodPost)

		err = c.Resubmit(ctx, "abc")
		So(errors.Is(err, ErrNotResubmittable), ShouldBeTrue)

		_, err = c.Submit(ctx, "bad", nil)
		var ce *Error
		So(errors.As(err, &ce), ShouldBeTrue)
		So(errors.Is(err, ErrInvalidParams), ShouldBeTrue)
		So(ce.Validation.Field, ShouldEqual, "n")

		_, err = c.GetJob(ctx, "missing")
		So(errors.Is(err, ErrNotFound), ShouldBeTrue)
	})
}
