package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/jobs/helloworld"
	"github.com/mengeric/geoetl-go/logging"
	"github.com/mengeric/geoetl-go/orchestrator"
	"github.com/mengeric/geoetl-go/processor"
	"github.com/mengeric/geoetl-go/queue/memqueue"
	"github.com/mengeric/geoetl-go/state"
	"github.com/mengeric/geoetl-go/storage/memstore"
)

func newManager(t *testing.T) *orchestrator.Manager {
	procs, err := processor.NewRegistry(helloworld.Processors())
	if err != nil {
		t.Fatal(err)
	}
	defs, err := jobdef.NewRegistry(procs, helloworld.Definition{})
	if err != nil {
		t.Fatal(err)
	}
	return orchestrator.NewManager(memstore.New(), memqueue.New(), defs, procs,
		orchestrator.WithLogger(logging.New(logging.Options{Output: io.Discard})))
}

func do(srv *httptest.Server, method, path string, body []byte, out any) int {
	req, _ := http.NewRequest(method, srv.URL+path, bytes.NewReader(body))
	res, err := http.DefaultClient.Do(req)
	So(err, ShouldBeNil)
	defer res.Body.Close()
	if out != nil {
		So(json.NewDecoder(res.Body).Decode(out), ShouldBeNil)
	}
	return res.StatusCode
}

func TestHandler(t *testing.T) {
	Convey("HTTP 接口", t, func() {
		m := newManager(t)
		srv := httptest.NewServer(NewHandler(m))
		defer srv.Close()

		var sub CommonResp[SubmitResp]
		code := do(srv, http.MethodPost, "/api/v1/jobs/hello_world", []byte(`{"n":2}`), &sub)
		So(code, ShouldEqual, http.StatusAccepted)
		So(sub.Success, ShouldBeTrue)
		So(sub.Data.JobID, ShouldHaveLength, 64)
		id := sub.Data.JobID

		Convey("查询作业与任务", func() {
			var job CommonResp[state.JobRecord]
			So(do(srv, http.MethodGet, "/api/v1/jobs/"+id, nil, &job), ShouldEqual, http.StatusOK)
			So(job.Data.Status, ShouldEqual, state.JobQueued)
			So(job.Data.TotalStages, ShouldEqual, 2)

			var tasks CommonResp[[]state.TaskRecord]
			So(do(srv, http.MethodGet, "/api/v1/jobs/"+id+"/tasks?stage=1", nil, &tasks), ShouldEqual, http.StatusOK)
			So(tasks.Data, ShouldHaveLength, 2)
			So(do(srv, http.MethodGet, "/api/v1/jobs/"+id+"/tasks?stage=x", nil, nil), ShouldEqual, http.StatusBadRequest)
		})

		Convey("参数校验失败返回字段与约束", func() {
			var resp CommonResp[jobdef.ValidationError]
			So(do(srv, http.MethodPost, "/api/v1/jobs/hello_world", []byte(`{"n":0}`), &resp), ShouldEqual, http.StatusBadRequest)
			So(resp.Success, ShouldBeFalse)
			So(resp.Data.Field, ShouldEqual, "n")
			So(resp.Data.Constraint, ShouldNotBeEmpty)
			So(do(srv, http.MethodPost, "/api/v1/jobs/hello_world", []byte(`[1]`), nil), ShouldEqual, http.StatusBadRequest)
		})

		Convey("未知作业类型与不存在的作业返回 404", func() {
			So(do(srv, http.MethodPost, "/api/v1/jobs/nope", nil, nil), ShouldEqual, http.StatusNotFound)
			So(do(srv, http.MethodGet, "/api/v1/jobs/missing", nil, nil), ShouldEqual, http.StatusNotFound)
		})

		Convey("取消与重提交", func() {
			So(do(srv, http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil, nil), ShouldEqual, http.StatusAccepted)
			var resp CommonResp[any]
			So(do(srv, http.MethodPost, "/api/v1/jobs/"+id+"/resubmit", nil, &resp), ShouldEqual, http.StatusConflict)
			So(resp.Message, ShouldContainSubstring, "not resubmittable")
		})

		Convey("健康检查与指标", func() {
			So(do(srv, http.MethodGet, "/healthz", nil, nil), ShouldEqual, http.StatusOK)
			res, err := http.Get(srv.URL + "/metrics")
			So(err, ShouldBeNil)
			b, _ := io.ReadAll(res.Body)
			res.Body.Close()
			So(string(b), ShouldContainSubstring, "geoetl_orchestrator_jobs_submitted_total")
		})
	})
}

type brokenService struct{ Service }

func (brokenService) GetJob(context.Context, string) (*state.JobRecord, error) {
	return nil, errors.New("db down")
}

func TestHandlerInternalError(t *testing.T) {
	Convey("未知错误返回 500", t, func() {
		srv := httptest.NewServer(NewHandler(brokenService{}))
		defer srv.Close()
		var resp CommonResp[any]
		So(do(srv, http.MethodGet, "/api/v1/jobs/x", nil, &resp), ShouldEqual, http.StatusInternalServerError)
		So(resp.Message, ShouldEqual, "db down")
	})
}
