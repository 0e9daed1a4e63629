package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/api"
	"github.com/mengeric/geoetl-go/config"
)

func TestBuildApp(t *testing.T) {
	Convey("按配置组装组件", t, func() {
		ctx := context.Background()

		Convey("memory 存储与队列", func() {
			a, err := buildApp(ctx, config.Config{}.WithDefaults())
			So(err, ShouldBeNil)
			defer a.Close()
			So(a.manager.TaskQueue(), ShouldEqual, "geoetl-tasks")
		})

		Convey("sqlite 存储自动建表", func() {
			cfg := config.Config{Store: config.Store{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "geoetl.db")}}.WithDefaults()
			a, err := buildApp(ctx, cfg)
			So(err, ShouldBeNil)
			defer a.Close()
			id, err := a.manager.Submit(ctx, "hello_world", map[string]any{"n": 1})
			So(err, ShouldBeNil)
			job, err := a.store.GetJob(ctx, id)
			So(err, ShouldBeNil)
			So(job.StageTaskCounts[1], ShouldEqual, 1)
		})

		Convey("未知驱动", func() {
			_, err := buildApp(ctx, config.Config{Store: config.Store{Driver: "mysql"}}.WithDefaults())
			So(err, ShouldNotBeNil)
			_, err = buildApp(ctx, config.Config{Queue: config.Queue{Driver: "kafka"}}.WithDefaults())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestJobCommands(t *testing.T) {
	Convey("作业命令通过 HTTP 客户端访问服务", t, func() {
		a, err := buildApp(context.Background(), config.Config{}.WithDefaults())
		So(err, ShouldBeNil)
		defer a.Close()
		srv := httptest.NewServer(api.NewHandler(a.manager))
		defer srv.Close()

		run := func(args ...string) (string, error) {
			var out bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetErr(&out)
			rootCmd.SetArgs(append(args, "--server", srv.URL))
			err := rootCmd.Execute()
			return strings.TrimSpace(out.String()), err
		}

		id, err := run("submit", "hello_world", "-p", `{"n":2}`)
		So(err, ShouldBeNil)
		So(id, ShouldHaveLength, 64)

		out, err := run("status", id)
		So(err, ShouldBeNil)
		So(out, ShouldContainSubstring, `"status": "queued"`)

		out, err = run("tasks", id, "1")
		So(err, ShouldBeNil)
		So(strings.Count(out, `"task_id"`), ShouldEqual, 2)

		_, err = run("cancel", id)
		So(err, ShouldBeNil)
		_, err = run("resubmit", id)
		So(err, ShouldNotBeNil)
		_, err = run("submit", "hello_world", "-p", "not-json")
		So(err, ShouldNotBeNil)
	})
}
