package gormstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mengeric/geoetl-go/state"
	"github.com/mengeric/geoetl-go/state/statetest"
)

var dbSeq atomic.Int64

// newTestStore 每次返回一个独立的内存 SQLite 库；单连接避免 SQLITE_BUSY。
func newTestStore(t *testing.T) *Store {
	dsn := fmt.Sprintf("file:geoetl_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := New(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStoreContract(t *testing.T) {
	statetest.Run(t, func(t *testing.T) state.Store { return newTestStore(t) })
}

func TestJSONColumns(t *testing.T) {
	Convey("嵌套结构经 JSON 列往返保持一致", t, func() {
		s := newTestStore(t)
		ctx := context.Background()
		job := &state.JobRecord{
			JobID: "j1", JobType: "hello_world", Status: state.JobQueued, Stage: 1, TotalStages: 2, Attempt: 1,
			Parameters: map[string]any{"n": float64(3), "message": "hi"},
			StageResults: map[int]state.StageResult{
				1: {Stage: 1, Status: state.StageCompletedWithErrors, TaskCount: 2, SuccessfulCount: 1, FailedCount: 1,
					ErrorSummary: []string{"boom"}, Results: []map[string]any{{"greeting": "hello"}}},
			},
			History: []state.AttemptRecord{{Attempt: 1, Status: state.JobFailed}},
		}
		ok, err := s.CreateJob(ctx, job)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		got, err := s.GetJob(ctx, "j1")
		So(err, ShouldBeNil)
		So(got.StageResults[1].ErrorSummary, ShouldResemble, []string{"boom"})
		So(got.StageResults[1].Results[0]["greeting"], ShouldEqual, "hello")
		So(got.History[0].Status, ShouldEqual, state.JobFailed)
		So(got.Parameters["message"], ShouldEqual, "hi")
	})
}
