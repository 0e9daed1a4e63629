package memstore

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/state"
	"github.com/mengeric/geoetl-go/state/statetest"
)

func TestStoreContract(t *testing.T) {
	statetest.Run(t, func(t *testing.T) state.Store { return New() })
}

func TestReturnsCopies(t *testing.T) {
	Convey("外部修改不影响存储内容", t, func() {
		s := New()
		ctx := context.Background()
		params := map[string]any{"k": "v"}
		_, _ = s.CreateJob(ctx, &state.JobRecord{JobID: "j", Parameters: params})
		params["k"] = "changed"

		got, _ := s.GetJob(ctx, "j")
		So(got.Parameters["k"], ShouldEqual, "v")
		got.Parameters["k"] = "again"
		again, _ := s.GetJob(ctx, "j")
		So(again.Parameters["k"], ShouldEqual, "v")
	})
}
