package helloworld

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mengeric/geoetl-go/jobdef"
	"github.com/mengeric/geoetl-go/processor"
	"github.com/mengeric/geoetl-go/state"
)

func TestDefinition(t *testing.T) {
	def := Definition{}
	procs, err := processor.NewRegistry(Processors())
	if err != nil {
		t.Fatal(err)
	}

	Convey("注册表交叉校验通过", t, func() {
		_, err := jobdef.NewRegistry(procs, def)
		So(err, ShouldBeNil)
	})

	Convey("阶段一按 n 扇出", t, func() {
		params, err := def.ParameterSchema().Validate(map[string]any{"n": 3, "message": "hi", "fail_indices": []any{1}})
		So(err, ShouldBeNil)
		specs, err := def.CreateTasks(jobdef.StageContext{Stage: 1, Parameters: params})
		So(err, ShouldBeNil)
		So(len(specs), ShouldEqual, 3)
		So(specs[0].Parameters["message"], ShouldEqual, "hi")
		So(specs[1].Parameters["fail"], ShouldBeTrue)
		So(specs[2].Parameters["fail"], ShouldBeFalse)
	})

	Convey("阶段二使用上一阶段聚合结果", t, func() {
		sc := jobdef.StageContext{Stage: 2, PriorResults: map[int]state.StageResult{
			1: {Stage: 1, SuccessfulCount: 2, Results: []map[string]any{{"greeting": "a"}, {"greeting": "b"}}},
		}}
		So(def.ValidatePrerequisites(sc), ShouldBeTrue)
		specs, err := def.CreateTasks(sc)
		So(err, ShouldBeNil)
		So(len(specs), ShouldEqual, 2)
		So(specs[1].Parameters["greeting"], ShouldEqual, "b")

		So(def.ValidatePrerequisites(jobdef.StageContext{Stage: 2}), ShouldBeFalse)
	})

	Convey("skip_reply 跳过阶段二", t, func() {
		So(def.ShouldSkip(jobdef.StageContext{Stage: 2, Parameters: map[string]any{"skip_reply": true}}), ShouldBeTrue)
		So(def.ShouldSkip(jobdef.StageContext{Stage: 1, Parameters: map[string]any{"skip_reply": true}}), ShouldBeFalse)
	})

	Convey("处理器行为", t, func() {
		ctx := context.Background()
		p, _ := procs.Get(GreetingTaskType)
		out, err := p.Process(ctx, map[string]any{"message": "hi", "task_index": float64(2)}, processor.TaskContext{})
		So(err, ShouldBeNil)
		So(out["greeting"], ShouldEqual, "hi from task 2")

		_, err = p.Process(ctx, map[string]any{"message": "hi", "fail": true}, processor.TaskContext{})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldEqual, "boom")

		r, _ := procs.Get(ReplyTaskType)
		out, err = r.Process(ctx, map[string]any{"greeting": "g"}, processor.TaskContext{})
		So(err, ShouldBeNil)
		So(out["reply"], ShouldEqual, "reply to: g")
	})
}
