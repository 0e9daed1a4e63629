package idgen

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestJobID(t *testing.T) {
	Convey("相同参数不同插入顺序得到相同标识", t, func() {
		a := map[string]any{"n": 3, "message": "hi", "opts": map[string]any{"b": 1, "a": 2}}
		b := map[string]any{"opts": map[string]any{"a": 2, "b": 1}, "message": "hi", "n": 3}
		ida, err := JobID("hello_world", a)
		So(err, ShouldBeNil)
		idb, err := JobID("hello_world", b)
		So(err, ShouldBeNil)
		So(ida, ShouldEqual, idb)
		So(len(ida), ShouldEqual, 64)
	})

	Convey("不同作业类型相同参数得到不同标识", t, func() {
		p := map[string]any{"n": 3}
		x, _ := JobID("hello_world", p)
		y, _ := JobID("tile_raster", p)
		So(x, ShouldNotEqual, y)
	})

	Convey("整数与等值浮点数序列化一致", t, func() {
		x, _ := JobID("hello_world", map[string]any{"n": 3})
		y, _ := JobID("hello_world", map[string]any{"n": float64(3)})
		So(x, ShouldEqual, y)
	})

	Convey("字段边界无歧义", t, func() {
		x, _ := JobID("ab", map[string]any{"c": 1})
		y, _ := JobID("a", map[string]any{"bc": 1})
		So(x, ShouldNotEqual, y)
	})

	Convey("不可序列化参数返回错误", t, func() {
		_, err := JobID("hello_world", map[string]any{"ch": make(chan int)})
		So(err, ShouldNotBeNil)
	})
}

func TestTaskID(t *testing.T) {
	Convey("任务标识只由位置决定", t, func() {
		So(TaskID("j", 1, 0), ShouldEqual, TaskID("j", 1, 0))
		So(TaskID("j", 1, 0), ShouldNotEqual, TaskID("j", 2, 0))
		So(TaskID("j", 1, 0), ShouldNotEqual, TaskID("j", 1, 1))
	})

	Convey("重提交使用独立作用域", t, func() {
		So(AttemptScope("j", 1), ShouldEqual, "j")
		So(AttemptScope("j", 0), ShouldEqual, "j")
		So(AttemptScope("j", 2), ShouldEqual, "j#2")
		So(TaskID(AttemptScope("j", 2), 1, 0), ShouldNotEqual, TaskID("j", 1, 0))
	})
}
