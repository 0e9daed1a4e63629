package backoff

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestExponential(t *testing.T) {
	Convey("指数增长并封顶", t, func() {
		e := Exponential{Base: 2 * time.Second, Multiplier: 2, Max: 10 * time.Second}
		So(e.Delay(1), ShouldEqual, 2*time.Second)
		So(e.Delay(2), ShouldEqual, 4*time.Second)
		So(e.Delay(3), ShouldEqual, 8*time.Second)
		So(e.Delay(4), ShouldEqual, 10*time.Second)
		So(e.Delay(0), ShouldEqual, 2*time.Second)
	})

	Convey("倍数不大于 1 时为常量", t, func() {
		e := Exponential{Base: time.Second, Multiplier: 0.5}
		So(e.Delay(5), ShouldEqual, time.Second)
	})

	Convey("秒数配置转换", t, func() {
		e := FromSeconds(0.5, 3, 300)
		So(e.Delay(1), ShouldEqual, 500*time.Millisecond)
		So(e.Delay(2), ShouldEqual, 1500*time.Millisecond)
		So(e.Max, ShouldEqual, 300*time.Second)
	})

	Convey("Constant", t, func() {
		So(Constant{Interval: time.Millisecond}.Delay(9), ShouldEqual, time.Millisecond)
	})
}
