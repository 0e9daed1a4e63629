package telemetry

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	Convey("未配置 endpoint 时只设置传播器", t, func() {
		shutdown, err := InitTracer(context.Background(), "geoetl-test", "")
		So(err, ShouldBeNil)
		So(shutdown, ShouldNotBeNil)
		shutdown()
		So(otel.GetTextMapPropagator().Fields(), ShouldContain, "traceparent")
	})

	Convey("配置 endpoint 时注册导出器，shutdown 可重复调用", t, func() {
		shutdown, err := InitTracer(context.Background(), "geoetl-test", "127.0.0.1:4318")
		So(err, ShouldBeNil)
		shutdown()
		shutdown()
	})
}
