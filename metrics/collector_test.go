package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCollectHostMetric(t *testing.T) {
	Convey("采集不 panic 且评分在范围内", t, func() {
		m := CollectHostMetric(context.Background())
		So(m.CPUProcessors, ShouldBeGreaterThanOrEqualTo, 1)
		So(m.Score, ShouldBeGreaterThanOrEqualTo, 0)
		So(m.Score, ShouldBeLessThanOrEqualTo, 100)
	})

	Convey("快照写入仪表", t, func() {
		ObserveHost(HostMetric{CPULoad: 1.5, MemUsageRatio: 0.25, DiskUsageRatio: 0.5})
		So(testutil.ToFloat64(HostCPULoad), ShouldEqual, 1.5)
		So(testutil.ToFloat64(HostMemUsedRatio), ShouldEqual, 0.25)
		So(testutil.ToFloat64(HostDiskUsedRatio), ShouldEqual, 0.5)
	})
}
