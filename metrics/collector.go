package metrics

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostMetric 工作进程所在主机的资源快照。
type HostMetric struct {
	CPULoad        float64 `json:"cpu_load"`
	CPUProcessors  int     `json:"cpu_processors"`
	DiskTotalGB    float64 `json:"disk_total_gb"`
	DiskUsedGB     float64 `json:"disk_used_gb"`
	DiskUsageRatio float64 `json:"disk_usage_ratio"`
	MemTotalGB     float64 `json:"mem_total_gb"`
	MemUsageRatio  float64 `json:"mem_usage_ratio"`
	ProcUsedMemGB  float64 `json:"proc_used_mem_gb"`
	Score          float64 `json:"score"`
}

// CollectHostMetric 采集系统/进程指标；单项采集失败时该项保持零值。
func CollectHostMetric(ctx context.Context) HostMetric {
	var out HostMetric
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.CPULoad = avg.Load1
	}
	out.CPUProcessors = runtime.NumCPU()
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil && du.Total > 0 {
		out.DiskTotalGB = float64(du.Total) / (1024 * 1024 * 1024)
		out.DiskUsedGB = float64(du.Used) / (1024 * 1024 * 1024)
		out.DiskUsageRatio = du.UsedPercent / 100.0
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		out.MemTotalGB = float64(vm.Total) / (1024 * 1024 * 1024)
		out.MemUsageRatio = vm.UsedPercent / 100.0
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pm, err := p.MemoryInfoWithContext(ctx); err == nil && pm != nil {
			out.ProcUsedMemGB = float64(pm.RSS) / (1024 * 1024 * 1024)
		}
	}
	// 评分：负载、磁盘、内存越高分越低，用于日志中快速判断节点是否过载
	score := 100.0
	if out.CPUProcessors > 0 {
		score -= out.CPULoad / float64(out.CPUProcessors) * 40
	}
	score -= out.DiskUsageRatio * 20
	score -= out.MemUsageRatio * 30
	if score < 0 {
		score = 0
	}
	out.Score = score
	return out
}

// ObserveHost 将快照写入 Prometheus 仪表。
func ObserveHost(m HostMetric) {
	HostCPULoad.Set(m.CPULoad)
	HostMemUsedRatio.Set(m.MemUsageRatio)
	HostDiskUsedRatio.Set(m.DiskUsageRatio)
}
