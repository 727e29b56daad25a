package metrics

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats 系统统计信息
type SystemStats struct {
	Timestamp time.Time   `json:"timestamp"`
	CPU       CPUStats    `json:"cpu"`
	Memory    MemoryStats `json:"memory"`
	Runtime   GoStats     `json:"runtime"`
	Host      HostStats   `json:"host"`
}

// CPUStats CPU统计信息
type CPUStats struct {
	UsagePercent float64 `json:"usage_percent"`
	Count        int     `json:"count"`
}

// MemoryStats 内存统计信息
type MemoryStats struct {
	Total        uint64  `json:"total"`
	Used         uint64  `json:"used"`
	UsagePercent float64 `json:"usage_percent"`
}

// GoStats Go运行时统计
type GoStats struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	NumGC      uint32 `json:"num_gc"`
}

// HostStats 主机信息
type HostStats struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Uptime   uint64 `json:"uptime"`
}

// CollectSystemStats 采集一次系统快照，供健康检查接口返回
func CollectSystemStats() *SystemStats {
	stats := &SystemStats{Timestamp: time.Now()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPU.UsagePercent = percents[0]
	}
	if count, err := cpu.Counts(true); err == nil {
		stats.CPU.Count = count
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.Memory = MemoryStats{
			Total:        vm.Total,
			Used:         vm.Used,
			UsagePercent: vm.UsedPercent,
		}
	}
	if info, err := host.Info(); err == nil {
		stats.Host = HostStats{
			Hostname: info.Hostname,
			OS:       info.OS,
			Uptime:   info.Uptime,
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats.Runtime = GoStats{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
	}

	return stats
}
