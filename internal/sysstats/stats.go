// Package sysstats samples resource usage of the running process.
package sysstats

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// Stats is one resource sample.
type Stats struct {
	PID            int32         `json:"pid" yaml:"pid"`
	RSSBytes       uint64        `json:"rss_bytes" yaml:"rss_bytes"`
	CPUPercent     float64       `json:"cpu_percent" yaml:"cpu_percent"`
	Goroutines     int           `json:"goroutines" yaml:"goroutines"`
	HeapAllocBytes uint64        `json:"heap_alloc_bytes" yaml:"heap_alloc_bytes"`
	MemoryPercent  float64       `json:"system_memory_percent" yaml:"system_memory_percent"`
	Uptime         time.Duration `json:"uptime" yaml:"uptime"`
}

// Collector samples the current process.
type Collector struct {
	proc      *process.Process
	startTime time.Time
}

// NewCollector creates a collector for this process. Process level fields
// stay zero when the platform does not expose them.
func NewCollector() *Collector {
	c := &Collector{startTime: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

// Collect gathers a sample. Individual probes that fail are skipped.
func (c *Collector) Collect(ctx context.Context) Stats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := Stats{
		PID:            int32(os.Getpid()),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: ms.HeapAlloc,
		Uptime:         time.Since(c.startTime),
	}

	if c.proc != nil {
		if info, err := c.proc.MemoryInfoWithContext(ctx); err == nil {
			stats.RSSBytes = info.RSS
		}
		if pct, err := c.proc.CPUPercentWithContext(ctx); err == nil {
			stats.CPUPercent = pct
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = vm.UsedPercent
	}

	return stats
}
