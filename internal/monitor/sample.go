package monitor

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"ollamabenchmark/internal/api"
)

// Sample is one timestamped resource snapshot.
type Sample struct {
	Timestamp time.Time          `json:"timestamp" yaml:"timestamp"`
	Elapsed   float64            `json:"elapsed" yaml:"elapsed"`
	Host      *HostStats         `json:"host,omitempty" yaml:"host,omitempty"`
	Processes []ProcessStats     `json:"processes,omitempty" yaml:"processes,omitempty"`
	GPUs      []GPUStats         `json:"gpus,omitempty" yaml:"gpus,omitempty"`
	Models    []api.RunningModel `json:"models,omitempty" yaml:"models,omitempty"`
	Errors    []string           `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// HostStats holds machine wide CPU and memory usage.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent" yaml:"cpu-percent"`
	MemoryTotal   uint64  `json:"memory_total" yaml:"memory-total"`
	MemoryUsed    uint64  `json:"memory_used" yaml:"memory-used"`
	MemoryPercent float64 `json:"memory_percent" yaml:"memory-percent"`
}

// ProcessStats holds usage of one serving process.
type ProcessStats struct {
	PID        int32   `json:"pid" yaml:"pid"`
	Name       string  `json:"name" yaml:"name"`
	CPUPercent float64 `json:"cpu_percent" yaml:"cpu-percent"`
	RSS        uint64  `json:"rss" yaml:"rss"`
	Threads    int32   `json:"threads" yaml:"threads"`
}

// GPUStats holds usage of one GPU as reported by nvidia-smi.
type GPUStats struct {
	Index       int     `json:"index" yaml:"index"`
	Name        string  `json:"name" yaml:"name"`
	Utilization float64 `json:"utilization" yaml:"utilization"`
	MemoryUsed  uint64  `json:"memory_used" yaml:"memory-used"`
	MemoryTotal uint64  `json:"memory_total" yaml:"memory-total"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// Summary is a one line description used in logs.
func (s Sample) Summary() string {
	out := fmt.Sprintf("t=%.1fs", s.Elapsed)
	if s.Host != nil {
		out += fmt.Sprintf(" cpu=%.1f%% mem=%s/%s", s.Host.CPUPercent,
			humanize.IBytes(s.Host.MemoryUsed), humanize.IBytes(s.Host.MemoryTotal))
	}
	for _, g := range s.GPUs {
		out += fmt.Sprintf(" gpu%d=%.0f%% vram=%s", g.Index, g.Utilization, humanize.IBytes(g.MemoryUsed))
	}
	if len(s.Errors) > 0 {
		out += fmt.Sprintf(" errors=%d", len(s.Errors))
	}
	return out
}
