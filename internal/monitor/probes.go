package monitor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"ollamabenchmark/internal/api"
)

// DefaultProbes returns the probes used by the speed command: host usage,
// the serving processes, NVIDIA GPUs when nvidia-smi is present, and the
// models loaded by the endpoint when the client can list them.
func DefaultProbes(client api.Client) []Probe {
	probes := []Probe{HostProbe{}, &ProcessProbe{Match: "ollama"}}
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		probes = append(probes, GPUProbe{})
	}
	if lister, ok := client.(api.RunningModelLister); ok {
		probes = append(probes, ModelsProbe{Lister: lister})
	}
	return probes
}

// HostProbe records machine wide CPU and memory usage.
type HostProbe struct{}

func (HostProbe) Name() string { return "host" }

func (HostProbe) Collect(ctx context.Context, s *Sample) error {
	// interval 0 compares against the previous call
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("cpu: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}

	host := &HostStats{
		MemoryTotal:   vm.Total,
		MemoryUsed:    vm.Used,
		MemoryPercent: vm.UsedPercent,
	}
	if len(percents) > 0 {
		host.CPUPercent = percents[0]
	}
	s.Host = host
	return nil
}

// ProcessProbe records usage of every process whose name contains Match.
type ProcessProbe struct {
	Match string

	procs map[int32]*process.Process
}

func (p *ProcessProbe) Name() string { return "process" }

func (p *ProcessProbe) Collect(ctx context.Context, s *Sample) error {
	all, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("listing processes: %w", err)
	}

	// keep Process handles between samples so CPUPercent has a baseline
	seen := make(map[int32]*process.Process)
	for _, proc := range all {
		name, err := proc.NameWithContext(ctx)
		if err != nil || !strings.Contains(strings.ToLower(name), strings.ToLower(p.Match)) {
			continue
		}
		if prev, ok := p.procs[proc.Pid]; ok {
			proc = prev
		}
		seen[proc.Pid] = proc

		stats := ProcessStats{PID: proc.Pid, Name: name}
		if pct, err := proc.CPUPercentWithContext(ctx); err == nil {
			stats.CPUPercent = pct
		}
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil && info != nil {
			stats.RSS = info.RSS
		}
		if n, err := proc.NumThreadsWithContext(ctx); err == nil {
			stats.Threads = n
		}
		s.Processes = append(s.Processes, stats)
	}
	p.procs = seen
	return nil
}

// GPUProbe queries nvidia-smi for utilization, memory and temperature.
type GPUProbe struct {
	// Path to nvidia-smi, looked up in PATH when empty
	Path string
}

func (GPUProbe) Name() string { return "gpu" }

func (g GPUProbe) Collect(ctx context.Context, s *Sample) error {
	path := g.Path
	if path == "" {
		path = "nvidia-smi"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, path,
		"--query-gpu=index,name,utilization.gpu,memory.used,memory.total,temperature.gpu",
		"--format=csv,noheader,nounits")
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("nvidia-smi: %w", err)
	}

	gpus, err := parseNvidiaSmi(string(output))
	if err != nil {
		return err
	}
	s.GPUs = gpus
	return nil
}

// parseNvidiaSmi parses csv,noheader,nounits output. Memory is in MiB.
func parseNvidiaSmi(output string) ([]GPUStats, error) {
	var gpus []GPUStats
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// nvidia-smi outputs CSV with ", " as delimiter
		parts := strings.Split(line, ", ")
		if len(parts) < 6 {
			return nil, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}

		index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("gpu index: %w", err)
		}
		gpu := GPUStats{
			Index:       index,
			Name:        strings.TrimSpace(parts[1]),
			Utilization: parseFloatOrZero(parts[2]),
			MemoryUsed:  uint64(parseFloatOrZero(parts[3]) * 1024 * 1024),
			MemoryTotal: uint64(parseFloatOrZero(parts[4]) * 1024 * 1024),
			Temperature: parseFloatOrZero(parts[5]),
		}
		gpus = append(gpus, gpu)
	}
	if len(gpus) == 0 {
		return nil, errors.New("nvidia-smi reported no gpus")
	}
	return gpus, nil
}

// parseFloatOrZero tolerates "[N/A]" and "[Not Supported]" fields.
func parseFloatOrZero(field string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0
	}
	return f
}

// ModelsProbe records the models loaded by the serving endpoint (/api/ps).
type ModelsProbe struct {
	Lister api.RunningModelLister
}

func (ModelsProbe) Name() string { return "models" }

func (m ModelsProbe) Collect(ctx context.Context, s *Sample) error {
	models, err := m.Lister.RunningModels(ctx)
	if err != nil {
		return err
	}
	s.Models = models
	return nil
}
