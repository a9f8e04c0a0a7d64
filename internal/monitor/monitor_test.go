package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v4"

	"ollamabenchmark/internal/api"
)

type countingProbe struct {
	calls atomic.Int32
}

func (p *countingProbe) Name() string { return "counting" }

func (p *countingProbe) Collect(ctx context.Context, s *Sample) error {
	n := p.calls.Add(1)
	s.Host = &HostStats{CPUPercent: float64(n)}
	return nil
}

type failingProbe struct{}

func (failingProbe) Name() string { return "failing" }

func (failingProbe) Collect(ctx context.Context, s *Sample) error {
	return errors.New("sensor unavailable")
}

type blockingProbe struct{}

func (blockingProbe) Name() string { return "blocking" }

func (blockingProbe) Collect(ctx context.Context, s *Sample) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestMonitorImmediateSample(t *testing.T) {
	m := New(time.Hour, nil, &countingProbe{})
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return len(m.Samples()) == 1 }, time.Second, 5*time.Millisecond)

	samples := m.Stop()
	require.Len(t, samples, 1)
	assert.Equal(t, 1.0, samples[0].Host.CPUPercent)
}

func TestMonitorSamplesOnInterval(t *testing.T) {
	m := New(10*time.Millisecond, nil, &countingProbe{})
	require.NoError(t, m.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)
	samples := m.Stop()

	assert.GreaterOrEqual(t, len(samples), 3)
	for i := 1; i < len(samples); i++ {
		assert.False(t, samples[i].Timestamp.Before(samples[i-1].Timestamp), "samples must be timestamp ordered")
		assert.GreaterOrEqual(t, samples[i].Elapsed, samples[i-1].Elapsed)
	}
}

func TestMonitorNoSampleAfterStop(t *testing.T) {
	m := New(5*time.Millisecond, nil, &countingProbe{})
	require.NoError(t, m.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)

	stopped := m.Stop()
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, m.Samples(), len(stopped))
	assert.Len(t, m.Stop(), len(stopped), "second Stop must return the same samples")
}

func TestMonitorStopBeforeStart(t *testing.T) {
	m := New(time.Millisecond, nil, &countingProbe{})
	assert.Empty(t, m.Stop())
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestMonitorStartTwice(t *testing.T) {
	m := New(time.Hour, nil)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestMonitorProbeErrorRecorded(t *testing.T) {
	counting := &countingProbe{}
	m := New(10*time.Millisecond, nil, failingProbe{}, counting)
	require.NoError(t, m.Start(context.Background()))
	time.Sleep(35 * time.Millisecond)
	samples := m.Stop()

	require.NotEmpty(t, samples)
	for _, s := range samples {
		require.Len(t, s.Errors, 1)
		assert.Equal(t, "failing: sensor unavailable", s.Errors[0])
		assert.NotNil(t, s.Host, "later probes still run")
	}
}

func TestMonitorStopInterruptsProbe(t *testing.T) {
	m := New(time.Hour, nil, blockingProbe{})
	require.NoError(t, m.Start(context.Background()))

	done := make(chan []Sample)
	go func() { done <- m.Stop() }()

	select {
	case samples := <-done:
		assert.Empty(t, samples)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while a probe was blocked")
	}
}

func TestParseNvidiaSmi(t *testing.T) {
	out := "0, NVIDIA GeForce RTX 4090, 87, 20480, 24564, 71\n1, NVIDIA A100, [N/A], 0, 40960, 35\n"

	gpus, err := parseNvidiaSmi(out)
	require.NoError(t, err)
	require.Len(t, gpus, 2)

	assert.Equal(t, "NVIDIA GeForce RTX 4090", gpus[0].Name)
	assert.Equal(t, 87.0, gpus[0].Utilization)
	assert.Equal(t, uint64(20480)*1024*1024, gpus[0].MemoryUsed)
	assert.Equal(t, 71.0, gpus[0].Temperature)
	assert.Equal(t, 1, gpus[1].Index)
	assert.Equal(t, 0.0, gpus[1].Utilization)

	_, err = parseNvidiaSmi("garbage")
	assert.Error(t, err)
	_, err = parseNvidiaSmi("")
	assert.Error(t, err)
}

type fakeLister struct{}

func (fakeLister) RunningModels(ctx context.Context) ([]api.RunningModel, error) {
	return []api.RunningModel{{Name: "llama3:latest", Size: 10, SizeVRAM: 10}}, nil
}

func TestModelsProbe(t *testing.T) {
	var s Sample
	require.NoError(t, ModelsProbe{Lister: fakeLister{}}.Collect(context.Background(), &s))
	require.Len(t, s.Models, 1)
	assert.Equal(t, "llama3:latest", s.Models[0].Name)
}

func TestWriteFile(t *testing.T) {
	samples := []Sample{{
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Elapsed:   0,
		Host:      &HostStats{CPUPercent: 12.5, MemoryTotal: 1 << 30},
		GPUs:      []GPUStats{{Index: 0, Name: "gpu", Utilization: 50}},
		Models:    []api.RunningModel{{Name: "llama3"}},
		Errors:    []string{"process: denied"},
	}}

	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "monitoring.json")
	require.NoError(t, WriteFile(jsonPath, samples))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, 12.5, decoded[0]["host"].(map[string]any)["cpu_percent"])

	yamlPath := filepath.Join(dir, "monitoring.yaml")
	require.NoError(t, WriteFile(yamlPath, samples))
	data, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var yamlDecoded []map[string]any
	require.NoError(t, yaml.Unmarshal(data, &yamlDecoded))
	require.Len(t, yamlDecoded, 1)

	emptyPath := filepath.Join(dir, "empty.json")
	require.NoError(t, WriteFile(emptyPath, nil))
	data, err = os.ReadFile(emptyPath)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))
}

func TestSampleSummary(t *testing.T) {
	s := Sample{Elapsed: 1.5, Host: &HostStats{CPUPercent: 10, MemoryUsed: 1 << 30, MemoryTotal: 2 << 30}, Errors: []string{"x"}}
	assert.Equal(t, "t=1.5s cpu=10.0% mem=1.0 GiB/2.0 GiB errors=1", s.Summary())
}
