// Package monitor samples system resources on a fixed interval, independently
// of the requests being benchmarked.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ollamabenchmark/internal/logging"
)

const DefaultInterval = time.Second

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("monitor already started")

// Probe fills its part of a sample. A returned error is recorded in the
// sample and does not stop sampling.
type Probe interface {
	Name() string
	Collect(ctx context.Context, s *Sample) error
}

// Monitor takes one sample on Start and then one per tick until Stop.
//
//	m := monitor.New(time.Second, logger, monitor.HostProbe{})
//	m.Start(ctx)
//	defer m.Stop()
type Monitor struct {
	interval time.Duration
	probes   []Probe
	logger   *logging.Logger

	mu      sync.Mutex
	samples []Sample
	started bool
	start   time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a monitor. A non-positive interval falls back to DefaultInterval.
func New(interval time.Duration, logger *logging.Logger, probes ...Probe) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Monitor{
		interval: interval,
		probes:   probes,
		logger:   logger,
	}
}

// Interval returns the sampling interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Start launches the sampling goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	m.start = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.logger.Debug("resource monitor started with interval %s and %d probes", m.interval, len(m.probes))
	go m.run(ctx)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	now := time.Now()
	s := Sample{
		Timestamp: now.UTC(),
		Elapsed:   now.Sub(m.start).Seconds(),
	}

	for _, p := range m.probes {
		if err := p.Collect(ctx, &s); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.WarnWithFields("monitoring probe failed", map[string]interface{}{
				"probe": p.Name(),
				"error": err.Error(),
			})
			s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", p.Name(), err))
		}
	}

	// a sample interrupted by Stop is dropped
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.mu.Unlock()
	m.logger.Debug("monitor sample %s", s.Summary())
}

// Stop ends sampling and returns the collected samples. It is safe to call
// more than once and before Start. No sample is appended once Stop returns.
func (m *Monitor) Stop() []Sample {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		cancel, done := m.cancel, m.done
		m.started = true
		m.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
			m.logger.Debug("resource monitor stopped after %d samples", len(m.Samples()))
		}
	})
	return m.Samples()
}

// Samples returns a copy of the samples collected so far, in timestamp order.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}
