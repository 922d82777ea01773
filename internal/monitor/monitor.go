// Package monitor samples host resource usage and the count of running
// script executions, for the status API.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Stats is one sample of host and engine state.
type Stats struct {
	CPUUsage      float64   `json:"cpu_usage"`
	MemoryUsage   float64   `json:"memory_usage"`
	RunningScript int       `json:"running_scripts"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Monitor collects stats on a fixed interval.
type Monitor struct {
	logger   *zap.Logger
	interval time.Duration

	mu      sync.RWMutex
	stats   Stats
	running int
}

// New creates a monitor sampling at the given interval.
func New(logger *zap.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		logger:   logger.Named("monitor"),
		interval: interval,
	}
}

// Start begins the collection loop; it stops when ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	go m.collectLoop(ctx)
}

// ExecutionStarted bumps the running-execution counter.
func (m *Monitor) ExecutionStarted() {
	m.mu.Lock()
	m.running++
	m.mu.Unlock()
}

// ExecutionFinished decrements the running-execution counter.
func (m *Monitor) ExecutionFinished() {
	m.mu.Lock()
	if m.running > 0 {
		m.running--
	}
	m.mu.Unlock()
}

// Stats returns the latest sample.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := m.stats
	stats.RunningScript = m.running
	return stats
}

func (m *Monitor) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	var sample Stats
	sample.CollectedAt = time.Now().UTC()

	if cpuPercent, err := cpu.Percent(0, false); err != nil {
		m.logger.Debug("Failed to sample CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		sample.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		m.logger.Debug("Failed to sample memory usage", zap.Error(err))
	} else {
		sample.MemoryUsage = memInfo.UsedPercent
	}

	m.mu.Lock()
	sample.RunningScript = m.running
	m.stats = sample
	m.mu.Unlock()
}
