package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMonitor_RunningCounter(t *testing.T) {
	m := New(zap.NewNop(), time.Hour)

	m.ExecutionStarted()
	m.ExecutionStarted()
	assert.Equal(t, 2, m.Stats().RunningScript)

	m.ExecutionFinished()
	assert.Equal(t, 1, m.Stats().RunningScript)

	// The counter never goes negative.
	m.ExecutionFinished()
	m.ExecutionFinished()
	assert.Equal(t, 0, m.Stats().RunningScript)
}

func TestMonitor_Collect(t *testing.T) {
	m := New(zap.NewNop(), time.Hour)

	m.collect()
	stats := m.Stats()
	assert.False(t, stats.CollectedAt.IsZero())
	assert.GreaterOrEqual(t, stats.MemoryUsage, 0.0)
}
