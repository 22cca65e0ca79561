package chunkengine

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// pressureThresholdPct is the used-memory percentage at or above which
// the engine considers the host under memory pressure: it then clears
// its chunk cache and sizes new chunks with PressureAdjustedChunkSize.
// The cache's capacity itself is left unchanged.
const pressureThresholdPct = 85.0

// PressureMonitor periodically samples host memory via gopsutil and
// exposes a cheap, lock-protected IsUnderPressure() the chunk engine
// polls on every batch. Sampling less often than every call avoids
// gopsutil's /proc read becoming a hot-path cost.
type PressureMonitor struct {
	mu        sync.RWMutex
	pressure  bool
	interval  time.Duration
	lastCheck time.Time
}

// NewPressureMonitor creates a monitor that re-samples at most once
// per interval.
func NewPressureMonitor(interval time.Duration) *PressureMonitor {
	return &PressureMonitor{interval: interval}
}

// IsUnderPressure reports the most recently sampled pressure state,
// refreshing the sample if the interval has elapsed.
func (p *PressureMonitor) IsUnderPressure() bool {
	p.mu.RLock()
	stale := time.Since(p.lastCheck) >= p.interval
	current := p.pressure
	p.mu.RUnlock()

	if !stale {
		return current
	}

	sampled := sampleMemoryPressure()

	p.mu.Lock()
	p.pressure = sampled
	p.lastCheck = time.Now()
	p.mu.Unlock()

	return sampled
}

func sampleMemoryPressure() bool {
	v, err := mem.VirtualMemory()
	if err != nil {
		return false
	}
	return v.UsedPercent >= pressureThresholdPct
}
