package daemon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
)

// monitorInterval matches the teacher's SystemMonitor cadence.
const monitorInterval = 15 * time.Second

// ResourceStats is a point-in-time host load sample.
type ResourceStats struct {
	CPUPercent  float64
	LoadAverage float64
}

// ResourceMonitor samples host CPU/load periodically so the scheduler can
// cap how many source cycles it starts per tick and degrade gracefully under
// load, and so the status control command can surface it to operators.
type ResourceMonitor struct {
	logger *slog.Logger
	close  chan struct{}
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats ResourceStats
}

// NewResourceMonitor builds a ResourceMonitor. Start must be called to
// begin sampling; until the first sample completes, Stats returns the
// zero value, which callers should treat as "unknown, do not throttle".
func NewResourceMonitor(logger *slog.Logger) *ResourceMonitor {
	return &ResourceMonitor{
		logger: logger.With("component", "resource_monitor"),
		close:  make(chan struct{}),
	}
}

// Start begins periodic sampling in a background goroutine.
func (m *ResourceMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts sampling and waits for the background goroutine to exit.
func (m *ResourceMonitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Stats returns the most recently collected sample.
func (m *ResourceMonitor) Stats() ResourceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *ResourceMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *ResourceMonitor) collect() {
	var s ResourceStats

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if avg, err := load.Avg(); err == nil {
		s.LoadAverage = avg.Load1
	} else {
		m.logger.Debug("failed to collect load average", "error", err)
	}

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}
