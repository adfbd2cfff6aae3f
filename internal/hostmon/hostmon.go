// Package hostmon collects the relay process's own resource usage for the
// optional "host" object in GET /stats: informational only, never
// consulted by any core decision.
package hostmon

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is the host object exposed alongside the per-publisher map.
type Stats struct {
	CPUPercent  float64 `json:"cpuPercent"`
	MemUsedBytes uint64 `json:"memUsedBytes"`
	Goroutines  int     `json:"goroutines"`
}

// Monitor samples host stats on an interval and caches the latest reading,
// the way nishisan-dev-n-backup's SystemMonitor does for its agent.
type Monitor struct {
	mu    sync.RWMutex
	stats Stats

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor creates a Monitor that has not yet started sampling.
func NewMonitor() *Monitor {
	return &Monitor{stop: make(chan struct{})}
}

// Start begins periodic collection every interval until Stop is called.
func (m *Monitor) Start(interval time.Duration) {
	m.collect()
	m.wg.Add(1)
	go m.run(interval)
}

// Stop halts collection.
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Monitor) run(interval time.Duration) {
	defer m.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	var s Stats
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if v, err := mem.VirtualMemory(); err == nil {
		s.MemUsedBytes = v.Used
	}
	s.Goroutines = runtime.NumGoroutine()

	m.mu.Lock()
	m.stats = s
	m.mu.Unlock()
}

// Stats returns the most recently collected sample.
func (m *Monitor) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
