package metrics

import (
	"sync"
	"time"
)

// Monitor keeps a coarse service status snapshot for the health endpoint:
// last audit result, queue depths, anything a dashboard polls without
// scraping prometheus.
type Monitor struct {
	values    map[string]interface{}
	valuesMu  sync.RWMutex
	startTime time.Time
}

// NewMonitor creates a monitor anchored at the current time
func NewMonitor() *Monitor {
	return &Monitor{
		values:    make(map[string]interface{}),
		startTime: time.Now(),
	}
}

// Set records a status value
func (m *Monitor) Set(name string, value interface{}) {
	m.valuesMu.Lock()
	defer m.valuesMu.Unlock()
	m.values[name] = value
}

// Get returns a specific status value
func (m *Monitor) Get(name string) (interface{}, bool) {
	m.valuesMu.RLock()
	defer m.valuesMu.RUnlock()
	value, exists := m.values[name]
	return value, exists
}

// Snapshot returns a copy of all status values plus the service uptime
func (m *Monitor) Snapshot() map[string]interface{} {
	m.valuesMu.RLock()
	defer m.valuesMu.RUnlock()

	out := make(map[string]interface{}, len(m.values)+1)
	for k, v := range m.values {
		out[k] = v
	}
	out["uptime_seconds"] = time.Since(m.startTime).Seconds()
	return out
}
