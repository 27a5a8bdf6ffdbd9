// Package resilience tracks the health of the market data feeds.
package resilience

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

func (s HealthStatus) rank() int {
	switch s {
	case HealthStatusHealthy:
		return 0
	case HealthStatusUnknown:
		return 1
	case HealthStatusDegraded:
		return 2
	default:
		return 3
	}
}

// ComponentHealth represents the health of a single feed.
type ComponentHealth struct {
	Name                string        `json:"name"`
	Status              HealthStatus  `json:"status"`
	Message             string        `json:"message,omitempty"`
	LastCheck           time.Time     `json:"last_check"`
	LastSuccess         time.Time     `json:"last_success,omitempty"`
	Latency             time.Duration `json:"latency"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// HealthMonitorConfig holds health monitor configuration.
type HealthMonitorConfig struct {
	// StaleAfter marks a feed degraded when its last success is older.
	StaleAfter time.Duration
	// UnhealthyAfter is the number of consecutive failures that make a
	// feed unhealthy.
	UnhealthyAfter int
}

// DefaultHealthMonitorConfig returns default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		StaleAfter:     15 * time.Minute,
		UnhealthyAfter: 3,
	}
}

// HealthMonitor records fetch outcomes per feed. A nil *HealthMonitor is
// valid and records nothing.
type HealthMonitor struct {
	mu sync.RWMutex

	cfg        HealthMonitorConfig
	startTime  time.Time
	components map[string]*ComponentHealth
	now        func() time.Time

	totalChecks  int64
	failedChecks int64
}

// NewHealthMonitor creates a new health monitor.
func NewHealthMonitor(cfg HealthMonitorConfig) *HealthMonitor {
	def := DefaultHealthMonitorConfig()
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.UnhealthyAfter <= 0 {
		cfg.UnhealthyAfter = def.UnhealthyAfter
	}
	return &HealthMonitor{
		cfg:        cfg,
		startTime:  time.Now(),
		components: make(map[string]*ComponentHealth),
		now:        time.Now,
	}
}

// RegisterComponent makes a feed visible before its first fetch.
func (m *HealthMonitor) RegisterComponent(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.components[name]; !ok {
		m.components[name] = &ComponentHealth{Name: name, Status: HealthStatusUnknown}
	}
}

// RecordFetch records the outcome of one fetch of the named feed.
func (m *HealthMonitor) RecordFetch(name string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[name]
	if !ok {
		c = &ComponentHealth{Name: name}
		m.components[name] = c
	}

	now := m.now()
	m.totalChecks++
	c.LastCheck = now
	c.Latency = latency

	if err != nil {
		m.failedChecks++
		c.ConsecutiveFailures++
		c.Message = err.Error()
		return
	}
	c.ConsecutiveFailures = 0
	c.LastSuccess = now
	c.Message = ""
}

func (m *HealthMonitor) evaluate(c ComponentHealth, now time.Time) ComponentHealth {
	switch {
	case c.LastCheck.IsZero():
		c.Status = HealthStatusUnknown
	case c.ConsecutiveFailures >= m.cfg.UnhealthyAfter, c.LastSuccess.IsZero():
		c.Status = HealthStatusUnhealthy
	case c.ConsecutiveFailures > 0:
		c.Status = HealthStatusDegraded
	case now.Sub(c.LastSuccess) > m.cfg.StaleAfter:
		c.Status = HealthStatusDegraded
		c.Message = "data is stale"
	default:
		c.Status = HealthStatusHealthy
	}
	return c
}

// GetComponentHealth returns health for a specific feed.
func (m *HealthMonitor) GetComponentHealth(name string) (ComponentHealth, bool) {
	if m == nil {
		return ComponentHealth{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.components[name]
	if !ok {
		return ComponentHealth{}, false
	}
	return m.evaluate(*c, m.now()), true
}

// SystemHealth represents overall health.
type SystemHealth struct {
	Status        HealthStatus      `json:"status"`
	Uptime        time.Duration     `json:"uptime"`
	StartTime     time.Time         `json:"start_time"`
	Components    []ComponentHealth `json:"components"`
	Goroutines    int               `json:"goroutines"`
	MemoryAllocMB uint64            `json:"memory_alloc_mb"`
	TotalChecks   int64             `json:"total_checks"`
	FailedChecks  int64             `json:"failed_checks"`
}

// GetHealth returns the current health status. The overall status is the
// worst component status; with no components it is UNKNOWN.
func (m *HealthMonitor) GetHealth() SystemHealth {
	if m == nil {
		return SystemHealth{Status: HealthStatusUnknown}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	now := m.now()
	overall := HealthStatusUnknown
	components := make([]ComponentHealth, 0, len(m.components))
	for i, c := range m.sortedNames() {
		h := m.evaluate(*m.components[c], now)
		if i == 0 || h.Status.rank() > overall.rank() {
			overall = h.Status
		}
		components = append(components, h)
	}

	return SystemHealth{
		Status:        overall,
		Uptime:        now.Sub(m.startTime),
		StartTime:     m.startTime,
		Components:    components,
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: memStats.Alloc / 1024 / 1024,
		TotalChecks:   m.totalChecks,
		FailedChecks:  m.failedChecks,
	}
}

func (m *HealthMonitor) sortedNames() []string {
	names := make([]string, 0, len(m.components))
	for n := range m.components {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsHealthy returns true unless some feed is unhealthy.
func (m *HealthMonitor) IsHealthy() bool {
	return m.GetHealth().Status != HealthStatusUnhealthy
}
