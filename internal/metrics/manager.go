package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hookbin/hookbin/pkg/utils"
)

// Manager owns the hookbin metrics surface: the registered Prometheus
// collectors plus the background loop that refreshes system gauges and
// whatever per-component gauges the caller hooks in.
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Logger
	startTime  time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates the metrics manager and registers all collectors
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     utils.GetLogger(),
		startTime:  time.Now(),
		stop:       make(chan struct{}),
	}
}

// GetPrometheusMetrics returns the Prometheus metrics instance
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// UpdateSystemMetrics refreshes the memory, goroutine and uptime gauges
func (m *Manager) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.prometheus.UpdateMemoryUsage(memStats.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)
}

// StartUpdater refreshes system metrics on the given interval until
// StopUpdater is called. refresh, when non-nil, runs on every tick so the
// caller can update gauges the manager cannot observe itself (component
// health, open subscribers).
func (m *Manager) StartUpdater(interval time.Duration, refresh func(*PrometheusMetrics)) {
	m.logger.Info("Starting metrics updater", map[string]interface{}{
		"interval": interval,
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.UpdateSystemMetrics()
				if refresh != nil {
					refresh(m.prometheus)
				}
			}
		}
	}()
}

// StopUpdater stops the background refresh loop; safe to call twice
func (m *Manager) StopUpdater() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
}
