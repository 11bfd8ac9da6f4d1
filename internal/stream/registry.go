package stream

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hookbin/hookbin/internal/metrics"
	"github.com/hookbin/hookbin/internal/models"
	"github.com/hookbin/hookbin/pkg/utils"
)

// Registry tracks live viewer connections per bin and fans newly captured
// entries out to them. It is constructed once at server start and injected
// wherever publishing happens; there is no ambient global state.
//
// Delivery is best-effort: a subscriber whose buffer is full at publish
// time is dropped (closed and removed) so one slow viewer can never stall
// the capture path or delivery to other viewers.
type Registry struct {
	config         *RegistryConfig
	logger         *logrus.Logger
	metricsManager *metrics.Manager

	mu      sync.RWMutex
	running bool
	bins    map[string]map[*Subscriber]struct{}

	stats RegistryStats
}

// RegistryConfig holds subscription registry configuration
type RegistryConfig struct {
	KeepAliveInterval time.Duration `json:"keep_alive_interval"`
	SubscriberBuffer  int           `json:"subscriber_buffer"`
}

// RegistryStats provides registry statistics
type RegistryStats struct {
	ActiveSubscribers int    `json:"active_subscribers"`
	TotalPublished    uint64 `json:"total_published"`
	TotalDropped      uint64 `json:"total_dropped"`
}

// Subscriber is one live viewer connection. It is Open from Subscribe
// until Unsubscribe (or bin deletion) closes it; Closed is terminal and
// no further sends are attempted.
type Subscriber struct {
	binID     string
	events    chan *models.LogEntry
	done      chan struct{}
	closeOnce sync.Once
}

// Events returns the channel new entries are delivered on. It is never
// closed; callers select on Done to detect teardown.
func (s *Subscriber) Events() <-chan *models.LogEntry {
	return s.events
}

// Done is closed when the subscriber is removed from the registry.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// NewRegistry creates a new subscription registry
func NewRegistry(config *RegistryConfig, metricsManager *metrics.Manager) *Registry {
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = 15 * time.Second
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = 16
	}

	return &Registry{
		config:         config,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
		bins:           make(map[string]map[*Subscriber]struct{}),
	}
}

// Start starts the registry
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Subscription registry already running", "")
	}

	r.logger.Info("Starting subscription registry")
	r.running = true
	return nil
}

// Stop stops the registry and force-closes every subscriber
func (r *Registry) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	r.logger.Info("Stopping subscription registry")

	for id, subs := range r.bins {
		for sub := range subs {
			sub.close()
		}
		delete(r.bins, id)
	}

	r.stats.ActiveSubscribers = 0
	r.running = false
	return nil
}

// IsHealthy reports whether the registry is running
func (r *Registry) IsHealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// KeepAliveInterval returns the configured keep-alive period
func (r *Registry) KeepAliveInterval() time.Duration {
	return r.config.KeepAliveInterval
}

// Subscribe registers a new subscriber for the bin and returns its handle
func (r *Registry) Subscribe(binID string) *Subscriber {
	sub := &Subscriber{
		binID:  binID,
		events: make(chan *models.LogEntry, r.config.SubscriberBuffer),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.bins[binID]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		r.bins[binID] = subs
	}
	subs[sub] = struct{}{}
	r.stats.ActiveSubscribers++

	r.logger.Debug("Subscriber registered", map[string]interface{}{"bin": binID, "subscribers": len(subs)})
	return sub
}

// Unsubscribe removes the subscriber; a no-op if it is already removed
func (r *Registry) Unsubscribe(binID string, sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(binID, sub)
}

func (r *Registry) removeLocked(binID string, sub *Subscriber) {
	subs, ok := r.bins[binID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}

	delete(subs, sub)
	if len(subs) == 0 {
		delete(r.bins, binID)
	}
	r.stats.ActiveSubscribers--
	sub.close()
}

// Publish delivers the entry to every subscriber currently registered for
// the bin. A subscriber that cannot accept the entry is removed; delivery
// to the others is unaffected and no error reaches the caller.
func (r *Registry) Publish(binID string, entry *models.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.bins[binID]
	if !ok {
		return
	}

	for sub := range subs {
		select {
		case sub.events <- entry:
			r.stats.TotalPublished++
			if r.metricsManager != nil {
				r.metricsManager.GetPrometheusMetrics().StreamEventsTotal.Inc()
			}
		default:
			r.logger.Warn("Dropping slow subscriber", map[string]interface{}{"bin": binID})
			r.removeLocked(binID, sub)
			r.stats.TotalDropped++
			if r.metricsManager != nil {
				r.metricsManager.GetPrometheusMetrics().DroppedSubscribers.Inc()
			}
		}
	}
}

// CloseBin force-closes every subscriber for the bin. Invoked when the
// bin is deleted.
func (r *Registry) CloseBin(binID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.bins[binID]
	if !ok {
		return
	}

	for sub := range subs {
		delete(subs, sub)
		r.stats.ActiveSubscribers--
		sub.close()
	}
	delete(r.bins, binID)

	r.logger.Debug("All subscribers closed", map[string]interface{}{"bin": binID})
}

// SubscriberCount returns the number of open subscribers for the bin
func (r *Registry) SubscriberCount(binID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bins[binID])
}

// GetStats returns registry statistics
func (r *Registry) GetStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}
