// Package metrics holds the prometheus collectors for the store: lock
// waits, lock outcomes, cache lookups and rejected writes.
//
// A nil *Metrics is valid and records nothing, so components can take an
// optional *Metrics without nil checks at every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "courtbook"

// Lock acquisition results.
const (
	LockAcquired = "acquired"
	LockStolen   = "stolen"
	LockTimeout  = "timeout"
	LockError    = "error"
)

// Cache lookup results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// Metrics bundles the store's collectors.
type Metrics struct {
	lockWait     *prometheus.HistogramVec
	lockResults  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	rejected     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered, which is useful in tests that only read values back.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a data file lock.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"resource"}),
		lockResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Data file lock attempts by outcome.",
		}, []string{"resource", "result"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Read cache lookups by outcome.",
		}, []string{"cache", "result"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_writes_total",
			Help:      "Writes rejected by an invariant check, by error code.",
		}, []string{"kind"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.lockWait, m.lockResults, m.cacheLookups, m.rejected} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveLock records one lock attempt on resource.
func (m *Metrics) ObserveLock(resource, result string, waited time.Duration) {
	if m == nil {
		return
	}

	m.lockWait.WithLabelValues(resource).Observe(waited.Seconds())
	m.lockResults.WithLabelValues(resource, result).Inc()
}

// ObserveCache records one cache lookup.
func (m *Metrics) ObserveCache(cache string, hit bool) {
	if m == nil {
		return
	}

	result := CacheMiss
	if hit {
		result = CacheHit
	}

	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveRejected records a write refused by an invariant (conflict,
// duplicate email, ...).
func (m *Metrics) ObserveRejected(kind string) {
	if m == nil {
		return
	}

	m.rejected.WithLabelValues(kind).Inc()
}

// LockResults exposes the lock counter for assertions.
func (m *Metrics) LockResults() *prometheus.CounterVec { return m.lockResults }

// CacheLookups exposes the cache counter for assertions.
func (m *Metrics) CacheLookups() *prometheus.CounterVec { return m.cacheLookups }

// Rejected exposes the rejected-writes counter for assertions.
func (m *Metrics) Rejected() *prometheus.CounterVec { return m.rejected }
