// Package metrics provides the prometheus collector for cache and
// pre-render observability. This package is internal and should not be
// imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the subsystem's metric vectors. It satisfies
// cache.Recorder so stores report hits, misses, sets and evictions
// without importing prometheus themselves.
type Collector struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheSets      *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec

	prerenderDuration *prometheus.HistogramVec
	prerenderItems    *prometheus.CounterVec

	invalidationsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the metric vectors with reg (the default
// registerer when nil). logger may be nil.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"store"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"store"},
	)

	c.cacheSets = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_sets_total",
			Help:      "Total number of cache writes",
		},
		[]string{"store"},
	)

	c.cacheEvictions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of cache evictions",
		},
		[]string{"store"},
	)

	c.prerenderDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prerender_duration_seconds",
			Help:      "Pre-render strategy invocation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"strategy"},
	)

	c.prerenderItems = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prerender_items_total",
			Help:      "Pre-rendered items by outcome",
		},
		[]string{"strategy", "outcome"}, // outcome: rendered, skipped, failed
	)

	c.invalidationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Invalidation events emitted by scope",
		},
		[]string{"scope"},
	)

	return c
}

// CacheHit implements cache.Recorder.
func (c *Collector) CacheHit(store string) { c.cacheHits.WithLabelValues(store).Inc() }

// CacheMiss implements cache.Recorder.
func (c *Collector) CacheMiss(store string) { c.cacheMisses.WithLabelValues(store).Inc() }

// CacheSet implements cache.Recorder.
func (c *Collector) CacheSet(store string) { c.cacheSets.WithLabelValues(store).Inc() }

// CacheEviction implements cache.Recorder.
func (c *Collector) CacheEviction(store string) { c.cacheEvictions.WithLabelValues(store).Inc() }

// ObservePreRender records one strategy invocation.
func (c *Collector) ObservePreRender(strategy string, duration time.Duration, rendered, skipped, failed int) {
	c.prerenderDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	c.prerenderItems.WithLabelValues(strategy, "rendered").Add(float64(rendered))
	c.prerenderItems.WithLabelValues(strategy, "skipped").Add(float64(skipped))
	c.prerenderItems.WithLabelValues(strategy, "failed").Add(float64(failed))
}

// ObserveInvalidation records one emitted event.
func (c *Collector) ObserveInvalidation(scope string) {
	c.invalidationsTotal.WithLabelValues(scope).Inc()
}
