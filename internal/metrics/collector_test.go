package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_CacheCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("tokenforge", reg, nil)

	c.CacheHit("tokens")
	c.CacheHit("tokens")
	c.CacheMiss("tokens")
	c.CacheSet("tokens")
	c.CacheEviction("tokens")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("tokens")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("tokens")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheSets.WithLabelValues("tokens")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheEvictions.WithLabelValues("tokens")))
}

func TestCollector_PreRenderObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("tokenforge", reg, nil)

	c.ObservePreRender("tokens-hover", 120*time.Millisecond, 18, 2, 1)

	assert.Equal(t, 18.0, testutil.ToFloat64(c.prerenderItems.WithLabelValues("tokens-hover", "rendered")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.prerenderItems.WithLabelValues("tokens-hover", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.prerenderItems.WithLabelValues("tokens-hover", "failed")))

	count, err := testutil.GatherAndCount(reg, "tokenforge_prerender_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors must be able to coexist when given their own
	// registries (as tests and embedded hosts do).
	a := NewCollector("tokenforge", prometheus.NewRegistry(), nil)
	b := NewCollector("tokenforge", prometheus.NewRegistry(), nil)

	a.CacheHit("x")
	b.CacheMiss("x")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.cacheHits.WithLabelValues("x")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.cacheMisses.WithLabelValues("x")))
}
