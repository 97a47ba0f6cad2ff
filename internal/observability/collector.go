package observability

import (
	"maps"
	"sync"
	"time"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

// DegradedHitRate is the cache hit rate below which resolution is reported
// as degraded.
const DegradedHitRate = 0.7

// Collector accumulates resolution counters for the lifetime of the process.
// It is safe for concurrent use. Every update is mirrored to Prometheus when
// a Metrics value is attached.
type Collector struct {
	mu                  sync.Mutex
	cacheHits           uint64
	cacheMisses         uint64
	apiCalls            uint64
	fallbackActivations uint64
	tierSuccess         map[domain.Tier]uint64

	prom *Metrics
}

// NewCollector creates an empty Collector. prom may be nil.
func NewCollector(prom *Metrics) *Collector {
	return &Collector{
		tierSuccess: make(map[domain.Tier]uint64),
		prom:        prom,
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	CacheHits           uint64                 `json:"cache_hits"`
	CacheMisses         uint64                 `json:"cache_misses"`
	APICalls            uint64                 `json:"api_calls"`
	FallbackActivations uint64                 `json:"fallback_activations"`
	TierSuccess         map[domain.Tier]uint64 `json:"tier_success"`
}

// HitRate is hits over total lookups, or 0 when nothing was looked up.
func (s Snapshot) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Status reports "degraded" when at least one lookup happened and the hit
// rate is below DegradedHitRate, "healthy" otherwise.
func (s Snapshot) Status() string {
	if s.CacheHits+s.CacheMisses > 0 && s.HitRate() < DegradedHitRate {
		return "degraded"
	}
	return "healthy"
}

// RecordCacheHit counts a lookup answered from the cache.
func (c *Collector) RecordCacheHit() {
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.CacheLookups.WithLabelValues("hit").Inc()
	}
}

// RecordCacheMiss counts a lookup that had to go to the tiers.
func (c *Collector) RecordCacheMiss() {
	c.mu.Lock()
	c.cacheMisses++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// RecordAPICall counts one network attempt.
func (c *Collector) RecordAPICall() {
	c.mu.Lock()
	c.apiCalls++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.APICalls.Inc()
	}
}

// RecordTierAttempt records the outcome and latency of a tier attempt. Only
// successes feed the tier success table.
func (c *Collector) RecordTierAttempt(tier domain.Tier, ok bool, latency time.Duration) {
	if ok {
		c.mu.Lock()
		c.tierSuccess[tier]++
		c.mu.Unlock()
	}
	if c.prom == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "success"
	}
	c.prom.TierAttempts.WithLabelValues(string(tier), outcome).Inc()
	c.prom.TierDuration.WithLabelValues(string(tier)).Observe(latency.Seconds())
}

// RecordFallback counts a resolution that exhausted every tier.
func (c *Collector) RecordFallback() {
	c.mu.Lock()
	c.fallbackActivations++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.FallbackActivations.Inc()
	}
}

// Snapshot returns a copy that later updates do not affect.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		CacheHits:           c.cacheHits,
		CacheMisses:         c.cacheMisses,
		APICalls:            c.apiCalls,
		FallbackActivations: c.fallbackActivations,
		TierSuccess:         maps.Clone(c.tierSuccess),
	}
}

// HitRate is a shorthand for Snapshot().HitRate().
func (c *Collector) HitRate() float64 {
	return c.Snapshot().HitRate()
}

// Reset zeroes every counter. Prometheus counters are monotonic and are left
// untouched.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits = 0
	c.cacheMisses = 0
	c.apiCalls = 0
	c.fallbackActivations = 0
	c.tierSuccess = make(map[domain.Tier]uint64)
}
