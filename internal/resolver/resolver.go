// Package resolver obtains a source payload by walking its acquisition tiers
// in priority order, consulting the cache first and populating it with the
// first tier that succeeds.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/indicator-etl/internal/cache"
	"github.com/couchcryptid/indicator-etl/internal/domain"
	"github.com/couchcryptid/indicator-etl/internal/observability"
)

// MaxRetries is the most a network tier is retried within one resolution.
const MaxRetries = 1

var errEmptyPayload = errors.New("empty payload")

// Cache is the subset of the cache store the resolver depends on.
type Cache interface {
	Get(ctx context.Context, key string, ttl time.Duration) (cache.Entry, bool)
	Put(ctx context.Context, key string, payload []byte, tier domain.Tier) bool
	Clear(ctx context.Context, prefix string) (int64, error)
}

// Route is an ordered tier list with the endpoint URL or file glob for each tier.
type Route struct {
	Tiers     []domain.Tier
	Locations map[domain.Tier]string
}

// SourceConfig describes how one source is reached. Indicators override the
// source route per indicator: a non-empty tier list replaces the source's,
// and each location set there takes precedence over the source's.
type SourceConfig struct {
	Route
	Indicators map[string]Route
}

// Options configures a Resolver.
type Options struct {
	Sources map[string]SourceConfig
	TTLs    domain.TTLs
	// Retries applies to network tiers only and is capped at MaxRetries.
	Retries    int
	RetryDelay time.Duration
}

// Result is a successfully resolved payload.
type Result struct {
	Payload   []byte
	Tier      domain.Tier
	FromCache bool
}

// Resolver is safe for concurrent use. Concurrent resolutions of the same
// (source, indicator) are not coalesced.
type Resolver struct {
	cache     Cache
	fetchers  map[domain.Tier]domain.Fetcher
	opts      Options
	collector *observability.Collector
	clock     clockwork.Clock
	logger    *slog.Logger
}

// New creates a Resolver. fetchers maps each tier to the fetcher serving it.
func New(c Cache, fetchers map[domain.Tier]domain.Fetcher, opts Options, collector *observability.Collector, clock clockwork.Clock, logger *slog.Logger) *Resolver {
	if opts.TTLs == nil {
		opts.TTLs = domain.DefaultTTLs()
	}
	if opts.Retries > MaxRetries {
		opts.Retries = MaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Resolver{
		cache:     c,
		fetchers:  fetchers,
		opts:      opts,
		collector: collector,
		clock:     clock,
		logger:    logger,
	}
}

// Resolve returns the freshest available payload for (source, indicator).
// The second return value is false when every tier failed or ctx was
// cancelled; exhaustion is counted as a fallback activation, cancellation is not.
func (r *Resolver) Resolve(ctx context.Context, source, indicator string, params map[string]string) (Result, bool) {
	route := r.route(source, indicator)
	tiers := route.Tiers
	log := r.logger.With("source", source, "indicator", indicator)

	for _, tier := range tiers {
		key := cache.Key(source, indicator, tier, params)
		if e, ok := r.cache.Get(ctx, key, r.opts.TTLs.For(tier)); ok {
			r.collector.RecordCacheHit()
			log.Debug("cache hit", "tier", tier, "cached_at", e.CachedAt)
			return Result{Payload: e.Payload, Tier: tier, FromCache: true}, true
		}
	}
	r.collector.RecordCacheMiss()

	for _, tier := range tiers {
		if ctx.Err() != nil {
			break
		}
		req := domain.FetchRequest{
			Source:    source,
			Indicator: indicator,
			Tier:      tier,
			Location:  route.Locations[tier],
			Params:    params,
		}
		payload, err := r.attempt(ctx, req, log)
		if err != nil {
			continue
		}

		r.cache.Put(ctx, cache.Key(source, indicator, tier, params), payload, tier)
		return Result{Payload: payload, Tier: tier}, true
	}

	if ctx.Err() != nil {
		log.Info("resolution cancelled", "error", ctx.Err())
		return Result{}, false
	}

	r.collector.RecordFallback()
	log.Warn("all tiers failed", "tiers", tiers)
	return Result{}, false
}

// ClearCache drops cached payloads for source, or for every source when
// source is empty, and resets the collector.
func (r *Resolver) ClearCache(ctx context.Context, source string) (int64, error) {
	prefix := ""
	if source != "" {
		prefix = cache.SourcePrefix(source)
	}
	n, err := r.cache.Clear(ctx, prefix)
	if err != nil {
		return n, fmt.Errorf("clear cache: %w", err)
	}
	r.collector.Reset()
	r.logger.Info("cache cleared", "source", source, "removed", n)
	return n, nil
}

// Stats returns the current resolution counters.
func (r *Resolver) Stats() observability.Snapshot {
	return r.collector.Snapshot()
}

func (r *Resolver) route(source, indicator string) Route {
	sc := r.opts.Sources[source]
	override, ok := sc.Indicators[indicator]
	if !ok {
		return sc.Route
	}

	route := Route{Tiers: sc.Tiers, Locations: make(map[domain.Tier]string, len(sc.Locations)+len(override.Locations))}
	if len(override.Tiers) > 0 {
		route.Tiers = override.Tiers
	}
	for t, loc := range sc.Locations {
		route.Locations[t] = loc
	}
	for t, loc := range override.Locations {
		route.Locations[t] = loc
	}
	return route
}

func (r *Resolver) attempt(ctx context.Context, req domain.FetchRequest, log *slog.Logger) ([]byte, error) {
	start := r.clock.Now()
	payload, err := r.fetch(ctx, req)
	latency := r.clock.Since(start)
	if err == nil && ctx.Err() != nil {
		// A payload that arrives after cancellation is discarded.
		err = ctx.Err()
	}

	r.collector.RecordTierAttempt(req.Tier, err == nil, latency)
	if err != nil {
		log.Warn("tier attempt", "tier", req.Tier, "outcome", "error", "latency", latency, "error", err)
		return nil, err
	}
	log.Info("tier attempt", "tier", req.Tier, "outcome", "success", "latency", latency, "bytes", len(payload))
	return payload, nil
}

func (r *Resolver) fetch(ctx context.Context, req domain.FetchRequest) ([]byte, error) {
	f, ok := r.fetchers[req.Tier]
	if !ok {
		return nil, fmt.Errorf("no fetcher for tier %s", req.Tier)
	}
	if req.Location == "" {
		return nil, fmt.Errorf("no location configured for %s %s", req.Source, req.Tier)
	}

	var payload []byte
	op := func() error {
		if req.Tier.IsNetwork() {
			r.collector.RecordAPICall()
		}
		p, err := f.Fetch(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(p) == 0 {
			return errEmptyPayload
		}
		payload = p
		return nil
	}

	if !req.Tier.IsNetwork() || r.opts.Retries <= 0 {
		err := op()
		return payload, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.RetryDelay
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.Retries)), ctx))
	return payload, err
}
