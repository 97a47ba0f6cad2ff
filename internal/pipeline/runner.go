// Package pipeline runs the ingestion jobs: resolve a payload, parse it into
// rows, upsert them and optionally publish the change feed.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/indicator-etl/internal/domain"
	"github.com/couchcryptid/indicator-etl/internal/observability"
	"github.com/couchcryptid/indicator-etl/internal/resolver"
)

// Resolver obtains a payload through the tier chain.
type Resolver interface {
	Resolve(ctx context.Context, source, indicator string, params map[string]string) (resolver.Result, bool)
}

// Store persists rows idempotently. It returns the observations as committed
// and how many were new.
type Store interface {
	Save(ctx context.Context, key domain.SeriesKey, rows []domain.Row) ([]domain.Observation, int, error)
}

// Publisher emits committed observations downstream.
type Publisher interface {
	Publish(ctx context.Context, obs []domain.Observation) error
}

// Summary tallies one run.
type Summary struct {
	Loaded      int
	Unavailable int
	Failed      int
	Inserted    int
	Updated     int
}

type outcome string

const (
	outcomeLoaded      outcome = "loaded"
	outcomeUnavailable outcome = "unavailable"
	outcomeFailed      outcome = "failed"
)

// Runner executes every job per run with bounded concurrency.
type Runner struct {
	resolver     Resolver
	store        Store
	publisher    Publisher
	jobs         []Job
	municipality domain.Municipality
	concurrency  int
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
	ready        atomic.Bool
}

// NewRunner creates a Runner. publisher may be nil to disable the change feed.
func NewRunner(res Resolver, st Store, pub Publisher, jobs []Job, municipality domain.Municipality, concurrency int, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		resolver:     res,
		store:        st,
		publisher:    pub,
		jobs:         jobs,
		municipality: municipality,
		concurrency:  concurrency,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
	}
}

// CheckReadiness returns nil once a run has completed.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no ingestion run has completed yet")
	}
	return nil
}

// Run executes a run immediately and then every interval until ctx is
// cancelled. An interval of zero runs once and returns.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	r.logger.Info("runner started", "jobs", len(r.jobs), "interval", interval, "concurrency", r.concurrency)
	r.RunOnce(ctx)
	if interval <= 0 {
		return nil
	}

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes every job once. Failures of individual jobs are logged and
// counted; they never abort the run.
func (r *Runner) RunOnce(ctx context.Context) Summary {
	start := r.clock.Now()
	r.metrics.PipelineRunning.Set(1)
	defer r.metrics.PipelineRunning.Set(0)

	var (
		mu  sync.Mutex
		sum Summary
	)
	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, job := range r.jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, inserted, updated := r.runJob(ctx, job)
			r.metrics.JobsTotal.WithLabelValues(string(out)).Inc()

			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeLoaded:
				sum.Loaded++
				sum.Inserted += inserted
				sum.Updated += updated
			case outcomeUnavailable:
				sum.Unavailable++
			default:
				sum.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := r.clock.Since(start)
	r.metrics.RunDuration.Observe(elapsed.Seconds())
	if ctx.Err() == nil {
		r.ready.Store(true)
	}
	r.logger.Info("run complete",
		"loaded", sum.Loaded, "unavailable", sum.Unavailable, "failed", sum.Failed,
		"inserted", sum.Inserted, "updated", sum.Updated, "duration", elapsed)
	return sum
}

func (r *Runner) runJob(ctx context.Context, job Job) (outcome, int, int) {
	log := r.logger.With("source", job.Source, "indicator", job.Indicator)

	res, ok := r.resolver.Resolve(ctx, job.Source, job.Indicator, job.Params)
	if !ok {
		log.Warn("source unavailable")
		return outcomeUnavailable, 0, 0
	}

	rows, err := ParseRows(res.Payload)
	if err != nil {
		log.Error("parse payload failed", "tier", res.Tier, "from_cache", res.FromCache, "error", err)
		return outcomeFailed, 0, 0
	}
	for i := range rows {
		if rows[i].Unit == "" {
			rows[i].Unit = job.Unit
		}
		if rows[i].Category == "" {
			rows[i].Category = job.Category
		}
	}

	key := job.seriesKey(r.municipality)
	stored, inserted, err := r.store.Save(ctx, key, rows)
	if err != nil {
		log.Error("upsert failed", "rows", len(rows), "error", err)
		return outcomeFailed, 0, 0
	}
	updated := len(rows) - inserted
	r.metrics.ObservationsInserted.Add(float64(inserted))
	r.metrics.ObservationsUpdated.Add(float64(updated))
	log.Info("job loaded", "tier", res.Tier, "from_cache", res.FromCache, "rows", len(rows), "inserted", inserted)

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, stored); err != nil {
			r.metrics.PublishErrors.Inc()
			log.Error("publish failed", "error", err)
		}
	}
	return outcomeLoaded, inserted, updated
}
