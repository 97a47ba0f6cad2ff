// Command audit checks the integrity of the indicator store and the resolver
// cache: natural-key uniqueness, missing values, stale series and expired
// cache entries. It prints a per-phase PASS/FAIL report and exits non-zero
// when any phase fails.
//
// Usage:
//
//	go run ./cmd/audit -stale-after 720h
//	go run ./cmd/audit -cleanup
//
// The database, municipality and TTLs come from the same environment
// variables as the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/couchcryptid/indicator-etl/internal/cache"
	"github.com/couchcryptid/indicator-etl/internal/config"
	"github.com/couchcryptid/indicator-etl/internal/database"
	"github.com/couchcryptid/indicator-etl/internal/observability"
	"github.com/couchcryptid/indicator-etl/internal/store"
)

// phase tracks pass/fail for an audit phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type options struct {
	staleAfter time.Duration
	cleanup    bool
}

func main() {
	staleAfter := flag.Duration("stale-after", 30*24*time.Hour, "flag series whose newest collection is older than this")
	cleanup := flag.Bool("cleanup", false, "delete expired cache entries instead of reporting them as failures")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open database: %v\n", err)
		os.Exit(1)
	}
	code := run(context.Background(), os.Stdout, db, cfg, clockwork.NewRealClock(), options{staleAfter: *staleAfter, cleanup: *cleanup})
	_ = database.Close(db)
	os.Exit(code)
}

func run(ctx context.Context, w io.Writer, db *gorm.DB, cfg *config.Config, clock clockwork.Clock, opts options) int {
	logger := observability.NewLogger("error", "text")

	st, err := store.New(db, cfg.Municipality, clock, logger)
	if err != nil {
		fmt.Fprintf(w, "FATAL: open indicator store: %v\n", err)
		return 1
	}
	cs, err := cache.New(db, cache.Options{
		MaxBytes:   cfg.CacheMaxBytes,
		MaxEntries: cfg.CacheMaxEntries,
	}, clock, logger, nil)
	if err != nil {
		fmt.Fprintf(w, "FATAL: open cache: %v\n", err)
		return 1
	}

	fmt.Fprintf(w, "=== Indicator Store Audit: %s (%s/%s) ===\n\n",
		cfg.Municipality.Code, cfg.Municipality.Name, cfg.Municipality.UF)

	phases := []*phase{
		auditUniqueness(ctx, st),
		auditNullValues(ctx, st),
		auditStaleness(ctx, st, cfg.Municipality.Code, clock.Now().Add(-opts.staleAfter)),
		auditCache(ctx, cs, cfg, opts.cleanup),
	}

	printSummary(ctx, w, st, cfg.Municipality.Code)

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
		for _, n := range p.notes {
			fmt.Fprintf(w, "      %s\n", n)
		}
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll audits passed.")
		return 0
	}
	fmt.Fprintln(w, "\nAudit FAILED.")
	return 1
}

// ── Phase 1: natural-key uniqueness ──

func auditUniqueness(ctx context.Context, st *store.Store) *phase {
	p := &phase{name: "Phase 1: Natural-key uniqueness"}
	keys, err := st.DuplicateKeys(ctx)
	if err != nil {
		p.errorf("query duplicates: %v", err)
		return p
	}
	for _, k := range keys {
		p.errorf("natural key stored more than once: %s", k)
	}
	return p
}

// ── Phase 2: missing values ──

func auditNullValues(ctx context.Context, st *store.Store) *phase {
	p := &phase{name: "Phase 2: Missing values"}
	n, err := st.NullValues(ctx)
	if err != nil {
		p.errorf("count null values: %v", err)
		return p
	}
	if n > 0 {
		p.errorf("%d observation(s) have no value", n)
	}
	return p
}

// ── Phase 3: stale series ──

func auditStaleness(ctx context.Context, st *store.Store, code string, cutoff time.Time) *phase {
	p := &phase{name: "Phase 3: Stale series"}
	refs, err := st.StaleSeries(ctx, code, cutoff)
	if err != nil {
		p.errorf("query stale series: %v", err)
		return p
	}
	for _, r := range refs {
		p.errorf("%s/%s not collected since %s", r.Source, r.IndicatorKey, cutoff.Format(time.DateOnly))
	}
	return p
}

// ── Phase 4: expired cache entries ──

func auditCache(ctx context.Context, cs *cache.Store, cfg *config.Config, cleanup bool) *phase {
	p := &phase{name: "Phase 4: Expired cache entries"}

	info, err := cs.Info(ctx)
	if err != nil {
		p.errorf("cache info: %v", err)
		return p
	}
	p.notef("%d entries, %d bytes (budget %d entries, %d bytes)", info.Entries, info.SizeBytes, info.MaxEntries, info.MaxBytes)

	if cleanup {
		n, err := cs.CleanupExpired(ctx, cfg.TTLs)
		if err != nil {
			p.errorf("cleanup: %v", err)
			return p
		}
		p.notef("removed %d expired entries", n)
		return p
	}

	expired, err := cs.ExpiredEntries(ctx, cfg.TTLs)
	if err != nil {
		p.errorf("list expired entries: %v", err)
		return p
	}
	for _, e := range expired {
		p.errorf("%s (%s) expired, age %s", e.Key, e.Tier, e.Age.Round(time.Minute))
	}
	return p
}

func printSummary(ctx context.Context, w io.Writer, st *store.Store, code string) {
	summary, err := st.Summary(ctx, code)
	if err != nil {
		fmt.Fprintf(w, "  summary unavailable: %v\n\n", err)
		return
	}
	fmt.Fprintf(w, "  %-12s %-28s %6s %s\n", "SOURCE", "INDICATOR", "ROWS", "YEARS")
	for _, s := range summary {
		fmt.Fprintf(w, "  %-12s %-28s %6d %d-%d\n", s.Source, s.IndicatorKey, s.Observations, s.FirstYear, s.LastYear)
	}
	fmt.Fprintln(w)
}
