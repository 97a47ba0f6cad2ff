// Package cache persists resolved source payloads so repeated resolutions
// within a tier's freshness window skip the network.
//
// Entries live in the cache_entries table, which is authoritative. A small
// in-process LRU sits in front of it to avoid re-reading hot payloads; it is
// dropped whenever the corresponding row is removed.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/couchcryptid/indicator-etl/internal/domain"
	"github.com/couchcryptid/indicator-etl/internal/observability"
)

// evictTarget is the fraction of each budget that eviction shrinks usage to.
const evictTarget = 0.8

// Options bounds the cache.
type Options struct {
	MaxBytes      int64 // total payload bytes; <= 0 disables the byte budget
	MaxEntries    int   // persisted entries; <= 0 disables the count budget
	MemoryEntries int   // in-process LRU size; <= 0 disables the memory tier
}

// DefaultOptions returns a 100 MiB / 1000 entry budget with a 100 entry
// memory tier.
func DefaultOptions() Options {
	return Options{
		MaxBytes:      100 << 20,
		MaxEntries:    1000,
		MemoryEntries: 100,
	}
}

// Entry is a cached payload.
type Entry struct {
	Key      string
	Tier     domain.Tier
	Payload  []byte
	CachedAt time.Time
}

type record struct {
	CacheKey   string    `gorm:"primaryKey;size:255"`
	Tier       string    `gorm:"size:32;not null;index"`
	Payload    []byte    `gorm:"not null"`
	SizeBytes  int64     `gorm:"not null"`
	CachedAt   time.Time `gorm:"not null"`
	AccessedAt time.Time `gorm:"not null;index"`
}

func (record) TableName() string { return "cache_entries" }

func (r record) entry() Entry {
	return Entry{Key: r.CacheKey, Tier: domain.Tier(r.Tier), Payload: r.Payload, CachedAt: r.CachedAt}
}

// Store is the persistent cache. Lookup and write failures never surface to
// callers: a failed Get is a miss and a failed Put is logged and dropped.
type Store struct {
	db      *gorm.DB
	mem     *lru.Cache[string, Entry]
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics

	evictMu   sync.Mutex
	evictions atomic.Int64
}

// New migrates the cache table and returns a Store. metrics may be nil.
func New(db *gorm.DB, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Store, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, err
	}

	s := &Store{
		db:      db,
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
	if opts.MemoryEntries > 0 {
		mem, err := lru.New[string, Entry](opts.MemoryEntries)
		if err != nil {
			return nil, err
		}
		s.mem = mem
	}
	return s, nil
}

// Get returns the payload stored under key if it was cached less than ttl
// ago. Expired rows are deleted on the way out.
func (s *Store) Get(ctx context.Context, key string, ttl time.Duration) (Entry, bool) {
	now := s.clock.Now()

	if s.mem != nil {
		if e, ok := s.mem.Get(key); ok {
			if now.Sub(e.CachedAt) < ttl {
				s.touch(ctx, key, now)
				return e, true
			}
			s.mem.Remove(key)
		}
	}

	var rec record
	res := s.db.WithContext(ctx).Where("cache_key = ?", key).Limit(1).Find(&rec)
	if res.Error != nil {
		s.logger.Warn("cache read failed", "key", key, "error", res.Error)
		return Entry{}, false
	}
	if res.RowsAffected == 0 {
		return Entry{}, false
	}

	if now.Sub(rec.CachedAt) >= ttl {
		if err := s.Delete(ctx, key); err != nil {
			s.logger.Warn("cache expiry delete failed", "key", key, "error", err)
		}
		return Entry{}, false
	}

	s.touch(ctx, key, now)
	e := rec.entry()
	if s.mem != nil {
		s.mem.Add(key, e)
	}
	return e, true
}

// Put stores payload under key, replacing any previous entry, then trims the
// cache back under budget. It reports whether the entry was persisted.
func (s *Store) Put(ctx context.Context, key string, payload []byte, tier domain.Tier) bool {
	if payload == nil {
		payload = []byte{}
	}
	now := s.clock.Now()
	rec := record{
		CacheKey:   key,
		Tier:       string(tier),
		Payload:    payload,
		SizeBytes:  int64(len(payload)),
		CachedAt:   now,
		AccessedAt: now,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		s.logger.Warn("cache write failed", "key", key, "tier", tier, "error", err)
		return false
	}

	if s.mem != nil {
		s.mem.Add(key, rec.entry())
	}
	s.enforceBudget(ctx, key)
	return true
}

// Delete removes a single entry.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s.mem != nil {
		s.mem.Remove(key)
	}
	return s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&record{}).Error
}

// Clear removes every entry whose key starts with prefix, or all entries when
// prefix is empty. It returns the number of persisted entries removed.
func (s *Store) Clear(ctx context.Context, prefix string) (int64, error) {
	q := s.db.WithContext(ctx)
	if prefix == "" {
		q = q.Where("1 = 1")
	} else {
		// substr counts characters on both SQLite and PostgreSQL.
		q = q.Where("substr(cache_key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
	}
	res := q.Delete(&record{})

	if s.mem != nil {
		if prefix == "" {
			s.mem.Purge()
		} else {
			for _, k := range s.mem.Keys() {
				if strings.HasPrefix(k, prefix) {
					s.mem.Remove(k)
				}
			}
		}
	}
	return res.RowsAffected, res.Error
}

func (s *Store) touch(ctx context.Context, key string, now time.Time) {
	err := s.db.WithContext(ctx).Model(&record{}).Where("cache_key = ?", key).Update("accessed_at", now).Error
	if err != nil {
		s.logger.Debug("cache touch failed", "key", key, "error", err)
	}
}

type usage struct {
	Entries   int64
	SizeBytes int64
}

func (s *Store) usage(ctx context.Context) (usage, error) {
	var u usage
	err := s.db.WithContext(ctx).Model(&record{}).
		Select("COUNT(*) AS entries, COALESCE(SUM(size_bytes), 0) AS size_bytes").
		Scan(&u).Error
	return u, err
}

func (s *Store) within(entries, size int64, factor float64) bool {
	if s.opts.MaxEntries > 0 && float64(entries) > float64(s.opts.MaxEntries)*factor {
		return false
	}
	if s.opts.MaxBytes > 0 && float64(size) > float64(s.opts.MaxBytes)*factor {
		return false
	}
	return true
}

// enforceBudget evicts least recently accessed entries, never keep, until
// usage is back under evictTarget of every budget.
func (s *Store) enforceBudget(ctx context.Context, keep string) {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()

	u, err := s.usage(ctx)
	if err != nil {
		s.logger.Warn("cache usage query failed", "error", err)
		return
	}
	if s.within(u.Entries, u.SizeBytes, 1) {
		return
	}

	var candidates []record
	err = s.db.WithContext(ctx).Select("cache_key", "size_bytes").
		Where("cache_key <> ?", keep).
		Order("accessed_at ASC, cache_key ASC").
		Find(&candidates).Error
	if err != nil {
		s.logger.Warn("cache eviction scan failed", "error", err)
		return
	}

	entries, size := u.Entries, u.SizeBytes
	var victims []string
	for _, c := range candidates {
		if s.within(entries, size, evictTarget) {
			break
		}
		victims = append(victims, c.CacheKey)
		entries--
		size -= c.SizeBytes
	}
	if len(victims) == 0 {
		return
	}

	if err := s.db.WithContext(ctx).Where("cache_key IN ?", victims).Delete(&record{}).Error; err != nil {
		s.logger.Warn("cache eviction failed", "error", err)
		return
	}
	if s.mem != nil {
		for _, k := range victims {
			s.mem.Remove(k)
		}
	}
	s.evictions.Add(int64(len(victims)))
	if s.metrics != nil {
		s.metrics.CacheEvictions.Add(float64(len(victims)))
	}
	s.logger.Info("cache evicted entries", "evicted", len(victims), "entries", entries, "size_bytes", size)
}
