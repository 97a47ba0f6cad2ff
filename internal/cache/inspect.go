package cache

import (
	"context"
	"time"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

// Info summarizes cache occupancy.
type Info struct {
	Entries       int64                 `json:"entries"`
	SizeBytes     int64                 `json:"size_bytes"`
	MaxEntries    int                   `json:"max_entries"`
	MaxBytes      int64                 `json:"max_bytes"`
	MemoryEntries int                   `json:"memory_entries"`
	Evictions     int64                 `json:"evictions"`
	ByTier        map[domain.Tier]int64 `json:"by_tier"`
}

// EntryInfo describes a persisted entry without its payload.
type EntryInfo struct {
	Key       string        `json:"key"`
	Tier      domain.Tier   `json:"tier"`
	SizeBytes int64         `json:"size_bytes"`
	CachedAt  time.Time     `json:"cached_at"`
	Age       time.Duration `json:"age"`
}

// Info reports current usage against the configured budgets.
func (s *Store) Info(ctx context.Context) (Info, error) {
	u, err := s.usage(ctx)
	if err != nil {
		return Info{}, err
	}

	var rows []struct {
		Tier    string
		Entries int64
	}
	err = s.db.WithContext(ctx).Model(&record{}).
		Select("tier, COUNT(*) AS entries").
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Entries:    u.Entries,
		SizeBytes:  u.SizeBytes,
		MaxEntries: s.opts.MaxEntries,
		MaxBytes:   s.opts.MaxBytes,
		Evictions:  s.evictions.Load(),
		ByTier:     make(map[domain.Tier]int64, len(rows)),
	}
	if s.mem != nil {
		info.MemoryEntries = s.mem.Len()
	}
	for _, r := range rows {
		info.ByTier[domain.Tier(r.Tier)] = r.Entries
	}
	return info, nil
}

// ExpiredEntries lists entries older than their tier's TTL, oldest first.
func (s *Store) ExpiredEntries(ctx context.Context, ttls domain.TTLs) ([]EntryInfo, error) {
	var recs []record
	err := s.db.WithContext(ctx).
		Select("cache_key", "tier", "size_bytes", "cached_at").
		Order("cached_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var expired []EntryInfo
	for _, r := range recs {
		age := now.Sub(r.CachedAt)
		if age < ttls.For(domain.Tier(r.Tier)) {
			continue
		}
		expired = append(expired, EntryInfo{
			Key:       r.CacheKey,
			Tier:      domain.Tier(r.Tier),
			SizeBytes: r.SizeBytes,
			CachedAt:  r.CachedAt,
			Age:       age,
		})
	}
	return expired, nil
}

// CleanupExpired deletes every expired entry and returns how many were removed.
func (s *Store) CleanupExpired(ctx context.Context, ttls domain.TTLs) (int, error) {
	expired, err := s.ExpiredEntries(ctx, ttls)
	if err != nil || len(expired) == 0 {
		return 0, err
	}

	keys := make([]string, len(expired))
	for i, e := range expired {
		keys[i] = e.Key
	}
	if err := s.db.WithContext(ctx).Where("cache_key IN ?", keys).Delete(&record{}).Error; err != nil {
		return 0, err
	}
	if s.mem != nil {
		for _, k := range keys {
			s.mem.Remove(k)
		}
	}
	s.logger.Info("removed expired cache entries", "count", len(keys))
	return len(keys), nil
}
