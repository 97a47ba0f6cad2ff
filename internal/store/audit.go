package store

import (
	"context"
	"time"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

// SeriesSummary aggregates one stored (indicator, source) series.
type SeriesSummary struct {
	IndicatorKey string
	Source       string
	Observations int64
	FirstYear    int
	LastYear     int
}

// Summary lists every series of the municipality with its row count and year span.
func (s *Store) Summary(ctx context.Context, code string) ([]SeriesSummary, error) {
	var out []SeriesSummary
	err := s.db.WithContext(ctx).Model(&indicator{}).
		Select("indicator_key, source, COUNT(*) AS observations, MIN(year) AS first_year, MAX(year) AS last_year").
		Where("municipality_code = ?", code).
		Group("indicator_key, source").
		Order("source ASC, indicator_key ASC").
		Scan(&out).Error
	return out, err
}

// DuplicateKeys returns natural keys stored more than once. It is empty
// whenever the unique index is in place; a non-empty result points at a
// table created outside this service.
func (s *Store) DuplicateKeys(ctx context.Context) ([]string, error) {
	var rows []struct {
		MunicipalityCode string
		IndicatorKey     string
		Source           string
		Year             int
		Month            int
	}
	err := s.db.WithContext(ctx).Model(&indicator{}).
		Select("municipality_code, indicator_key, source, year, month").
		Group("municipality_code, indicator_key, source, year, month").
		Having("COUNT(*) > 1").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = domain.NaturalKey(r.MunicipalityCode, r.IndicatorKey, r.Source, r.Year, r.Month)
	}
	return keys, nil
}

// StaleSeries returns series of the municipality whose newest collection is
// before cutoff.
func (s *Store) StaleSeries(ctx context.Context, code string, cutoff time.Time) ([]domain.IndicatorRef, error) {
	var refs []domain.IndicatorRef
	err := s.db.WithContext(ctx).Model(&indicator{}).
		Select("indicator_key, source, MAX(unit) AS unit, MAX(category) AS category").
		Where("municipality_code = ?", code).
		Group("indicator_key, source").
		Having("MAX(collected_at) < ?", cutoff.UTC()).
		Order("indicator_key ASC, source ASC").
		Scan(&refs).Error
	return refs, err
}

// NullValues counts rows with no value. The column is NOT NULL when the table
// is created by this service, so anything above zero indicates a foreign schema.
func (s *Store) NullValues(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&indicator{}).Where("value IS NULL").Count(&n).Error
	return n, err
}
