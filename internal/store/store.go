// Package store persists indicator observations keyed by their natural key
// (municipality, indicator, source, year, month). Writes are idempotent:
// re-ingesting a period updates the stored row in place.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/couchcryptid/indicator-etl/internal/database"
	"github.com/couchcryptid/indicator-etl/internal/domain"
)

var (
	// ErrInvalidRow marks a batch rejected before any write.
	ErrInvalidRow = errors.New("invalid row")
	// ErrEmptyKey marks an incomplete natural-key prefix.
	ErrEmptyKey = errors.New("incomplete series key")
)

type indicator struct {
	ID               uint      `gorm:"primaryKey"`
	MunicipalityCode string    `gorm:"size:10;not null;uniqueIndex:uix_indicator_natural_key,priority:1"`
	MunicipalityName string    `gorm:"size:128;not null"`
	UF               string    `gorm:"size:2;not null"`
	IndicatorKey     string    `gorm:"size:100;not null;uniqueIndex:uix_indicator_natural_key,priority:2;index"`
	Source           string    `gorm:"size:50;not null;uniqueIndex:uix_indicator_natural_key,priority:3"`
	Year             int       `gorm:"not null;uniqueIndex:uix_indicator_natural_key,priority:4"`
	Month            int       `gorm:"not null;uniqueIndex:uix_indicator_natural_key,priority:5"`
	Value            *float64  `gorm:"not null"`
	Unit             string    `gorm:"size:32;not null"`
	Category         string    `gorm:"size:50;not null;index"`
	Manual           bool      `gorm:"not null"`
	CollectedAt      time.Time `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null;autoCreateTime:false"`
}

func (indicator) TableName() string { return "indicators" }

func (i indicator) observation() domain.Observation {
	return domain.Observation{
		MunicipalityCode: i.MunicipalityCode,
		MunicipalityName: i.MunicipalityName,
		UF:               i.UF,
		IndicatorKey:     i.IndicatorKey,
		Source:           i.Source,
		Year:             i.Year,
		Month:            i.Month,
		Value:            i.Value,
		Unit:             i.Unit,
		Category:         i.Category,
		Manual:           i.Manual,
		CollectedAt:      i.CollectedAt,
		CreatedAt:        i.CreatedAt,
	}
}

// Store is the indicator repository.
type Store struct {
	db           *gorm.DB
	municipality domain.Municipality
	clock        clockwork.Clock
	logger       *slog.Logger
}

// New migrates the indicators table and returns a Store whose queries default
// to municipality.
func New(db *gorm.DB, municipality domain.Municipality, clock clockwork.Clock, logger *slog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&indicator{}); err != nil {
		return nil, fmt.Errorf("migrate indicators: %w", err)
	}
	return &Store{db: db, municipality: municipality, clock: clock, logger: logger}, nil
}

// Municipality returns the default municipality.
func (s *Store) Municipality() domain.Municipality { return s.municipality }

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return database.Ping(ctx, s.db)
}

// Upsert writes rows under key in one transaction and returns how many rows
// created a new natural key. See Save.
func (s *Store) Upsert(ctx context.Context, key domain.SeriesKey, rows []domain.Row) (int, error) {
	_, inserted, err := s.Save(ctx, key, rows)
	return inserted, err
}

// Save writes rows under key in one transaction. Rows already stored have
// value, unit, manual and collection time replaced; category only when the
// row carries a non-default one; creation time never. If any row is invalid
// nothing is written. It returns the observations as stored once the
// transaction commits, in row order, and how many created a new natural key.
func (s *Store) Save(ctx context.Context, key domain.SeriesKey, rows []domain.Row) ([]domain.Observation, int, error) {
	if err := validateKey(key); err != nil {
		return nil, 0, err
	}
	if err := validateRows(rows); err != nil {
		return nil, 0, err
	}
	if len(rows) == 0 {
		return nil, 0, nil
	}

	now := s.clock.Now().UTC()
	inserted := 0
	stored := make([]domain.Observation, 0, len(rows))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored = stored[:0]
		inserted = 0
		for _, row := range rows {
			rec, created, err := upsertRow(tx, key, row, now)
			if err != nil {
				return err
			}
			if created {
				inserted++
			}
			stored = append(stored, rec.observation())
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("upsert %s/%s: %w", key.Source, key.IndicatorKey, err)
	}

	s.logger.Debug("upserted observations",
		"source", key.Source, "indicator", key.IndicatorKey,
		"rows", len(rows), "inserted", inserted)
	return stored, inserted, nil
}

func upsertRow(tx *gorm.DB, key domain.SeriesKey, row domain.Row, now time.Time) (indicator, bool, error) {
	category := row.Category
	if category == "" {
		category = domain.DefaultCategory
	}
	rec := indicator{
		MunicipalityCode: key.Municipality.Code,
		MunicipalityName: key.Municipality.Name,
		UF:               key.Municipality.UF,
		IndicatorKey:     key.IndicatorKey,
		Source:           key.Source,
		Year:             row.Year,
		Month:            row.Month,
		Value:            row.Value,
		Unit:             row.Unit,
		Category:         category,
		Manual:           row.Manual,
		CollectedAt:      now,
		CreatedAt:        now,
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return indicator{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return rec, true, nil
	}

	updates := map[string]any{
		"value":        row.Value,
		"unit":         row.Unit,
		"manual":       row.Manual,
		"collected_at": now,
	}
	if category != domain.DefaultCategory {
		updates["category"] = category
	}
	byKey := tx.Model(&indicator{}).
		Where("municipality_code = ? AND indicator_key = ? AND source = ? AND year = ? AND month = ?",
			key.Municipality.Code, key.IndicatorKey, key.Source, row.Year, row.Month).
		Session(&gorm.Session{})
	res = byKey.Updates(updates)
	if res.Error != nil {
		return indicator{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return indicator{}, false, fmt.Errorf("observation %s vanished during upsert",
			domain.NaturalKey(key.Municipality.Code, key.IndicatorKey, key.Source, row.Year, row.Month))
	}

	var current indicator
	if err := byKey.Take(&current).Error; err != nil {
		return indicator{}, false, fmt.Errorf("read back observation: %w", err)
	}
	return current, false, nil
}

func validateKey(key domain.SeriesKey) error {
	switch {
	case key.Municipality.Code == "":
		return fmt.Errorf("%w: municipality code", ErrEmptyKey)
	case key.IndicatorKey == "":
		return fmt.Errorf("%w: indicator key", ErrEmptyKey)
	case key.Source == "":
		return fmt.Errorf("%w: source", ErrEmptyKey)
	}
	return nil
}

func validateRows(rows []domain.Row) error {
	for i, r := range rows {
		switch {
		case r.Year <= 0:
			return fmt.Errorf("%w: row %d: missing year", ErrInvalidRow, i)
		case r.Value == nil:
			return fmt.Errorf("%w: row %d: missing value", ErrInvalidRow, i)
		case r.Month < 0 || r.Month > 12:
			return fmt.Errorf("%w: row %d: month %d out of range", ErrInvalidRow, i, r.Month)
		}
	}
	return nil
}

// Query returns the series for indicatorKey in the default municipality,
// ordered by (year, month). An empty source matches every source.
func (s *Store) Query(ctx context.Context, indicatorKey, source string) ([]domain.Observation, error) {
	return s.QueryMunicipality(ctx, s.municipality.Code, indicatorKey, source)
}

// QueryMunicipality is Query for an explicit municipality code.
func (s *Store) QueryMunicipality(ctx context.Context, code, indicatorKey, source string) ([]domain.Observation, error) {
	q := s.db.WithContext(ctx).
		Where("municipality_code = ? AND indicator_key = ?", code, indicatorKey)
	if source != "" {
		q = q.Where("source = ?", source)
	}

	var recs []indicator
	if err := q.Order("year ASC, month ASC, source ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query %s: %w", indicatorKey, err)
	}

	out := make([]domain.Observation, len(recs))
	for i, r := range recs {
		out[i] = r.observation()
	}
	return out, nil
}

// ListDistinctIndicators returns each distinct (indicator, source, unit)
// stored for the municipality, ordered by indicator key, source and unit. A
// series recorded under two units yields two entries.
func (s *Store) ListDistinctIndicators(ctx context.Context, code string) ([]domain.IndicatorRef, error) {
	var refs []domain.IndicatorRef
	err := s.db.WithContext(ctx).Model(&indicator{}).
		Select("indicator_key, source, unit, MAX(category) AS category").
		Where("municipality_code = ?", code).
		Group("indicator_key, source, unit").
		Order("indicator_key ASC, source ASC, unit ASC").
		Scan(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("list indicators: %w", err)
	}
	return refs, nil
}
