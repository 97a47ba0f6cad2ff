package domain

import (
	"fmt"
	"time"
)

// DefaultCategory is assigned when a caller has no better classification.
const DefaultCategory = "Geral"

// Municipality identifies the locality an indicator refers to.
type Municipality struct {
	Code string `json:"code"` // IBGE 7-digit code
	Name string `json:"name"`
	UF   string `json:"uf"`
}

// SeriesKey is the natural-key prefix shared by every row of one upsert batch.
type SeriesKey struct {
	Municipality Municipality
	IndicatorKey string
	Source       string
}

// Row is one period's value as produced by a parser, before it is stored.
type Row struct {
	Year     int      `json:"year"`
	Month    int      `json:"month,omitempty"` // 0 = annual
	Value    *float64 `json:"value"`
	Unit     string   `json:"unit,omitempty"`
	Category string   `json:"category,omitempty"`
	Manual   bool     `json:"manual,omitempty"`
}

// Observation is a stored indicator value.
type Observation struct {
	MunicipalityCode string    `json:"municipality_code"`
	MunicipalityName string    `json:"municipality_name"`
	UF               string    `json:"uf"`
	IndicatorKey     string    `json:"indicator_key"`
	Source           string    `json:"source"`
	Year             int       `json:"year"`
	Month            int       `json:"month"`
	Value            *float64  `json:"value"`
	Unit             string    `json:"unit"`
	Category         string    `json:"category"`
	Manual           bool      `json:"manual"`
	CollectedAt      time.Time `json:"collected_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// NaturalKey renders the identity of an observation as a single string,
// suitable for message keys and log fields.
func NaturalKey(code, indicatorKey, source string, year, month int) string {
	return fmt.Sprintf("%s|%s|%s|%d|%02d", code, indicatorKey, source, year, month)
}

// IndicatorRef names a distinct (indicator, source, unit) present in storage.
// Category is the greatest category stored under that triple.
type IndicatorRef struct {
	IndicatorKey string `json:"indicator_key"`
	Source       string `json:"source"`
	Unit         string `json:"unit"`
	Category     string `json:"category"`
}
