// Package domain models municipal socioeconomic indicator data and the tiers
// it is acquired from.
//
// # Sources and Tiers
//
// Indicators are published by public agencies (IBGE, CAGED, RAIS, SEFAZ-MG,
// DATASUS, INEP, IDSC, SEEG, SEBRAE, MapBiomas). Each source is reachable
// through an ordered list of acquisition tiers:
//
//	api_primary     the agency's main HTTP API
//	api_secondary   a mirror or alternate API
//	csv_fallback    the most recent manually downloaded CSV in the raw data dir
//	converted_file  a previously converted export in the converted data dir
//
// Tiers are tried strictly in their configured order. Network tiers are slow
// and flaky; file tiers are fast but possibly stale, which is reflected in
// their default time-to-live:
//
//	api_primary 1h | api_secondary 6h | csv_fallback 7d | converted_file 30d
//
// # Natural Key
//
// An observation is identified by
//
//	(municipality code, indicator key, source, year, month)
//
// where month 0 denotes an annual figure. At most one stored row exists per
// natural key; re-ingesting the same period replaces the value in place and
// keeps the original creation time. This makes every load replay-safe.
//
// # Categories
//
// Indicators carry a free-form category ("Economia", "Trabalho", ...). The
// placeholder [DefaultCategory] never overwrites a category already stored.
package domain
