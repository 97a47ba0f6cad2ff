package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

func findSource(t *testing.T, sources []Source, name string) Source {
	t.Helper()
	for _, s := range sources {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("source %s not found", name)
	return Source{}
}

func TestLoadSources_BuiltInTierOrder(t *testing.T) {
	sources, err := LoadSources("", "3127701")
	require.NoError(t, err)

	primaryCSV := []domain.Tier{domain.TierAPIPrimary, domain.TierCSVFallback}
	tests := map[string][]domain.Tier{
		"IBGE":      {domain.TierAPIPrimary, domain.TierAPISecondary, domain.TierCSVFallback},
		"CAGED":     primaryCSV,
		"RAIS":      primaryCSV,
		"SEFAZ_MG":  primaryCSV,
		"DATASUS":   primaryCSV,
		"INEP":      primaryCSV,
		"IDSC":      primaryCSV,
		"SEEG":      primaryCSV,
		"SEBRAE":    {domain.TierCSVFallback, domain.TierConvertedFile},
		"MapBiomas": {domain.TierAPIPrimary, domain.TierCSVFallback, domain.TierConvertedFile},
	}
	for name, want := range tests {
		assert.Equal(t, want, findSource(t, sources, name).Tiers, name)
	}
}

func TestLoadSources_BuiltInSubstitutesMunicipality(t *testing.T) {
	sources, err := LoadSources("", "3106200")
	require.NoError(t, err)

	ibge := findSource(t, sources, "IBGE")
	require.NotEmpty(t, ibge.Indicators)
	pop := ibge.Indicators[0]
	assert.Equal(t, "POPULACAO", pop.Key)
	assert.Equal(t, "Demografia", pop.Category)
	assert.Equal(t, "N6[3106200]", pop.Params["localidades"])
	assert.Contains(t, pop.Locations[domain.TierAPISecondary], "/n6/3106200")
	assert.Equal(t, "*ibge*.csv", ibge.Locations[domain.TierCSVFallback])
}

func TestParseSources_SortedAndDefaults(t *testing.T) {
	sources, err := parseSources([]byte(`
sources:
  SEEG:
    tiers: [csv_fallback]
    indicators:
      - key: EMISSOES
  CAGED:
    tiers: [converted_file]
    files:
      converted_file: "caged_export_*.csv"
`), "1")
	require.NoError(t, err)
	require.Len(t, sources, 2)

	assert.Equal(t, "CAGED", sources[0].Name)
	assert.Equal(t, "caged_export_*.csv", sources[0].Locations[domain.TierConvertedFile])
	assert.Equal(t, "*caged*.csv", sources[0].Locations[domain.TierCSVFallback])
	assert.Equal(t, domain.DefaultCategory, sources[1].Indicators[0].Category)
}

func TestParseSources_Rejects(t *testing.T) {
	tests := map[string]string{
		"empty registry": `sources: {}`,
		"unknown tier": `
sources:
  X:
    tiers: [carrier_pigeon]`,
		"no tiers": `
sources:
  X:
    tiers: []`,
		"duplicate tier": `
sources:
  X:
    tiers: [csv_fallback, csv_fallback]`,
		"network tier without endpoint": `
sources:
  X:
    tiers: [api_primary]
    indicators:
      - key: A`,
		"endpoint on file tier": `
sources:
  X:
    tiers: [csv_fallback]
    endpoints:
      csv_fallback: https://example.test`,
		"glob on network tier": `
sources:
  X:
    tiers: [api_primary]
    files:
      api_primary: "*.csv"`,
		"duplicate indicator": `
sources:
  X:
    tiers: [csv_fallback]
    indicators:
      - key: A
      - key: A`,
		"indicator without key": `
sources:
  X:
    tiers: [csv_fallback]
    indicators:
      - unit: ha`,
		"malformed yaml": `sources: [`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parseSources([]byte(doc), "1")
			assert.Error(t, err)
		})
	}
}

func TestParseSources_IndicatorEndpointSatisfiesNetworkTier(t *testing.T) {
	sources, err := parseSources([]byte(`
sources:
  IBGE:
    tiers: [api_primary]
    indicators:
      - key: PIB
        endpoints:
          api_primary: https://example.test/pib
`), "1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/pib", sources[0].Indicators[0].Locations[domain.TierAPIPrimary])
}
