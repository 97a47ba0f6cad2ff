package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	for _, want := range Tiers {
		got, err := ParseTier(string(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseTier("ftp_mirror")
	assert.ErrorContains(t, err, "ftp_mirror")
}

func TestTier_IsNetwork(t *testing.T) {
	assert.True(t, TierAPIPrimary.IsNetwork())
	assert.True(t, TierAPISecondary.IsNetwork())
	assert.False(t, TierCSVFallback.IsNetwork())
	assert.False(t, TierConvertedFile.IsNetwork())
}

func TestTTLs_For(t *testing.T) {
	ttls := TTLs{TierAPIPrimary: 5 * time.Minute}

	assert.Equal(t, 5*time.Minute, ttls.For(TierAPIPrimary))
	assert.Equal(t, 6*time.Hour, ttls.For(TierAPISecondary))
	assert.Equal(t, 7*24*time.Hour, ttls.For(TierCSVFallback))
	assert.Equal(t, 30*24*time.Hour, ttls.For(TierConvertedFile))
	assert.Equal(t, time.Hour, ttls.For(Tier("unknown")))
}

func TestNaturalKey(t *testing.T) {
	assert.Equal(t, "3127701|PIB_TOTAL|IBGE|2021|00", NaturalKey("3127701", "PIB_TOTAL", "IBGE", 2021, 0))
	assert.Equal(t, "3127701|SALDO|CAGED|2024|03", NaturalKey("3127701", "SALDO", "CAGED", 2024, 3))
}
