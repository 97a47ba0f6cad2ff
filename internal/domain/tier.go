package domain

import (
	"fmt"
	"time"
)

// Tier identifies one acquisition path for a source's data.
type Tier string

const (
	TierAPIPrimary    Tier = "api_primary"
	TierAPISecondary  Tier = "api_secondary"
	TierCSVFallback   Tier = "csv_fallback"
	TierConvertedFile Tier = "converted_file"
)

// Tiers lists every known tier in default priority order.
var Tiers = []Tier{TierAPIPrimary, TierAPISecondary, TierCSVFallback, TierConvertedFile}

// ParseTier validates a tier name.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// IsNetwork reports whether the tier is fetched over HTTP.
func (t Tier) IsNetwork() bool {
	return t == TierAPIPrimary || t == TierAPISecondary
}

// TTLs maps each tier to the time its cached payload stays valid.
type TTLs map[Tier]time.Duration

// DefaultTTLs returns the standard freshness window for every tier.
func DefaultTTLs() TTLs {
	return TTLs{
		TierAPIPrimary:    time.Hour,
		TierAPISecondary:  6 * time.Hour,
		TierCSVFallback:   7 * 24 * time.Hour,
		TierConvertedFile: 30 * 24 * time.Hour,
	}
}

// For returns the TTL for a tier, falling back to the default table and then
// to one hour for tiers missing from both.
func (t TTLs) For(tier Tier) time.Duration {
	if d, ok := t[tier]; ok && d > 0 {
		return d
	}
	if d, ok := DefaultTTLs()[tier]; ok {
		return d
	}
	return time.Hour
}
