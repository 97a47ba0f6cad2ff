package domain

import "context"

// FetchRequest describes a single tier attempt.
type FetchRequest struct {
	Source    string
	Indicator string
	Tier      Tier
	// Location is the endpoint URL for network tiers or the file glob for
	// file tiers.
	Location string
	Params   map[string]string
}

// Fetcher retrieves the raw payload for one tier. An empty payload with a nil
// error is treated by callers as a failed attempt.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]byte, error)
}
