package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

// Key derives the cache key for one (source, indicator, tier, params)
// combination. The key is human-prefixed so Clear can drop whole namespaces:
//
//	<source>:<indicator>:<tier>:<params hash>
//
// Param order never matters; JSON encoding of a map sorts its keys.
func Key(source, indicator string, tier domain.Tier, params map[string]string) string {
	return strings.Join([]string{SourcePrefix(source) + indicator, string(tier), ParamsHash(params)}, ":")
}

// SourcePrefix is the namespace shared by every key of a source.
func SourcePrefix(source string) string {
	return source + ":"
}

// ParamsHash returns the first 8 bytes of the SHA-256 of the canonical JSON
// form of params, hex encoded.
func ParamsHash(params map[string]string) string {
	if params == nil {
		params = map[string]string{}
	}
	data, _ := json.Marshal(params) // map[string]string always marshals
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
