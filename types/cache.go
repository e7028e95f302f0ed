package types

import (
	"strings"
)

// CacheKey identifies a cacheable request: the normalized query text plus the
// target instance. Equality is structural, so the key is usable directly as a
// Go map key.
type CacheKey struct {
	Query    string
	Instance string
}

// NewCacheKey normalizes the query text by trimming and collapsing internal
// whitespace runs. Case is preserved: query text case is significant to the
// underlying engine.
func NewCacheKey(query, instance string) CacheKey {
	return CacheKey{
		Query:    strings.Join(strings.Fields(query), " "),
		Instance: instance,
	}
}

// String renders a stable flat form used for redis keys and log fields.
func (k CacheKey) String() string {
	return k.Instance + "|" + k.Query
}

type CacheStats struct {
	Size       int    `json:"size"`
	MaxItems   int    `json:"max_items"`
	TTLSeconds int    `json:"ttl_seconds"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Bypassed   uint64 `json:"bypassed"`
	Evictions  uint64 `json:"evictions"`
	Enabled    bool   `json:"enabled"`
}

type ResultCache interface {
	LifecycleManager
	Get(key CacheKey) (Result, bool)
	Set(key CacheKey, result Result)
	Flush() Result
	Stats() CacheStats
}

type ResultCacheCreator func(config interface{}) (ResultCache, error)
