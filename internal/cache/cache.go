// Package cache stores structuring-call responses so repeated runs over the
// same requirement text skip the oracle entirely.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key derives a cache key from the raw requirement text and the
// caller-supplied context.
func Key(rawText string, context map[string]any) string {
	hasher := sha256.New()
	hasher.Write([]byte(rawText))
	if len(context) > 0 {
		// Map keys marshal sorted, so equal contexts hash equally.
		if data, err := json.Marshal(context); err == nil {
			hasher.Write([]byte("|"))
			hasher.Write(data)
		}
	}
	return "reqforge:v1:" + hex.EncodeToString(hasher.Sum(nil))
}
