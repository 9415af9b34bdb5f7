package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/iWaraxe/L3StructuredOutput-sub000/schema"
)

// ResultCache stores validated values of successful conversions so an
// identical request can be answered without calling the provider.
type ResultCache interface {
	Get(ctx context.Context, key string) (map[string]any, bool, error)
	Set(ctx context.Context, key string, value map[string]any) error
}

// CacheKey derives the cache key for a seed converted against desc.
func CacheKey(desc *schema.Descriptor, seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return desc.Fingerprint()[:16] + ":" + hex.EncodeToString(sum[:16])
}
