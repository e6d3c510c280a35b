package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/engramhq/engram/errors"
)

// CachedEmbedder memoizes vectors by exact content so repeated ingests and
// reconstruction passes do not pay for the same text twice. Keys are content
// hashes, not the content itself, to keep the cache footprint bounded.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache[string, []float32]
}

func NewCachedEmbedder(inner Embedder, maxCostBytes int64) (*CachedEmbedder, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: maxCostBytes / 64,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create embedding cache")
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (e *CachedEmbedder) Dimension() int {
	return e.inner.Dimension()
}

func (e *CachedEmbedder) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var (
		missTexts   []string
		missIndexes []int
	)
	for i, text := range texts {
		if vec, ok := e.cache.Get(cacheKey(text)); ok {
			vectors[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIndexes = append(missIndexes, i)
	}
	if len(missTexts) == 0 {
		return vectors, nil
	}

	fresh, err := e.inner.Embed(ctx, missTexts...)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, errors.Errorf("embedding count mismatch: got %d, expected %d", len(fresh), len(missTexts))
	}
	for i, vec := range fresh {
		vectors[missIndexes[i]] = vec
		e.cache.Set(cacheKey(missTexts[i]), vec, int64(len(vec)*4))
	}
	return vectors, nil
}

// Wait blocks until buffered cache writes are applied.
func (e *CachedEmbedder) Wait() {
	e.cache.Wait()
}

func (e *CachedEmbedder) Close() {
	e.cache.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var _ Embedder = (*CachedEmbedder)(nil)
