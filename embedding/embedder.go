package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/engramhq/engram/errors"
)

type (
	// Embedder is the embedding collaborator boundary. Implementations map
	// texts to vectors of a fixed dimension; a failure aborts the caller's
	// operation, it is never substituted with zero vectors.
	Embedder interface {
		Embed(ctx context.Context, texts ...string) ([][]float32, error)
		Dimension() int
	}

	// retryEmbedder retries the inner embedder with doubling backoff, then
	// fails closed.
	retryEmbedder struct {
		inner      Embedder
		maxRetries int
		backoff    time.Duration
		logger     *slog.Logger
	}
)

// WithRetry bounds collaborator flakiness: up to maxRetries extra attempts
// with doubling backoff. Exhaustion wraps ErrEmbeddingUnavailable.
func WithRetry(inner Embedder, maxRetries int, backoff time.Duration, logger *slog.Logger) Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &retryEmbedder{inner: inner, maxRetries: maxRetries, backoff: backoff, logger: logger}
}

func (e *retryEmbedder) Dimension() int {
	return e.inner.Dimension()
}

func (e *retryEmbedder) Embed(ctx context.Context, texts ...string) ([][]float32, error) {
	var lastErr error
	wait := e.backoff
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Warn("retrying embedding call",
				"attempt", attempt,
				"backoff", wait.String(),
				"error", lastErr)
			select {
			case <-ctx.Done():
				return nil, errors.Wrapf(errors.ErrEmbeddingUnavailable, "context cancelled: %v", ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}

		vectors, err := e.inner.Embed(ctx, texts...)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(errors.ErrEmbeddingUnavailable, "embedding failed after %d attempts: %v", e.maxRetries+1, lastErr)
}
