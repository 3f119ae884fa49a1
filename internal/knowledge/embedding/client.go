package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventops/knowledge-service/internal/config"
	"github.com/eventops/knowledge-service/internal/knowledge/interfaces"
	"github.com/eventops/knowledge-service/internal/knowledge/kberr"
	"github.com/eventops/knowledge-service/pkg/logger"
	"github.com/eventops/knowledge-service/pkg/ratelimiter"
	"golang.org/x/sync/errgroup"
)

// BatchClient wraps an embedding provider with batching, bounded retries and
// a shared rate ceiling. The provider is a shared, rate-limited external
// resource; the client respects its own concurrency and rate limits
// independent of how many requests are active system-wide.
//
// A batch either succeeds whole or fails whole; the output vector count and
// order always match the input, so callers can zip texts back to embeddings
// positionally.
type BatchClient struct {
	model       interfaces.EmbeddingModel
	batchSize   int
	maxRetries  int
	concurrency int
	limiter     ratelimiter.RateLimiter
	log         *logger.Logger
}

// NewBatchClient creates a BatchClient around the given provider. The limiter
// may be nil to disable the rate ceiling (used in tests).
func NewBatchClient(model interfaces.EmbeddingModel, cfg *config.EmbeddingConfig, limiter ratelimiter.RateLimiter, log *logger.Logger) *BatchClient {
	return &BatchClient{
		model:       model,
		batchSize:   cfg.BatchSize,
		maxRetries:  cfg.MaxRetries,
		concurrency: cfg.Concurrency,
		limiter:     limiter,
		log:         log,
	}
}

// Embed generates an embedding vector for a single text.
func (c *BatchClient) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch embeds all texts in batches of the configured size, with at most
// the configured number of batches in flight. Any batch failure fails the
// whole call.
func (c *BatchClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result := make([][]float32, len(texts))

	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.concurrency)

	for offset := 0; offset < len(texts); offset += c.batchSize {
		end := offset + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		offset, batch := offset, texts[offset:end]

		eg.Go(func() error {
			vectors, err := c.embedWithRetry(gCtx, batch)
			if err != nil {
				return err
			}
			// Each goroutine writes a disjoint slice range, keyed by its
			// batch offset, so input order is preserved.
			for i, v := range vectors {
				result[offset+i] = v
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

// embedWithRetry issues one provider call for a batch, retrying transient
// failures with exponential backoff up to the configured bound.
func (c *BatchClient) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	backoff := 500 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn(fmt.Sprintf("Retrying embedding batch (attempt %d/%d): %v", attempt, c.maxRetries, lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.waitForSlot(ctx); err != nil {
			return nil, err
		}

		vectors, err := c.model.EmbedBatch(ctx, batch)
		if err == nil {
			if len(vectors) != len(batch) {
				return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts", kberr.ErrProviderUnavailable, len(vectors), len(batch))
			}
			return vectors, nil
		}

		lastErr = err
		if !isTransient(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: retries exhausted: %v", kberr.ErrProviderUnavailable, lastErr)
}

// waitForSlot blocks until the rate ceiling grants a token or the context is
// cancelled.
func (c *BatchClient) waitForSlot(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	for !c.limiter.Allow() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, kberr.ErrRateLimited) || errors.Is(err, kberr.ErrProviderUnavailable)
}
