package llm

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchRunnerConfig configures the batch runner.
type BatchRunnerConfig struct {
	Width int // Items processed concurrently per batch (default: 5)
}

// DefaultBatchRunnerConfig returns the default batch width of 5.
func DefaultBatchRunnerConfig() BatchRunnerConfig {
	return BatchRunnerConfig{Width: 5}
}

// BatchRunner processes items in fixed-width batches: every item of a batch
// must finish before the next batch starts. This bounds concurrent backend
// calls during backfill.
type BatchRunner struct {
	config BatchRunnerConfig
	logger *zap.Logger
}

// NewBatchRunner creates a batch runner.
func NewBatchRunner(config BatchRunnerConfig, logger *zap.Logger) *BatchRunner {
	if config.Width < 1 {
		config.Width = DefaultBatchRunnerConfig().Width
	}
	return &BatchRunner{
		config: config,
		logger: logger.Named("batch-runner"),
	}
}

// Width returns the configured batch width.
func (r *BatchRunner) Width() int {
	return r.config.Width
}

// WorkItem is a unit of work.
type WorkItem[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// WorkResult is the outcome of one work item.
type WorkResult[T any] struct {
	ID     string
	Result T
	Err    error
}

// RunBatches executes items batch by batch and returns results in submission
// order. A failed item does not stop its batch or later batches. When ctx is
// cancelled, batches not yet started are reported with ctx.Err().
func RunBatches[T any](
	ctx context.Context,
	runner *BatchRunner,
	items []WorkItem[T],
	onBatch func(batch, completed, total int),
) []WorkResult[T] {
	if len(items) == 0 {
		return nil
	}

	results := make([]WorkResult[T], len(items))
	width := runner.config.Width
	batch := 0

	for start := 0; start < len(items); start += width {
		end := min(start+width, len(items))

		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				results[i] = WorkResult[T]{ID: items[i].ID, Err: err}
			}
			runner.logger.Info("Batch run cancelled",
				zap.Int("completed", start),
				zap.Int("total", len(items)))
			return results
		}

		// Each goroutine owns its own slot in results and always returns nil,
		// so Wait is purely a barrier.
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				r, err := items[i].Execute(ctx)
				results[i] = WorkResult[T]{ID: items[i].ID, Result: r, Err: err}
				return nil
			})
		}
		_ = g.Wait()

		batch++
		if onBatch != nil {
			onBatch(batch, end, len(items))
		}
	}

	return results
}
