package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/onboard/internal/logging"
)

// Retractor deletes every bulk-created identity and its profile. It never
// asks for confirmation; deletion is immediate.
type Retractor struct {
	store     BulkDeleter
	batchSize int
}

// NewRetractor creates a retractor that deletes batchSize identities per
// write. Zero or less selects DefaultBatchSize.
func NewRetractor(store BulkDeleter, batchSize int) *Retractor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Retractor{store: store, batchSize: batchSize}
}

// Retract deletes bulk-created records in batches, reporting progress after
// each batch, and returns the number of identities deleted. A failing batch
// stops the run; the count deleted so far is returned with the error.
func (r *Retractor) Retract(ctx context.Context, progress ProgressFunc) (int, error) {
	logger := logging.FromContext(ctx)

	ids, err := r.store.BulkCreatedIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list bulk-created records: %w", err)
	}

	total := len(ids)
	deleted := 0
	for start := 0; start < total; start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return deleted, fmt.Errorf("retraction cancelled: %w", err)
		}

		end := min(start+r.batchSize, total)
		n, err := r.store.DeletePairs(ctx, ids[start:end])
		if err != nil {
			logger.Error("retraction batch failed", "batch", start/r.batchSize+1, "deleted_so_far", deleted, "error", err)
			return deleted, fmt.Errorf("delete batch %d: %w", start/r.batchSize+1, err)
		}
		deleted += n

		if progress != nil {
			progress(end, total)
		}
	}

	logger.Info("bulk retraction finished", "deleted", deleted, "candidates", total)
	return deleted, nil
}
