package core

// batch.go implements the local provisioner.
//
// Valid rows are turned into identity/profile pairs and written in chunks.
// Each chunk is one atomic write. A chunk that fails is counted against the
// run and the next chunk is attempted; progress is reported after every
// chunk, committed or not, so processed always reaches total.

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/onboard/internal/logging"
)

// DefaultBatchSize is the number of pairs written per atomic batch.
const DefaultBatchSize = 400

// BatchProvisioner writes pairs through a PairWriter in bounded batches.
type BatchProvisioner struct {
	writer    PairWriter
	batchSize int

	now   func() time.Time
	newID func() string
}

// NewBatchProvisioner creates a provisioner. batchSize is clamped to the
// writer's own limit; zero or less selects DefaultBatchSize.
func NewBatchProvisioner(writer PairWriter, batchSize int) *BatchProvisioner {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if limit := writer.MaxBatchSize(); limit > 0 && batchSize > limit {
		batchSize = limit
	}
	return &BatchProvisioner{
		writer:    writer,
		batchSize: batchSize,
		now:       time.Now,
		newID:     newRecordID,
	}
}

// BatchSize returns the effective batch size.
func (p *BatchProvisioner) BatchSize() int { return p.batchSize }

// Strategy implements Provisioner.
func (p *BatchProvisioner) Strategy() Strategy { return StrategyBatch }

// Progress implements Provisioner.
func (p *BatchProvisioner) Progress() ProgressMode { return ProgressDeterminate }

// Provision implements Provisioner.
//
// Cancellation is checked between batches only. A batch that has been
// submitted runs to completion; rows in batches never attempted are counted
// as failures.
func (p *BatchProvisioner) Provision(ctx context.Context, job Job, progress ProgressFunc) UploadResult {
	logger := logging.ForImport(ctx, job.ImportID, string(job.Role))

	total := len(job.Rows)
	result := UploadResult{
		IsComplete: true,
		TotalCount: total,
		Errors:     []string{},
	}

	now := p.now()
	pairs := make([]ProvisionedPair, total)
	for i, row := range job.Rows {
		pairs[i] = BuildPair(job.Role, row, p.newID(), now)
	}

	processed := 0
	for start := 0; start < total; start += p.batchSize {
		if err := ctx.Err(); err != nil {
			skipped := total - processed
			result.FailureCount += skipped
			result.Errors = append(result.Errors, fmt.Sprintf("import cancelled: %d rows not attempted", skipped))
			logger.Warn("provisioning cancelled", "processed", processed, "skipped", skipped, "error", err)
			return result
		}

		end := min(start+p.batchSize, total)
		batch := pairs[start:end]

		outcome, err := p.writer.WritePairs(context.WithoutCancel(ctx), batch)
		if err != nil {
			result.FailureCount += len(batch)
			result.Errors = append(result.Errors, fmt.Sprintf("batch %d (lines %d-%d): %v",
				start/p.batchSize+1, batch[0].LineNumber, batch[len(batch)-1].LineNumber, err))
			logger.Warn("batch write failed",
				"batch", start/p.batchSize+1,
				"rows", len(batch),
				"error", err,
			)
		} else {
			written := min(outcome.Written, len(batch))
			result.SuccessCount += written
			result.FailureCount += len(batch) - written
			for _, c := range outcome.Conflicts {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %s", c.LineNumber, MsgPhoneExistsDB))
			}
		}

		processed = end
		if progress != nil {
			progress(processed, total)
		}
	}

	logger.Info("provisioning finished",
		"success", result.SuccessCount,
		"failed", result.FailureCount,
		"total", total,
	)
	return result
}
