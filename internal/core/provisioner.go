package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Strategy names a provisioning implementation.
type Strategy string

const (
	StrategyAuto    Strategy = "auto"
	StrategyBatch   Strategy = "batch"
	StrategyOffload Strategy = "offload"
	StrategyRemote  Strategy = "remote" // runs handled by the remote function endpoint
)

// ParseStrategy accepts "", "auto", "batch" or "offload".
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case "", StrategyAuto:
		return StrategyAuto, true
	case StrategyBatch:
		return StrategyBatch, true
	case StrategyOffload:
		return StrategyOffload, true
	}
	return "", false
}

// ProgressMode tells callers whether a provisioner reports fractional progress.
type ProgressMode int

const (
	ProgressDeterminate ProgressMode = iota
	ProgressIndeterminate
)

// Job is the input to one provisioning run.
type Job struct {
	ImportID string
	Role     Role

	// Content is the raw file, used by provisioners that re-parse remotely.
	Content []byte

	// Rows are the rows that passed validation, in file order.
	Rows []NormalizedRow
}

// Provisioner turns a validated import into stored records. Every
// implementation returns a complete UploadResult; failures are reported
// inside the result rather than as an error.
type Provisioner interface {
	Strategy() Strategy
	Progress() ProgressMode
	Provision(ctx context.Context, job Job, progress ProgressFunc) UploadResult
}

// DefaultOffloadThreshold is the row count above which imports are offloaded.
const DefaultOffloadThreshold = 500

// OffloadPolicy decides between local batching and remote offload.
type OffloadPolicy struct {
	// Threshold is the number of data rows above which offload is chosen.
	Threshold int
}

// Choose returns the strategy for a file with the given number of data rows.
// Offload is only chosen when it is available.
func (p OffloadPolicy) Choose(rows int, offloadAvailable bool) Strategy {
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = DefaultOffloadThreshold
	}
	if offloadAvailable && rows > threshold {
		return StrategyOffload
	}
	return StrategyBatch
}

// BuildPair constructs the identity and role profile for one valid row.
// Both records share id and are flagged bulk-created with basic details
// complete.
func BuildPair(role Role, row NormalizedRow, id string, now time.Time) ProvisionedPair {
	return ProvisionedPair{
		GeneratedID: id,
		LineNumber:  row.LineNumber,
		Identity: IdentityRecord{
			ID:                   id,
			Name:                 row.Name,
			Phone:                row.Phone,
			Email:                row.Email,
			City:                 row.City,
			Region:               row.Region,
			Organization:         row.Organization,
			Role:                 role,
			BulkCreated:          true,
			BasicDetailsComplete: true,
			CreatedAt:            now,
		},
		Profile: ProfileRecord{
			ID:                   id,
			Role:                 role,
			BulkCreated:          true,
			BasicDetailsComplete: true,
			CreatedAt:            now,
			Payload:              NewProfile(role, row),
		},
	}
}

func newRecordID() string {
	return uuid.NewString()
}
