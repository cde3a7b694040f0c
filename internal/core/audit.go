package core

import (
	"strings"
	"time"
)

// maxStoredErrors caps the row errors kept on one audit record.
const maxStoredErrors = 100

// RecordInput carries everything needed to build an audit record.
type RecordInput struct {
	ImportID    string
	Role        Role
	Strategy    Strategy
	FilePath    string
	OperatorID  string
	Summary     *ValidationSummary // nil when the run was not validated locally
	ParsedRows  int                // data rows in the file, used when Summary is nil
	Result      UploadResult
	StartedAt   time.Time
	CompletedAt time.Time
}

// LocalImportPath is recorded when the source file was not archived.
const LocalImportPath = "local_import"

// NewImportRecord builds the audit record for a finished run.
//
// For local runs the failure count is provisioning failures plus rows
// rejected during validation. Offloaded runs are validated remotely, so the
// remote failure count already includes rejected rows.
func NewImportRecord(in RecordInput) ImportRecord {
	rec := ImportRecord{
		ID:                  in.ImportID,
		Role:                in.Role,
		Strategy:            in.Strategy,
		FilePath:            in.FilePath,
		SuccessCount:        in.Result.SuccessCount,
		FailureCount:        in.Result.FailureCount,
		CreatedByOperatorID: in.OperatorID,
		CreatedAt:           in.StartedAt,
		CompletedAt:         in.CompletedAt,
	}
	if rec.FilePath == "" {
		rec.FilePath = LocalImportPath
	}

	switch {
	case in.Strategy == StrategyOffload && !in.Result.Aborted:
		rec.TotalRows = in.Result.TotalCount
	case in.Summary != nil:
		rec.TotalRows = in.Summary.TotalRows
	default:
		rec.TotalRows = in.ParsedRows
	}

	if in.Summary != nil && in.Strategy != StrategyOffload {
		rec.FailureCount += in.Summary.InvalidRows
	}

	rec.Status = StatusFor(rec.FailureCount)
	rec.Errors = collectErrors(in.Summary, in.Strategy, in.Result.Errors)
	return rec
}

// StatusFor returns the audit status for a run's total failure count.
func StatusFor(failures int) ImportStatus {
	if failures == 0 {
		return StatusCompleted
	}
	return StatusCompletedWithErrors
}

// collectErrors gathers validation and provisioning errors, capped at
// maxStoredErrors. Validation errors come first, in file order.
func collectErrors(summary *ValidationSummary, strategy Strategy, provisioning []string) []ImportError {
	var out []ImportError

	if summary != nil && strategy != StrategyOffload {
		for _, v := range summary.Rows {
			if v.Valid {
				continue
			}
			if len(out) >= maxStoredErrors {
				return out
			}
			out = append(out, ImportError{
				RowNumber: v.Row.LineNumber,
				Message:   strings.Join(v.Errors, "; "),
				RawData:   rawData(v.Row),
			})
		}
	}

	for _, msg := range provisioning {
		if len(out) >= maxStoredErrors {
			return out
		}
		out = append(out, ImportError{Message: msg})
	}
	return out
}

func rawData(row NormalizedRow) string {
	return strings.Join([]string{row.Name, row.Phone, row.Email, row.City, row.Region, row.Organization}, ",")
}

// FailedRecord builds the record for a run that crashed before it could
// produce a result.
func FailedRecord(in RecordInput, cause string) ImportRecord {
	rec := NewImportRecord(in)
	rec.Status = StatusFailed
	if len(rec.Errors) < maxStoredErrors {
		rec.Errors = append(rec.Errors, ImportError{Message: cause})
	}
	return rec
}
