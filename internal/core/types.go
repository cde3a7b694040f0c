// Package core provides the business logic for bulk onboarding imports.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"context"
	"time"
)

// Canonical field keys for a normalized row.
const (
	FieldName         = "name"
	FieldPhone        = "phone"
	FieldEmail        = "email"
	FieldCity         = "city"
	FieldRegion       = "region"
	FieldOrganization = "organization"
)

// ColumnOrder is the positional layout of an import file.
var ColumnOrder = []string{FieldName, FieldPhone, FieldEmail, FieldCity, FieldRegion, FieldOrganization}

// TemplateHeader is the header line offered to operators as a download.
const TemplateHeader = "Name,Phone,Email,City,Region,Organization"

// RawRow is one non-blank data line after header removal.
type RawRow struct {
	LineNumber int      // Physical 1-indexed line in the source file
	Fields     []string // Split on ',' and trimmed
}

// NormalizedRow holds the canonical fields for one row.
type NormalizedRow struct {
	LineNumber   int    `json:"lineNumber"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	City         string `json:"city"`
	Region       string `json:"region"`
	Organization string `json:"organization"`
}

// Fields returns the row keyed by canonical field name.
func (r NormalizedRow) Fields() map[string]string {
	return map[string]string{
		FieldName:         r.Name,
		FieldPhone:        r.Phone,
		FieldEmail:        r.Email,
		FieldCity:         r.City,
		FieldRegion:       r.Region,
		FieldOrganization: r.Organization,
	}
}

// RowVerdict is the validation outcome of a single row.
type RowVerdict struct {
	Row    NormalizedRow `json:"row"`
	Valid  bool          `json:"valid"`
	Errors []string      `json:"errors"`
}

// ValidationSummary is the result of one validation run. A new summary is
// produced on every call; nothing carries over between runs.
type ValidationSummary struct {
	TotalRows   int          `json:"totalRows"`
	ValidRows   int          `json:"validRows"`
	InvalidRows int          `json:"invalidRows"`
	Rows        []RowVerdict `json:"rows"`
}

// Valid returns the verdicts that passed validation, in file order.
func (s *ValidationSummary) Valid() []RowVerdict {
	out := make([]RowVerdict, 0, s.ValidRows)
	for _, v := range s.Rows {
		if v.Valid {
			out = append(out, v)
		}
	}
	return out
}

// Invalid returns the verdicts that failed validation, in file order.
func (s *ValidationSummary) Invalid() []RowVerdict {
	out := make([]RowVerdict, 0, s.InvalidRows)
	for _, v := range s.Rows {
		if !v.Valid {
			out = append(out, v)
		}
	}
	return out
}

// Consistent reports whether the summary counts agree with its rows.
func (s *ValidationSummary) Consistent() bool {
	return s.TotalRows == len(s.Rows) && s.TotalRows == s.ValidRows+s.InvalidRows
}

// IdentityRecord is the primary record created for each imported person.
type IdentityRecord struct {
	ID                   string    `json:"id" bson:"_id"`
	Name                 string    `json:"name" bson:"name"`
	Phone                string    `json:"phoneNumber" bson:"phoneNumber"`
	Email                string    `json:"email" bson:"email"`
	City                 string    `json:"city" bson:"city"`
	Region               string    `json:"region" bson:"region"`
	Organization         string    `json:"organization" bson:"organization"`
	Role                 Role      `json:"role" bson:"role"`
	BulkCreated          bool      `json:"isBulkCreated" bson:"isBulkCreated"`
	BasicDetailsComplete bool      `json:"hasCompletedBasicDetails" bson:"hasCompletedBasicDetails"`
	CreatedAt            time.Time `json:"createdAt" bson:"createdAt"`
}

// ProfileRecord is the role-specific record that shares its ID with an identity.
type ProfileRecord struct {
	ID                   string    `json:"id"`
	Role                 Role      `json:"role"`
	BulkCreated          bool      `json:"isBulkCreated"`
	BasicDetailsComplete bool      `json:"hasCompletedBasicDetails"`
	CreatedAt            time.Time `json:"createdAt"`
	Payload              Profile   `json:"payload"`
}

// ProvisionedPair is the unit written atomically for one valid row.
type ProvisionedPair struct {
	GeneratedID string
	LineNumber  int
	Identity    IdentityRecord
	Profile     ProfileRecord
}

// UploadResult is the outcome of a provisioning run. When IsComplete is true,
// SuccessCount + FailureCount == TotalCount.
type UploadResult struct {
	IsComplete   bool     `json:"isComplete"`
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	TotalCount   int      `json:"totalCount"`
	Errors       []string `json:"errors"`

	// Aborted marks a run that never executed, for example when the remote
	// function could not be reached.
	Aborted bool `json:"aborted,omitempty"`
}

// ProgressFunc receives (processed, total) after each unit of work.
type ProgressFunc func(processed, total int)

// ImportStatus is the terminal status of an audit record.
type ImportStatus string

const (
	StatusCompleted           ImportStatus = "completed"
	StatusCompletedWithErrors ImportStatus = "completed_with_errors"
	StatusFailed              ImportStatus = "failed"
)

// ImportError is a row-level failure stored with an audit record.
type ImportError struct {
	RowNumber int    `json:"rowNumber" bson:"rowNumber"`
	Message   string `json:"errorMessage" bson:"errorMessage"`
	RawData   string `json:"rawData,omitempty" bson:"rawData,omitempty"`
}

// ImportRecord is the immutable audit entry written once per completed run.
type ImportRecord struct {
	ID                  string        `json:"id" bson:"_id"`
	Role                Role          `json:"role" bson:"role"`
	Status              ImportStatus  `json:"status" bson:"status"`
	Strategy            Strategy      `json:"strategy" bson:"strategy"`
	FilePath            string        `json:"filePath" bson:"filePath"`
	TotalRows           int           `json:"totalRows" bson:"totalRows"`
	SuccessCount        int           `json:"successCount" bson:"successCount"`
	FailureCount        int           `json:"failureCount" bson:"failureCount"`
	CreatedByOperatorID string        `json:"createdByAdminId" bson:"createdByAdminId"`
	CreatedAt           time.Time     `json:"createdAt" bson:"createdAt"`
	CompletedAt         time.Time     `json:"completedAt" bson:"completedAt"`
	Errors              []ImportError `json:"errors,omitempty" bson:"errors,omitempty"`
}

// ImportPhase indicates the current stage of an import run.
type ImportPhase string

const (
	PhaseStarting     ImportPhase = "starting"
	PhaseValidating   ImportPhase = "validating"
	PhaseProvisioning ImportPhase = "provisioning"
	PhaseRecording    ImportPhase = "recording"
	PhaseComplete     ImportPhase = "complete"
	PhaseFailed       ImportPhase = "failed"
)

// ImportProgress is the progress snapshot broadcast to subscribers.
type ImportProgress struct {
	ImportID      string      `json:"importId"`
	Role          Role        `json:"role"`
	Strategy      Strategy    `json:"strategy"`
	Phase         ImportPhase `json:"phase"`
	Processed     int         `json:"processed"`
	Total         int         `json:"total"`
	Indeterminate bool        `json:"indeterminate"`
	Error         string      `json:"error,omitempty"`
}

// Percent returns the progress as a percentage (0-100), or -1 when the
// active provisioner cannot report progress.
func (p ImportProgress) Percent() int {
	if p.Indeterminate {
		return -1
	}
	if p.Total <= 0 {
		return 0
	}
	return (p.Processed * 100) / p.Total
}

// ImportOutcome is what a finished run exposes to callers.
type ImportOutcome struct {
	ImportID string             `json:"importId"`
	Role     Role               `json:"role"`
	Strategy Strategy           `json:"strategy"`
	Summary  *ValidationSummary `json:"summary,omitempty"`
	Result   UploadResult       `json:"result"`
	Record   *ImportRecord      `json:"record,omitempty"`
	Duration time.Duration      `json:"duration"`
	Error    string             `json:"error,omitempty"`
}

// RetractionResult reports a bulk retraction.
type RetractionResult struct {
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// PhoneSource lists every phone number already persisted.
type PhoneSource interface {
	ExistingPhones(ctx context.Context) ([]string, error)
}

// WriteOutcome reports which pairs of a batch were rejected because their
// phone number was already taken at write time.
type WriteOutcome struct {
	Written   int
	Conflicts []ProvisionedPair
}

// PairWriter persists identity/profile pairs. One call is one atomic batch:
// either every non-conflicting pair is committed or none is.
type PairWriter interface {
	MaxBatchSize() int
	WritePairs(ctx context.Context, pairs []ProvisionedPair) (WriteOutcome, error)
}

// BulkDeleter removes bulk-created identities and their profiles.
type BulkDeleter interface {
	BulkCreatedIDs(ctx context.Context) ([]string, error)
	// DeletePairs deletes the identities with the given IDs, and their
	// profiles, only where the identity is still flagged bulk-created.
	DeletePairs(ctx context.Context, ids []string) (int, error)
}

// ImportRecordStore persists audit records.
type ImportRecordStore interface {
	InsertImportRecord(ctx context.Context, rec ImportRecord) error
	ListImportRecords(ctx context.Context, limit int) ([]ImportRecord, error)
	GetImportRecord(ctx context.Context, id string) (ImportRecord, error)
}

// Store is the full persistence surface the service needs.
type Store interface {
	PhoneSource
	PairWriter
	BulkDeleter
	ImportRecordStore
}
