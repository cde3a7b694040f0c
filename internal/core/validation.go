package core

// validation.go checks normalized rows before anything is written.
//
// Validation happens at two levels:
//  1. Field checks: required fields, phone shape, email shape (ValidateFields)
//  2. Uniqueness: phone against the persisted snapshot and earlier rows in
//     the same file (UniquenessGuard)
//
// Errors are plain strings in a fixed order so operators, tests and the
// stored audit trail all see the same text.

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Row-level error messages.
const (
	MsgMissingName       = "Missing Full Name"
	MsgMissingPhone      = "Missing Phone Number"
	MsgPhoneInvalidChars = "Phone contains invalid characters"
	MsgPhoneLength       = "Phone must be 10 digits"
	MsgMissingEmail      = "Missing Email"
	MsgInvalidEmail      = "Invalid Email Format"
	MsgMissingCity       = "Missing City"
	MsgMissingRegion     = "Missing Region"
	MsgPhoneExistsDB     = "Phone already exists (DB)"
	MsgPhoneDuplicateCSV = "Duplicate Phone in CSV"
)

// PhoneLength is the digit count of a normalized phone number.
const PhoneLength = 10

// validate is safe for concurrent use and caches tag parsing.
var validate = validator.New()

// ValidateFields returns the field errors for a row in fixed order. It does
// not check uniqueness.
func ValidateFields(row NormalizedRow) []string {
	var errs []string

	if row.Name == "" {
		errs = append(errs, MsgMissingName)
	}

	if msg := phoneError(row.Phone); msg != "" {
		errs = append(errs, msg)
	}

	switch {
	case row.Email == "":
		errs = append(errs, MsgMissingEmail)
	case validate.Var(row.Email, "email") != nil:
		errs = append(errs, MsgInvalidEmail)
	}

	if row.City == "" {
		errs = append(errs, MsgMissingCity)
	}
	if row.Region == "" {
		errs = append(errs, MsgMissingRegion)
	}

	return errs
}

func phoneError(phone string) string {
	if phone == "" {
		return MsgMissingPhone
	}
	if !isDigits(phone) {
		return MsgPhoneInvalidChars
	}
	if len(phone) != PhoneLength {
		return MsgPhoneLength
	}
	return ""
}

// WellFormedPhone reports whether phone passes the shape checks.
func WellFormedPhone(phone string) bool {
	return phoneError(phone) == ""
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// UniquenessGuard tracks phone numbers for one validation run: the persisted
// snapshot, read once, and the phones accepted so far from the file.
type UniquenessGuard struct {
	persisted map[string]struct{}
	seen      map[string]struct{}
}

// NewUniquenessGuard reads the persisted phone snapshot once.
func NewUniquenessGuard(ctx context.Context, src PhoneSource) (*UniquenessGuard, error) {
	phones, err := src.ExistingPhones(ctx)
	if err != nil {
		return nil, fmt.Errorf("load existing phones: %w", err)
	}
	return newUniquenessGuard(phones), nil
}

func newUniquenessGuard(phones []string) *UniquenessGuard {
	g := &UniquenessGuard{
		persisted: make(map[string]struct{}, len(phones)),
		seen:      make(map[string]struct{}),
	}
	for _, p := range phones {
		g.persisted[p] = struct{}{}
	}
	return g
}

// Check returns the uniqueness error for phone, if any. A phone that passes
// is remembered so later rows carrying it are flagged as in-file duplicates.
func (g *UniquenessGuard) Check(phone string) string {
	if _, ok := g.persisted[phone]; ok {
		return MsgPhoneExistsDB
	}
	if _, ok := g.seen[phone]; ok {
		return MsgPhoneDuplicateCSV
	}
	g.seen[phone] = struct{}{}
	return ""
}

// ValidateRows validates every row against the field rules and a fresh
// uniqueness snapshot. Each call builds its own guard.
func ValidateRows(ctx context.Context, rows []NormalizedRow, src PhoneSource) (*ValidationSummary, error) {
	guard, err := NewUniquenessGuard(ctx, src)
	if err != nil {
		return nil, err
	}

	summary := &ValidationSummary{
		TotalRows: len(rows),
		Rows:      make([]RowVerdict, 0, len(rows)),
	}

	for _, row := range rows {
		errs := ValidateFields(row)
		if WellFormedPhone(row.Phone) {
			if msg := guard.Check(row.Phone); msg != "" {
				errs = append(errs, msg)
			}
		}

		verdict := RowVerdict{Row: row, Valid: len(errs) == 0, Errors: errs}
		if verdict.Errors == nil {
			verdict.Errors = []string{}
		}
		if verdict.Valid {
			summary.ValidRows++
		} else {
			summary.InvalidRows++
		}
		summary.Rows = append(summary.Rows, verdict)
	}

	return summary, nil
}

// ValidateContent parses, normalizes and validates raw import content.
func ValidateContent(ctx context.Context, content []byte, src PhoneSource) (*ValidationSummary, error) {
	parsed := ParseBytes(content)
	if len(parsed.Rows) == 0 {
		return nil, ErrEmptyFile
	}
	return ValidateRows(ctx, NormalizeFile(parsed), src)
}
