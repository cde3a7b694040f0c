package core

import "errors"

// Sentinel errors returned by the import pipeline. Callers wrap these with
// fmt.Errorf("...: %w", err); use errors.Is to test for them.
var (
	ErrEmptyFile          = errors.New("empty file: no data rows")
	ErrFileTooLarge       = errors.New("file too large")
	ErrMalformedFile      = errors.New("invalid csv: file contains binary data")
	ErrUnknownRole        = errors.New("unknown role")
	ErrImportInProgress   = errors.New("import already in progress for role")
	ErrImportNotFound     = errors.New("import not found")
	ErrRecordNotFound     = errors.New("import record not found")
	ErrOffloadUnavailable = errors.New("offload provisioner not configured")
	ErrUnknownStrategy    = errors.New("unknown strategy")
)
