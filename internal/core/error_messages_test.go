package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "wrapped size guard error",
			err:         fmt.Errorf("read import file: %w", fmt.Errorf("%w: exceeds 10 bytes", ErrFileTooLarge)),
			wantCode:    "FILE001",
			wantMessage: "File exceeds the maximum import size",
		},
		{
			name:        "binary content",
			err:         ErrMalformedFile,
			wantCode:    "FILE002",
			wantMessage: "File is not a valid CSV",
		},
		{
			name:        "empty file",
			err:         ErrEmptyFile,
			wantCode:    "FILE004",
			wantMessage: "The file has no data rows",
		},
		{
			name:        "unknown role",
			err:         fmt.Errorf("%w: %q", ErrUnknownRole, "founder"),
			wantCode:    "VAL001",
			wantMessage: "Unknown role",
		},
		{
			name:        "role busy",
			err:         fmt.Errorf("start import: %w", ErrImportInProgress),
			wantCode:    "IMP001",
			wantMessage: "An import for this role is already running",
		},
		{
			name:        "limiter full",
			err:         ErrTooManyImports,
			wantCode:    "IMP002",
			wantMessage: "Too many imports in progress",
		},
		{
			name:        "record lookup before run lookup",
			err:         ErrRecordNotFound,
			wantCode:    "IMP003",
			wantMessage: "Import record not found",
		},
		{
			name:        "run not found",
			err:         ErrImportNotFound,
			wantCode:    "IMP004",
			wantMessage: "Import run not found",
		},
		{
			name:        "retraction timed out",
			err:         fmt.Errorf("retraction cancelled: %w", context.DeadlineExceeded),
			wantCode:    "IMP006",
			wantMessage: "The import timed out",
		},
		{
			name:        "retraction cancelled",
			err:         fmt.Errorf("retraction cancelled: %w", context.Canceled),
			wantCode:    "IMP005",
			wantMessage: "The import was cancelled",
		},
		{
			name:        "offload not configured",
			err:         ErrOffloadUnavailable,
			wantCode:    "OFF001",
			wantMessage: "Remote import is not available",
		},
		{
			name:        "postgres unique violation",
			err:         errors.New(`ERROR: duplicate key value violates unique constraint "identities_phone_key"`),
			wantCode:    "DB001",
			wantMessage: "A record with this phone number already exists",
		},
		{
			name:        "connection refused",
			err:         errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
			wantCode:    "DB002",
			wantMessage: "Unable to connect to the database",
		},
		{
			name:        "rate limit",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DUPLICATE KEY value violates"),
			wantCode:    "DB001",
			wantMessage: "A record with this phone number already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrImportInProgress)

	expected := "An import for this role is already running (Code: IMP001). Wait for the current import to finish"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "known error is user facing",
			err:  ErrEmptyFile,
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
