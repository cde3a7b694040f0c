// # Error Codes Reference
//
// This file defines operator-facing error messages with codes for support
// reference. Operators can quote the code to support staff for faster
// diagnosis.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: The file exceeds the maximum import size
//	          Patterns: "file too large"
//	FILE002 - Invalid CSV: The file is not a text CSV
//	          Patterns: "invalid csv"
//	FILE003 - No file: No file was selected
//	          Patterns: "no file provided"
//	FILE004 - Empty file: The file has no data rows
//	          Patterns: "empty file"
//	FILE005 - Read error: The upload could not be read
//	          Patterns: "read import file"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Unknown role: The role is not startup, investor or mentor
//	         Patterns: "unknown role"
//	VAL002 - Unknown strategy: The strategy is not auto, batch or offload
//	         Patterns: "unknown strategy"
//
// # Import Run Errors (IMP001-IMP099)
//
//	IMP001 - Role busy: An import for this role is already running
//	         Patterns: "import already in progress"
//	IMP002 - System busy: Too many imports in progress
//	         Patterns: "too many imports"
//	IMP003 - Record not found: No audit record with this ID
//	         Patterns: "import record not found"
//	IMP004 - Run not found: The import run expired or never existed
//	         Patterns: "import not found"
//	IMP006 - Timed out: The run exceeded its time limit
//	         Patterns: "context deadline exceeded"
//	IMP005 - Cancelled: The run or request was cancelled
//	         Patterns: "cancelled", "context canceled"
//
// # Offload Errors (OFF001-OFF099)
//
//	OFF001 - Offload unavailable: No remote import function is configured
//	         Patterns: "offload provisioner not configured"
//	OFF002 - Remote failure: The remote import function returned an error
//	         Patterns: "remote import function"
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Duplicate: A record with this phone number already exists
//	        Patterns: "duplicate key", "unique constraint", "violates unique"
//	DB002 - Connection refused: Unable to connect to the store
//	        Patterns: "connection refused", "server selection"
//	DB003 - Connection reset: The store connection was interrupted
//	        Patterns: "connection reset"
//	DB004 - Timeout: The store took too long to respond
//	        Patterns: "timeout"
//	DB005 - Deadlock: The store was busy with conflicting writes
//	        Patterns: "deadlock", "write conflict"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check the server log for the original
// error when an operator reports ERR000.
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. Order matters; keep the reference above in sync.
var errorPatterns = []errorPattern{
	// =========================================================================
	// File Errors
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum import size",
			Action:  "Split the file into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Export the sheet as comma-separated text and try again",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to import",
			Code:    "FILE003",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The file has no data rows",
			Action:  "Add at least one row below the header",
			Code:    "FILE004",
		},
	},
	{
		pattern: "read import file",
		msg: UserMessage{
			Message: "The uploaded file could not be read",
			Action:  "Please upload the file again",
			Code:    "FILE005",
		},
	},

	// =========================================================================
	// Validation Errors
	// =========================================================================
	{
		pattern: "unknown role",
		msg: UserMessage{
			Message: "Unknown role",
			Action:  "Choose startup, investor or mentor",
			Code:    "VAL001",
		},
	},
	{
		pattern: "unknown strategy",
		msg: UserMessage{
			Message: "Unknown import strategy",
			Action:  "Use auto, batch or offload",
			Code:    "VAL002",
		},
	},

	// =========================================================================
	// Import Run Errors
	// =========================================================================
	{
		pattern: "import already in progress",
		msg: UserMessage{
			Message: "An import for this role is already running",
			Action:  "Wait for the current import to finish",
			Code:    "IMP001",
		},
	},
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "Too many imports in progress",
			Action:  "Please wait a moment and try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import record not found",
		msg: UserMessage{
			Message: "Import record not found",
			Action:  "Check the record ID in the import history",
			Code:    "IMP003",
		},
	},
	{
		pattern: "import not found",
		msg: UserMessage{
			Message: "Import run not found",
			Action:  "The run may have expired. Check the import history for its record",
			Code:    "IMP004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "The import timed out",
			Action:  "Try a smaller file or use the offload strategy",
			Code:    "IMP006",
		},
	},
	{
		pattern: "cancelled",
		msg: UserMessage{
			Message: "The import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "IMP005",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "The request was cancelled",
			Action:  "Please try again",
			Code:    "IMP005",
		},
	},

	// =========================================================================
	// Offload Errors
	// =========================================================================
	{
		pattern: "offload provisioner not configured",
		msg: UserMessage{
			Message: "Remote import is not available",
			Action:  "Use the batch strategy or ask an administrator to configure OFFLOAD_URL",
			Code:    "OFF001",
		},
	},
	{
		pattern: "remote import function",
		msg: UserMessage{
			Message: "The remote import function failed",
			Action:  "Check the import history before retrying",
			Code:    "OFF002",
		},
	},

	// =========================================================================
	// Store Errors
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this phone number already exists",
			Action:  "Validate the file again to find duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "A record with this phone number already exists",
			Action:  "Validate the file again to find duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A record with this phone number already exists",
			Action:  "Validate the file again to find duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "server selection",
		msg: UserMessage{
			Message: "Unable to connect to the database",
			Action:  "Please try again in a few moments",
			Code:    "DB002",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB003",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "The database took too long to respond",
			Action:  "Please try again later",
			Code:    "DB004",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting writes",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "write conflict",
		msg: UserMessage{
			Message: "Database was busy with conflicting writes",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},

	// =========================================================================
	// Rate Limiting
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to an operator-facing message. If no
// pattern matches, the ERR000 fallback is returned.
//
//	msg := MapError(fmt.Errorf("start import: %w", ErrImportInProgress))
//	// msg.Code == "IMP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
