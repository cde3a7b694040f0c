package core

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// headerMarker identifies a header line: any first non-blank line that
// mentions it, in any case, is dropped.
const headerMarker = "email"

// ParsedFile is the parser output: the dropped header, if any, and the data
// rows in file order.
type ParsedFile struct {
	Header []string
	Rows   []RawRow
}

// ParseBytes splits import content into data rows. Blank lines are skipped,
// a header line is dropped, and every remaining line is split on ',' with
// each field trimmed. Line numbers are the physical 1-indexed line positions
// in content, so with a header on line 1 the first data row is line 2.
//
// No validation happens here. Rows with too few or too many fields are
// returned as-is.
func ParseBytes(content []byte) ParsedFile {
	lines := strings.Split(string(content), "\n")
	parsed := ParsedFile{Rows: make([]RawRow, 0, len(lines))}

	seenFirst := false
	for i, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := splitFields(line)
		if !seenFirst {
			seenFirst = true
			if strings.Contains(strings.ToLower(line), headerMarker) {
				parsed.Header = fields
				continue
			}
		}

		parsed.Rows = append(parsed.Rows, RawRow{LineNumber: i + 1, Fields: fields})
	}

	return parsed
}

func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	for j := range parts {
		parts[j] = strings.TrimSpace(parts[j])
	}
	return parts
}

// ReadContent reads an import file through WrapForParsing and rejects
// content that cannot be a text file.
func ReadContent(r io.Reader, maxBytes int64) ([]byte, error) {
	content, err := io.ReadAll(WrapForParsing(r, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	if bytes.IndexByte(content, 0) >= 0 {
		return nil, ErrMalformedFile
	}
	return content, nil
}
