package core

import (
	"strings"
	"unicode"
)

// countryPrefix is the dialing code stripped from phone numbers.
const countryPrefix = "91"

// headerAliases maps lowercase header labels to canonical field keys.
var headerAliases = map[string]string{
	"name":          FieldName,
	"full name":     FieldName,
	"fullname":      FieldName,
	"phone":         FieldPhone,
	"phone number":  FieldPhone,
	"phonenumber":   FieldPhone,
	"mobile":        FieldPhone,
	"email":         FieldEmail,
	"email address": FieldEmail,
	"city":          FieldCity,
	"region":        FieldRegion,
	"state":         FieldRegion,
	"organization":  FieldOrganization,
	"organisation":  FieldOrganization,
	"company":       FieldOrganization,
}

// ColumnMap maps canonical field keys to column positions.
type ColumnMap map[string]int

// PositionalColumns is the default layout: Name, Phone, Email, City, Region,
// Organization.
func PositionalColumns() ColumnMap {
	m := make(ColumnMap, len(ColumnOrder))
	for i, key := range ColumnOrder {
		m[key] = i
	}
	return m
}

// ColumnsFor returns the column layout for a parsed file. A header is honored
// only when every label in it is recognized and none repeats; otherwise the
// positional layout applies.
func ColumnsFor(header []string) ColumnMap {
	if len(header) == 0 {
		return PositionalColumns()
	}

	m := make(ColumnMap, len(header))
	for i, label := range header {
		key, ok := headerAliases[strings.ToLower(strings.TrimSpace(label))]
		if !ok {
			return PositionalColumns()
		}
		if _, dup := m[key]; dup {
			return PositionalColumns()
		}
		m[key] = i
	}
	return m
}

// NormalizeRow maps fields to canonical names using the positional layout.
func NormalizeRow(raw RawRow) NormalizedRow {
	return PositionalColumns().Normalize(raw)
}

// Normalize maps raw fields to canonical names. Columns missing from the row
// or from the layout become empty strings; extra columns are ignored.
func (m ColumnMap) Normalize(raw RawRow) NormalizedRow {
	field := func(key string) string {
		i, ok := m[key]
		if !ok || i >= len(raw.Fields) {
			return ""
		}
		return strings.TrimSpace(raw.Fields[i])
	}

	return NormalizedRow{
		LineNumber:   raw.LineNumber,
		Name:         field(FieldName),
		Phone:        NormalizePhone(field(FieldPhone)),
		Email:        field(FieldEmail),
		City:         field(FieldCity),
		Region:       field(FieldRegion),
		Organization: field(FieldOrganization),
	}
}

// NormalizeFile normalizes every row of a parsed file.
func NormalizeFile(parsed ParsedFile) []NormalizedRow {
	cols := ColumnsFor(parsed.Header)
	rows := make([]NormalizedRow, len(parsed.Rows))
	for i, raw := range parsed.Rows {
		rows[i] = cols.Normalize(raw)
	}
	return rows
}

// NormalizePhone strips whitespace and hyphens, then removes a "+91" prefix,
// or a bare "91" prefix on a 12-character number. It never fails; the
// validator judges the result.
func NormalizePhone(phone string) string {
	phone = strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, phone)

	switch {
	case strings.HasPrefix(phone, "+"+countryPrefix):
		return phone[len(countryPrefix)+1:]
	case strings.HasPrefix(phone, countryPrefix) && len(phone) == 12:
		return phone[len(countryPrefix):]
	}
	return phone
}
