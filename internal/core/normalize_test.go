package core

import (
	"testing"
)

// ============================================================================
// NormalizePhone
// ============================================================================

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"9876543210", "9876543210"},
		{"+91 98765-43210", "9876543210"},
		{"+919876543210", "9876543210"},
		{"919876543210", "9876543210"},
		{"91 98765 43210", "9876543210"},
		{"98765\t43210", "9876543210"},
		{"9198765432", "9198765432"},   // 10 digits starting with 91 stays
		{"91987654321", "91987654321"}, // 11 chars, prefix kept
		{"+1 555-0100", "+15550100"},   // other country codes untouched
		{"98765abc10", "98765abc10"},   // never rejects, validator decides
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizePhone(tt.input); got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizePhone_Idempotent(t *testing.T) {
	for _, phone := range []string{"9876543210", "9198765432", "9100000000", "0000000000"} {
		once := NormalizePhone(phone)
		if once != phone {
			t.Errorf("NormalizePhone(%q) = %q, want unchanged", phone, once)
		}
		if twice := NormalizePhone(once); twice != once {
			t.Errorf("NormalizePhone not idempotent for %q: %q then %q", phone, once, twice)
		}
	}
}

// ============================================================================
// Column mapping
// ============================================================================

func TestColumnsFor(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   ColumnMap
	}{
		{
			name:   "no header is positional",
			header: nil,
			want:   PositionalColumns(),
		},
		{
			name:   "known labels in any order",
			header: []string{"Name", "Email", "Phone", "City", "State"},
			want:   ColumnMap{FieldName: 0, FieldEmail: 1, FieldPhone: 2, FieldCity: 3, FieldRegion: 4},
		},
		{
			name:   "unknown label falls back to positional",
			header: []string{"Name", "Phone", "Email", "Notes"},
			want:   PositionalColumns(),
		},
		{
			name:   "repeated field falls back to positional",
			header: []string{"Name", "Phone", "Mobile", "Email"},
			want:   PositionalColumns(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ColumnsFor(tt.header)
			if len(got) != len(tt.want) {
				t.Fatalf("ColumnsFor() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("column %s = %d, want %d", k, got[k], v)
				}
			}
		})
	}
}

func TestNormalizeRow(t *testing.T) {
	raw := RawRow{LineNumber: 4, Fields: []string{"Jane Doe", "+91 98765-43210", "jane@x.com"}}

	got := NormalizeRow(raw)
	want := NormalizedRow{
		LineNumber: 4,
		Name:       "Jane Doe",
		Phone:      "9876543210",
		Email:      "jane@x.com",
	}
	if got != want {
		t.Errorf("NormalizeRow() = %+v, want %+v", got, want)
	}
}

func TestNormalizeRow_ExtraColumnsIgnored(t *testing.T) {
	raw := RawRow{LineNumber: 1, Fields: []string{"A", "9876543210", "a@x.com", "Pune", "MH", "Org", "extra", "more"}}

	got := NormalizeRow(raw)
	if got.Organization != "Org" || got.Region != "MH" {
		t.Errorf("NormalizeRow() = %+v", got)
	}
}

func TestNormalizeFile_HeaderOrder(t *testing.T) {
	parsed := ParseBytes([]byte("Name,Email,Phone,City,Region\nJohn Doe,john@x.com,+91 98765-43210,Mumbai,Maharashtra\n"))

	rows := NormalizeFile(parsed)
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Phone != "9876543210" {
		t.Errorf("Phone = %q, want %q", rows[0].Phone, "9876543210")
	}
	if rows[0].Email != "john@x.com" {
		t.Errorf("Email = %q, want %q", rows[0].Email, "john@x.com")
	}
	if rows[0].LineNumber != 2 {
		t.Errorf("LineNumber = %d, want 2", rows[0].LineNumber)
	}
}
