// internal/realtime/filter_test.go
package realtime

import (
	"testing"
)

func TestParseFilter(t *testing.T) {
	tests := []struct {
		input   string
		column  string
		op      string
		value   string
		wantErr bool
	}{
		{"user_id=eq.123", "user_id", "eq", "123", false},
		{"age=gte.18", "age", "gte", "18", false},
		{"status=in.(active,pending)", "status", "in", "(active,pending)", false},
		{"name=eq.a.b", "name", "eq", "a.b", false},
		{"invalid", "", "", "", true},
		{"=eq.1", "", "", "", true},
		{"col=eq", "", "", "", true},
		{"col=like.x", "", "", "", true},
		{"status=in.active", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f, err := ParseFilter(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if f.Column != tt.column || f.Operator != tt.op || f.Value != tt.value {
				t.Errorf("got %+v", f)
			}
			if f.String() != tt.input {
				t.Errorf("String() = %q, want %q", f.String(), tt.input)
			}
		})
	}
}

func TestFilterValues(t *testing.T) {
	f, err := ParseFilter("status=in.(active, pending ,done)")
	if err != nil {
		t.Fatal(err)
	}
	values := f.Values()
	if len(values) != 3 || values[1] != "pending" {
		t.Errorf("unexpected values: %q", values)
	}

	f, _ = ParseFilter("id=eq.5")
	if v := f.Values(); len(v) != 1 || v[0] != "5" {
		t.Errorf("unexpected values: %q", v)
	}

	f, _ = ParseFilter("id=in.()")
	if v := f.Values(); v != nil {
		t.Errorf("expected no values, got %q", v)
	}
}
