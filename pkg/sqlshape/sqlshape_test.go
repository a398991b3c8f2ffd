package sqlshape

import (
	"strings"
	"testing"
)

func TestValidateQueryShape(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr string // empty means valid
	}{
		{
			name: "simple select",
			sql:  "SELECT * FROM slice",
		},
		{
			name: "with statement",
			sql:  "WITH t AS (SELECT 1) SELECT * FROM t",
		},
		{
			name: "include prologue then select",
			sql:  "INCLUDE PERFETTO MODULE slices.with_context;\nSELECT * FROM thread_or_process_slice",
		},
		{
			name: "multiple includes",
			sql:  "INCLUDE PERFETTO MODULE a.b; INCLUDE PERFETTO MODULE c.d; SELECT 1",
		},
		{
			name: "set operators inside one statement",
			sql:  "SELECT id FROM a UNION ALL SELECT id FROM b INTERSECT SELECT id FROM c",
		},
		{
			name: "lowercase select",
			sql:  "select id from slice",
		},
		{
			name: "trailing semicolon",
			sql:  "SELECT 1;",
		},
		{
			name: "semicolon inside string literal",
			sql:  "SELECT ';' AS sep FROM slice",
		},
		{
			name: "statement hidden in comment is ignored",
			sql:  "-- DROP TABLE slice;\nSELECT * FROM slice",
		},
		{
			name:    "empty",
			sql:     "   ",
			wantErr: "empty",
		},
		{
			name:    "only comments",
			sql:     "-- nothing here\n/* still nothing */",
			wantErr: "no statements",
		},
		{
			name:    "insert rejected",
			sql:     "INSERT INTO t VALUES (1)",
			wantErr: `"INSERT"`,
		},
		{
			name:    "drop before select rejected",
			sql:     "DROP TABLE t; SELECT 1",
			wantErr: `"DROP"`,
		},
		{
			name:    "second statement after select rejected",
			sql:     "SELECT 1; SELECT 2",
			wantErr: `"SELECT" statement after`,
		},
		{
			name:    "include after select rejected",
			sql:     "SELECT 1; INCLUDE PERFETTO MODULE a.b",
			wantErr: "after the query",
		},
		{
			name:    "malformed include",
			sql:     "INCLUDE SOMETHING ELSE; SELECT 1",
			wantErr: "malformed include",
		},
		{
			name:    "include without module name",
			sql:     "INCLUDE PERFETTO MODULE; SELECT 1",
			wantErr: "malformed include",
		},
		{
			name:    "include only",
			sql:     "INCLUDE PERFETTO MODULE a.b;",
			wantErr: "must contain a SELECT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQueryShape(tt.sql)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSplitPreamble(t *testing.T) {
	pre, body := SplitPreamble("INCLUDE PERFETTO MODULE a.b;\nINCLUDE PERFETTO MODULE c.d;\nSELECT * FROM slice")
	if pre != "INCLUDE PERFETTO MODULE a.b;\nINCLUDE PERFETTO MODULE c.d;" {
		t.Errorf("unexpected preamble: %q", pre)
	}
	if body != "SELECT * FROM slice" {
		t.Errorf("unexpected body: %q", body)
	}

	pre, body = SplitPreamble("SELECT 1")
	if pre != "" || body != "SELECT 1" {
		t.Errorf("unexpected split: %q / %q", pre, body)
	}
}

func TestIncludedModules(t *testing.T) {
	modules := IncludedModules("INCLUDE PERFETTO MODULE a.b; INCLUDE PERFETTO MODULE c.d; SELECT 1")
	if len(modules) != 2 || modules[0] != "a.b" || modules[1] != "c.d" {
		t.Errorf("unexpected modules: %v", modules)
	}
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("SELECT * FROM $input_0 JOIN $input_1 USING (id) WHERE name != '$input_0' -- $input_2")
	if len(got) != 2 || got[0] != "input_0" || got[1] != "input_1" {
		t.Errorf("unexpected placeholders: %v", got)
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	sql := "SELECT * FROM $input_0 WHERE note = 'keep $input_0' AND x IN (SELECT x FROM $input_1)"
	got := SubstitutePlaceholders(sql, map[string]string{
		"input_0": "sq_a",
		"input_1": "sq_b",
	})
	want := "SELECT * FROM sq_a WHERE note = 'keep $input_0' AND x IN (SELECT x FROM sq_b)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Unknown placeholders stay untouched.
	got = SubstitutePlaceholders("SELECT $other", map[string]string{"input_0": "x"})
	if got != "SELECT $other" {
		t.Errorf("unknown placeholder rewritten: %q", got)
	}
}
