package migrate

import (
	"reflect"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "simple",
			script: "CREATE TABLE a (id INTEGER);\nCREATE TABLE b (id INTEGER);\n",
			want:   []string{"CREATE TABLE a (id INTEGER)", "CREATE TABLE b (id INTEGER)"},
		},
		{
			name:   "semicolon in literal",
			script: "INSERT INTO a VALUES ('x;y');INSERT INTO a VALUES ('it''s;')",
			want:   []string{"INSERT INTO a VALUES ('x;y')", "INSERT INTO a VALUES ('it''s;')"},
		},
		{
			name:   "semicolon in comments",
			script: "-- one; two\nSELECT 1; /* three; */ SELECT 2;",
			want:   []string{"-- one; two\nSELECT 1", "/* three; */ SELECT 2"},
		},
		{
			name:   "trailing comment only",
			script: "SELECT 1;\n-- done\n",
			want:   []string{"SELECT 1"},
		},
		{
			name:   "empty",
			script: "  \n ",
			want:   nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitStatements(tt.script); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitStatements() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStripComments(t *testing.T) {
	if got := stripComments("-- a\n/* b */\n DROP INDEX x"); got != "DROP INDEX x" {
		t.Errorf("stripComments = %q", got)
	}
	if !isDrop("-- legacy\ndrop trigger t") {
		t.Error("isDrop should see through comments")
	}
}
