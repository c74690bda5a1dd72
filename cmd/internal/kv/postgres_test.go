package kv

import (
	"testing"
)

func TestNewPostgresRejectsNilPool(t *testing.T) {
	if _, err := NewPostgres(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}

func TestWithSchemaValidation(t *testing.T) {
	cases := []struct {
		schema string
		ok     bool
	}{
		{"skiff", true},
		{"skiff_test", true},
		{"_private", true},
		{"s1", true},
		{"", false},
		{"  ", false},
		{"1skiff", false},
		{"Skiff", false},
		{`pub"lic`, false},
		{"skiff;drop table users", false},
	}
	for _, tc := range cases {
		err := WithSchema(tc.schema)(&Postgres{})
		if tc.ok && err != nil {
			t.Fatalf("schema %q: unexpected error %v", tc.schema, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("schema %q: expected rejection", tc.schema)
		}
	}
}

func TestPGIdentQuoting(t *testing.T) {
	if got := pgIdent("skiff", "kv_entries"); got != `"skiff"."kv_entries"` {
		t.Fatalf("unexpected quoted identifier %q", got)
	}
}
