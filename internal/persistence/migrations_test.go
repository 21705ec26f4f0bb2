package persistence

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsSortsByVersion(t *testing.T) {
	files := fstest.MapFS{
		"migrations/0002_history.sql":      {Data: []byte("CREATE TABLE b ();")},
		"migrations/0001_conversation.sql": {Data: []byte("CREATE TABLE a ();")},
		"migrations/README.md":             {Data: []byte("ignored")},
	}

	got, err := loadMigrations(files)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(got))
	}
	if got[0].version != "0001_conversation" || got[1].version != "0002_history" {
		t.Fatalf("unexpected order %q, %q", got[0].version, got[1].version)
	}
}

func TestEmbeddedSchemaPresent(t *testing.T) {
	got, err := loadMigrations(migrationFiles)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0].version != "0001_conversation" {
		t.Fatalf("embedded schema missing: %+v", got)
	}
}
