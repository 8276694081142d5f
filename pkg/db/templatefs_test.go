package db

import (
	"io"
	"io/fs"
	"strings"
	"testing"
)

func TestTemplateMigrations(t *testing.T) {
	tfs := NewTemplateFS(clickhouseMigrationsFS, &migrateContext{Database: "gate_test", RetentionDays: 30})

	entries, err := fs.ReadDir(tfs, "migrations/clickhouse")
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) == 0 {
		t.Fatal("No migrations found")
	}

	for _, e := range entries {
		f, err := tfs.Open("migrations/clickhouse/" + e.Name())
		if err != nil {
			t.Fatal(err)
		}

		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			t.Fatal(err)
		}

		if strings.Contains(string(content), "{{") {
			t.Errorf("Migration %v was not rendered", e.Name())
		}

		if !strings.Contains(string(content), "gate_test.admission_logs") {
			t.Errorf("Migration %v does not reference the database", e.Name())
		}
	}
}

func TestPostgresMigrationsRender(t *testing.T) {
	tfs := NewTemplateFS(postgresMigrationsFS, &migrateContext{BindingsTable: bindingsTable})

	content, err := fs.ReadFile(tfs, "migrations/postgres/000001_create_device_bindings.up.sql")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(string(content), "CREATE TABLE IF NOT EXISTS device_bindings") {
		t.Errorf("Unexpected migration: %s", content)
	}
}
