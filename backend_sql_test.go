package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// newTestSQLiteBackend seeds a SQLite file through a separate writable
// handle, then connects the backend read-only against it.
func newTestSQLiteBackend(t *testing.T) *SQLBackend {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway.db")
	seed, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("opening seed database: %v", err)
	}
	stmts := []string{
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, age INTEGER)`,
		`INSERT INTO users (id, name, age) VALUES (1, 'ada', 36), (2, 'grace', 45), (3, 'alan', 41)`,
	}
	for _, stmt := range stmts {
		if _, err := seed.Exec(stmt); err != nil {
			t.Fatalf("seeding database: %v", err)
		}
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("closing seed handle: %v", err)
	}

	backend, err := NewSQLBackend(
		&RelationalConfig{Driver: "sqlite", Path: path},
		5*time.Second, 5*time.Second,
	)
	if err != nil {
		t.Fatalf("building backend: %v", err)
	}
	if err := backend.Connect(context.Background()); err != nil {
		t.Fatalf("connecting backend: %v", err)
	}
	t.Cleanup(func() { backend.Close(context.Background()) })
	return backend
}

func TestSQLBackend_SelectRows(t *testing.T) {
	backend := newTestSQLiteBackend(t)

	result := backend.ExecuteReadOnly(context.Background(), RawCommand{
		Text: "SELECT id, name FROM users ORDER BY id",
	})
	if !result.Success {
		t.Fatalf("expected success, got error: %+v", result.Error)
	}

	rows, ok := result.Data.([]map[string]any)
	if !ok {
		t.Fatalf("Data = %T, want []map[string]any", result.Data)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0]["name"] != "ada" {
		t.Errorf("first row name = %v, want ada", rows[0]["name"])
	}
}

func TestSQLBackend_EmptyResultIsSuccess(t *testing.T) {
	backend := newTestSQLiteBackend(t)

	result := backend.ExecuteReadOnly(context.Background(), RawCommand{
		Text: "SELECT * FROM users WHERE age > 1000",
	})
	if !result.Success {
		t.Fatalf("expected success, got error: %+v", result.Error)
	}
	rows, ok := result.Data.([]map[string]any)
	if !ok || rows == nil {
		t.Fatalf("Data = %#v, want a non-nil empty slice", result.Data)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}

func TestSQLBackend_MutationsDenied(t *testing.T) {
	backend := newTestSQLiteBackend(t)

	mutations := []string{
		"DROP TABLE users",
		"INSERT INTO users (id, name) VALUES (9, 'eve')",
		"UPDATE users SET age = 0",
		"DELETE FROM users",
	}
	for _, stmt := range mutations {
		t.Run(stmt, func(t *testing.T) {
			result := backend.ExecuteReadOnly(context.Background(), RawCommand{Text: stmt})
			if result.Success {
				t.Fatal("expected the command to be denied")
			}
			if result.Error.Kind != ErrPolicyDenied {
				t.Errorf("Kind = %s, want %s", result.Error.Kind, ErrPolicyDenied)
			}
		})
	}

	// The table must be untouched after every denial.
	result := backend.ExecuteReadOnly(context.Background(), RawCommand{
		Text: "SELECT count(*) AS n FROM users",
	})
	if !result.Success {
		t.Fatalf("verification query failed: %+v", result.Error)
	}
}

func TestSQLBackend_PolicyBeforeConnectivity(t *testing.T) {
	backend, err := NewSQLBackend(
		&RelationalConfig{Driver: "sqlite", Path: "/nonexistent/missing.db"},
		time.Second, time.Second,
	)
	if err != nil {
		t.Fatalf("building backend: %v", err)
	}
	// Never connected.

	denied := backend.ExecuteReadOnly(context.Background(), RawCommand{Text: "DROP TABLE users"})
	if denied.Success || denied.Error.Kind != ErrPolicyDenied {
		t.Errorf("mutation on disconnected backend: got %+v, want policy_denied", denied.Error)
	}

	unreachable := backend.ExecuteReadOnly(context.Background(), RawCommand{Text: "SELECT 1"})
	if unreachable.Success || unreachable.Error.Kind != ErrConnectivity {
		t.Errorf("read on disconnected backend: got %+v, want connectivity_error", unreachable.Error)
	}
}

func TestSQLBackend_TimeoutOverrideDoesNotLeak(t *testing.T) {
	backend := newTestSQLiteBackend(t)

	expired := backend.ExecuteReadOnly(context.Background(), RawCommand{
		Text:    "SELECT * FROM users",
		Timeout: time.Nanosecond,
	})
	if expired.Success {
		t.Fatal("expected the nanosecond-timeout call to fail")
	}
	if expired.Error.Kind != ErrBackendFault {
		t.Errorf("Kind = %s, want %s", expired.Error.Kind, ErrBackendFault)
	}

	// The override must not survive into the next call on the same pool.
	next := backend.ExecuteReadOnly(context.Background(), RawCommand{
		Text: "SELECT * FROM users",
	})
	if !next.Success {
		t.Fatalf("follow-up query failed, timeout leaked: %+v", next.Error)
	}
}

func TestSQLBackend_StructuredCommandUnsupported(t *testing.T) {
	backend := newTestSQLiteBackend(t)

	result := backend.ExecuteReadOnly(context.Background(), RawCommand{
		Doc: map[string]any{"find": "users"},
	})
	if result.Success || result.Error.Kind != ErrUnsupportedOperation {
		t.Errorf("got %+v, want unsupported_operation", result.Error)
	}
}

func TestSQLBackend_SchemaResources(t *testing.T) {
	backend := newTestSQLiteBackend(t)

	resources, err := backend.SchemaResources(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1: %v", len(resources), resources)
	}
	if !strings.HasSuffix(resources[0].URI, "/users/schema") {
		t.Errorf("URI = %q, want .../users/schema", resources[0].URI)
	}

	text, err := backend.ReadSchemaResource(context.Background(), resources[0].URI)
	if err != nil {
		t.Fatalf("reading schema: %v", err)
	}
	for _, want := range []string{"id", "name", "age"} {
		if !strings.Contains(text, want) {
			t.Errorf("schema missing column %q: %s", want, text)
		}
	}
}

func TestParseSchemaURI(t *testing.T) {
	dbName, name, err := parseSchemaURI("sqlite://gateway/users/schema", "sqlite")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dbName != "gateway" || name != "users" {
		t.Errorf("got (%q, %q), want (gateway, users)", dbName, name)
	}

	badURIs := []string{
		"mysql://db/users/schema", // wrong scheme
		"sqlite://db/users",
		"sqlite://db/users/data",
		"sqlite:///users/schema",
	}
	for _, uri := range badURIs {
		if _, _, err := parseSchemaURI(uri, "sqlite"); err == nil {
			t.Errorf("expected error for %q", uri)
		}
	}
}
