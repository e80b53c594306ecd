package main

import (
	"strings"
	"testing"
)

func TestPostgresValidateQuery_AllowedQueries(t *testing.T) {
	dialect := &PostgresDialect{}
	allowedQueries := []string{
		"SELECT * FROM users",
		"SELECT id, name FROM users WHERE id = 1",
		"select * from users",
		"EXPLAIN SELECT * FROM users",
		"WITH recent AS (SELECT * FROM orders) SELECT count(*) FROM recent",
		"SELECT * FROM user_settings WHERE setting_name = 'theme'",
		"SELECT created_at FROM orders",
		"SELECT * FROM users WHERE name = 'DROP TABLE users'", // keyword in string literal
		`SELECT "drop_log" FROM audit`,                        // keyword inside quoted identifier
		"SELECT $$DELETE FROM users$$",                        // keyword inside dollar-quoted string
	}

	for _, query := range allowedQueries {
		t.Run(query, func(t *testing.T) {
			err := dialect.ValidateQuery(query)
			if err != nil {
				t.Errorf("Expected query to be allowed, but got error: %v", err)
			}
		})
	}
}

func TestPostgresValidateQuery_BlockedQueries(t *testing.T) {
	dialect := &PostgresDialect{}
	blockedQueries := []struct {
		query       string
		shouldBlock string
	}{
		{"INSERT INTO users VALUES (1, 'test')", "INSERT"},
		{"UPDATE users SET name = 'test'", "UPDATE"},
		{"DELETE FROM users", "DELETE"},
		{"DROP TABLE users", "DROP"},
		{"TRUNCATE TABLE users", "TRUNCATE"},
		{"SELECT 1; DROP TABLE users", "multiple statements"},
		// PostgreSQL-specific blocked queries
		{"COPY users TO '/tmp/users.csv'", "COPY ... TO"},
		{"COPY users FROM '/tmp/users.csv'", "COPY ... FROM"},
		{"SELECT pg_read_file('/etc/passwd')", "pg_read_file"},
		{"SELECT pg_ls_dir('/')", "pg_ls_dir"},
		{"SELECT lo_export(1234, '/tmp/file')", "lo_export"},
		{"SELECT pg_sleep(10)", "pg_sleep"},
		{"SELECT pg_advisory_lock(1)", "pg_advisory_lock"},
		{"CALL some_procedure()", "CALL"},
		{"EXECUTE some_statement", "EXECUTE"},
		{"LISTEN channel_name", "LISTEN"},
		{"NOTIFY channel_name", "NOTIFY"},
		{"PREPARE stmt AS SELECT 1", "PREPARE"},
		{"VACUUM users", "VACUUM"},
		{"REINDEX TABLE users", "REINDEX"},
		{"CLUSTER users USING users_pkey", "CLUSTER"},
		{"SET statement_timeout = 0", "SET"},
	}

	for _, tc := range blockedQueries {
		t.Run(tc.query, func(t *testing.T) {
			err := dialect.ValidateQuery(tc.query)
			if err == nil {
				t.Errorf("Expected query to be blocked for %s, but it was allowed", tc.shouldBlock)
			}
		})
	}
}

func TestPostgresValidateQuery_CommentInjection(t *testing.T) {
	dialect := &PostgresDialect{}
	queries := []string{
		"SELECT 1 -- ; DROP TABLE users",
		"SELECT 1 /* ; DROP TABLE users */",
	}

	for _, query := range queries {
		t.Run(query, func(t *testing.T) {
			err := dialect.ValidateQuery(query)
			if err != nil && strings.Contains(err.Error(), "multiple statements") {
				t.Errorf("False positive on comment: %v", err)
			}
		})
	}
}
