package main

import "testing"

func TestSQLiteValidateQuery_AllowedQueries(t *testing.T) {
	dialect := &SQLiteDialect{}
	allowedQueries := []string{
		"SELECT * FROM users",
		"SELECT id, name FROM users WHERE id = 1",
		"EXPLAIN SELECT * FROM users",
		"SELECT * FROM user_settings WHERE setting_name = 'theme'",
		"SELECT deleted FROM items",
		"SELECT * FROM users WHERE name = 'DROP TABLE users'",
		"SELECT [delete_reason] FROM audit", // keyword inside bracket identifier
		"SELECT `update_count` FROM stats",  // keyword inside backtick identifier
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

func TestSQLiteValidateQuery_BlockedQueries(t *testing.T) {
	dialect := &SQLiteDialect{}
	blockedQueries := []struct {
		query       string
		shouldBlock string
	}{
		{"INSERT INTO users VALUES (1, 'test')", "INSERT"},
		{"UPDATE users SET name = 'test'", "UPDATE"},
		{"DELETE FROM users", "DELETE"},
		{"DROP TABLE users", "DROP"},
		{"SELECT 1; DROP TABLE users", "multiple statements"},
		// SQLite-specific blocked queries
		{"SELECT load_extension('hack.so')", "load_extension"},
		{"SELECT writefile('/tmp/data', content)", "writefile"},
		{"SELECT fts3_tokenizer('simple')", "fts3_tokenizer"},
		{"REPLACE INTO users VALUES (1, 'test')", "REPLACE"},
		{"ATTACH DATABASE '/tmp/other.db' AS other", "ATTACH"},
		{"DETACH DATABASE other", "DETACH"},
		{"REINDEX users", "REINDEX"},
		{"VACUUM", "VACUUM"},
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

func TestSQLiteValidateQuery_PragmaWriteBlocked(t *testing.T) {
	dialect := &SQLiteDialect{}
	blockedPragmas := []string{
		"EXPLAIN PRAGMA journal_mode = WAL",
		"EXPLAIN PRAGMA synchronous = OFF",
	}

	for _, query := range blockedPragmas {
		t.Run(query, func(t *testing.T) {
			err := dialect.ValidateQuery(query)
			if err == nil {
				t.Errorf("Expected PRAGMA write to be blocked: %s", query)
			}
		})
	}
}
