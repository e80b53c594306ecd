package main

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// SQLiteDialect implements SQLDialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) DriverName() string { return "sqlite" }
func (d *SQLiteDialect) URIScheme() string  { return "sqlite" }

func (d *SQLiteDialect) BuildDSN(cfg *RelationalConfig) (string, error) {
	if cfg.Path == "" {
		return "", fmt.Errorf("sqlite config missing required field: path")
	}
	// Read-only is enforced at the file level, before any session setup.
	if !strings.Contains(cfg.Path, "?") {
		return cfg.Path + "?mode=ro", nil
	}
	if !strings.Contains(cfg.Path, "mode=") {
		return cfg.Path + "&mode=ro", nil
	}
	return cfg.Path, nil
}

func (d *SQLiteDialect) DatabaseName(dsn string) string {
	path := dsn
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	parts := strings.Split(path, "/")
	name := parts[len(parts)-1]
	name = strings.TrimSuffix(name, ".db")
	name = strings.TrimSuffix(name, ".sqlite")
	name = strings.TrimSuffix(name, ".sqlite3")
	return name
}

func (d *SQLiteDialect) EnforceReadOnly(ctx context.Context, db *sql.DB) error {
	// mode=ro in the DSN is the primary guard; query_only backs it up for
	// connections opened against a writable file.
	_, err := db.ExecContext(ctx, "PRAGMA query_only = ON")
	return err
}

func (d *SQLiteDialect) ListTablesQuery(databaseName string) (string, []any) {
	// databaseName is ignored: one database per file.
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`,
		nil
}

func (d *SQLiteDialect) ReadSchemaQuery(databaseName, tableName string) (string, []any) {
	// PRAGMA table_info cannot use ? placeholders, so the table name is
	// embedded with quote doubling.
	return fmt.Sprintf("PRAGMA table_info('%s')", strings.ReplaceAll(tableName, "'", "''")),
		nil
}

func (d *SQLiteDialect) ScanSchemaRow(rows *sql.Rows) (map[string]any, error) {
	// PRAGMA table_info returns: cid, name, type, notnull, dflt_value, pk
	var cid int
	var name, colType string
	var notNull, pk int
	var dfltValue sql.NullString

	if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
		return nil, err
	}

	isNullable := "YES"
	if notNull == 1 {
		isNullable = "NO"
	}

	col := map[string]any{
		"column_name": name,
		"data_type":   colType,
		"is_nullable": isNullable,
	}
	if pk > 0 {
		col["column_key"] = "PRI"
	}
	if dfltValue.Valid {
		col["column_default"] = dfltValue.String
	}
	return col, nil
}

var sqliteRawDeny = funcRules(
	"load_extension", "writefile", "edit", "fts3_tokenizer",
)

var sqliteKeywordDeny = keywordRules(
	"REPLACE", "ATTACH", "DETACH", "REINDEX", "VACUUM",
)

// PRAGMA assignments change connection state; bare PRAGMA reads stay legal.
var sqlitePragmaWrite = regexp.MustCompile(`(?i)\bPRAGMA\s+\w+\s*=`)

func (d *SQLiteDialect) ValidateQuery(sqlQuery string) error {
	cleaned := scrubSQL(sqlQuery, scrubOptions{
		BacktickIdents: true,
		BracketIdents:  true,
	})
	if err := validateWithRules(sqlQuery, cleaned, sqliteRawDeny, sqliteKeywordDeny); err != nil {
		return err
	}
	if sqlitePragmaWrite.MatchString(cleaned) {
		return policyDenied("PRAGMA writes are not allowed")
	}
	return nil
}
