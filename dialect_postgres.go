package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// PostgresDialect implements SQLDialect for PostgreSQL via lib/pq.
type PostgresDialect struct{}

func (d *PostgresDialect) DriverName() string { return "postgres" }
func (d *PostgresDialect) URIScheme() string  { return "postgres" }

func (d *PostgresDialect) BuildDSN(cfg *RelationalConfig) (string, error) {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "prefer"
	}

	var missing []string
	if cfg.Host == "" {
		missing = append(missing, "host")
	}
	if cfg.Port == "" {
		missing = append(missing, "port")
	}
	if cfg.Database == "" {
		missing = append(missing, "database")
	}
	if cfg.User == "" {
		missing = append(missing, "user")
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("postgres config missing required fields: %v", missing)
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.PathEscape(cfg.User), url.PathEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Database, sslmode), nil
}

func (d *PostgresDialect) DatabaseName(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

func (d *PostgresDialect) EnforceReadOnly(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY")
	return err
}

func (d *PostgresDialect) ListTablesQuery(databaseName string) (string, []any) {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' AND table_catalog = $1`,
		[]any{databaseName}
}

func (d *PostgresDialect) ReadSchemaQuery(databaseName, tableName string) (string, []any) {
	return `SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_catalog = $1 AND table_schema = 'public' AND table_name = $2
		ORDER BY ordinal_position`, []any{databaseName, tableName}
}

func (d *PostgresDialect) ScanSchemaRow(rows *sql.Rows) (map[string]any, error) {
	var colName, dataType, isNullable string
	var colDefault sql.NullString

	if err := rows.Scan(&colName, &dataType, &isNullable, &colDefault); err != nil {
		return nil, err
	}

	col := map[string]any{
		"column_name": colName,
		"data_type":   dataType,
		"is_nullable": isNullable,
	}
	if colDefault.Valid {
		col["column_default"] = colDefault.String
	}
	return col, nil
}

// Patterns scanned against the raw query text: file access, large-object
// export, and COPY in either direction.
var postgresRawDeny = append([]denyRule{
	{regexp.MustCompile(`(?i)\bCOPY\s+.*\bTO\b`), "COPY ... TO"},
	{regexp.MustCompile(`(?i)\bCOPY\s+.*\bFROM\b`), "COPY ... FROM"},
}, funcRules(
	"pg_read_file", "pg_read_binary_file", "pg_ls_dir",
	"lo_import", "lo_export",
	"pg_sleep", "pg_sleep_for", "pg_sleep_until",
	"pg_advisory_lock", "pg_advisory_xact_lock", "pg_try_advisory_lock",
)...)

var postgresKeywordDeny = keywordRules(
	"CALL", "COPY", "LISTEN", "NOTIFY",
	"PREPARE", "DEALLOCATE", "VACUUM", "REINDEX", "CLUSTER",
)

func (d *PostgresDialect) ValidateQuery(sqlQuery string) error {
	cleaned := scrubSQL(sqlQuery, scrubOptions{DollarQuotes: true})
	return validateWithRules(sqlQuery, cleaned, postgresRawDeny, postgresKeywordDeny)
}
