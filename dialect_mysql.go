package main

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// MySQLDialect implements SQLDialect for MySQL via go-sql-driver/mysql.
type MySQLDialect struct{}

func (d *MySQLDialect) DriverName() string { return "mysql" }
func (d *MySQLDialect) URIScheme() string  { return "mysql" }

func (d *MySQLDialect) BuildDSN(cfg *RelationalConfig) (string, error) {
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
		return "", fmt.Errorf("mysql config missing required fields: %v", missing)
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database), nil
}

func (d *MySQLDialect) DatabaseName(dsn string) string {
	// DSN format: user:password@tcp(host:port)/dbname?params
	parts := strings.Split(dsn, "/")
	if len(parts) < 2 {
		return ""
	}
	dbPart := parts[len(parts)-1]
	if idx := strings.Index(dbPart, "?"); idx != -1 {
		dbPart = dbPart[:idx]
	}
	return dbPart
}

func (d *MySQLDialect) EnforceReadOnly(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, "SET SESSION TRANSACTION READ ONLY")
	return err
}

func (d *MySQLDialect) ListTablesQuery(databaseName string) (string, []any) {
	return `SELECT table_name FROM information_schema.tables WHERE table_schema = ?`,
		[]any{databaseName}
}

func (d *MySQLDialect) ReadSchemaQuery(databaseName, tableName string) (string, []any) {
	return `SELECT column_name, data_type, is_nullable, column_key, column_default, extra
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, []any{databaseName, tableName}
}

func (d *MySQLDialect) ScanSchemaRow(rows *sql.Rows) (map[string]any, error) {
	var colName, dataType, isNullable, colKey string
	var colDefault, extra sql.NullString

	if err := rows.Scan(&colName, &dataType, &isNullable, &colKey, &colDefault, &extra); err != nil {
		return nil, err
	}

	col := map[string]any{
		"column_name": colName,
		"data_type":   dataType,
		"is_nullable": isNullable,
		"column_key":  colKey,
	}
	if colDefault.Valid {
		col["column_default"] = colDefault.String
	}
	if extra.Valid && extra.String != "" {
		col["extra"] = extra.String
	}
	return col, nil
}

// Patterns scanned against the raw query text: file export, user
// variables, and the lock/sleep functions usable for denial of service.
var mysqlRawDeny = append([]denyRule{
	{regexp.MustCompile(`(?i)\bINTO\s+OUTFILE\b`), "INTO OUTFILE"},
	{regexp.MustCompile(`(?i)\bINTO\s+DUMPFILE\b`), "INTO DUMPFILE"},
	{regexp.MustCompile(`(?i)\bINTO\s+@`), "INTO @variable"},
}, funcRules(
	"LOAD_FILE",
	"SLEEP", "BENCHMARK",
	"GET_LOCK", "RELEASE_LOCK", "IS_FREE_LOCK", "IS_USED_LOCK",
	"WAIT_FOR_EXECUTED_GTID_SET", "WAIT_UNTIL_SQL_THREAD_AFTER_GTIDS",
	"MASTER_POS_WAIT", "SOURCE_POS_WAIT",
)...)

var mysqlKeywordDeny = keywordRules(
	"CALL", "EXEC", "REPLACE", "HANDLER", "RENAME",
)

func (d *MySQLDialect) ValidateQuery(sqlQuery string) error {
	cleaned := scrubSQL(sqlQuery, scrubOptions{
		HashComments:     true,
		BackslashEscapes: true,
		BacktickIdents:   true,
		DoubleQuoteIsStr: true,
	})
	return validateWithRules(sqlQuery, cleaned, mysqlRawDeny, mysqlKeywordDeny)
}
