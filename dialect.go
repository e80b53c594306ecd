package main

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLDialect captures the per-engine behavior of the relational backend:
// DSN construction, read-only session setup, schema introspection queries,
// and the dialect-specific half of query validation.
type SQLDialect interface {
	// DriverName returns the database/sql driver name.
	DriverName() string

	// URIScheme returns the resource URI scheme (e.g. "postgres").
	URIScheme() string

	// BuildDSN constructs a DSN from the relational configuration.
	BuildDSN(cfg *RelationalConfig) (string, error)

	// DatabaseName extracts the database or file name from a DSN.
	DatabaseName(dsn string) string

	// EnforceReadOnly configures the session for read-only access. This is
	// the driver-level second layer behind the policy evaluator.
	EnforceReadOnly(ctx context.Context, db *sql.DB) error

	// ListTablesQuery returns the query and arguments to list all tables.
	ListTablesQuery(databaseName string) (string, []any)

	// ReadSchemaQuery returns the query and arguments to read column info.
	ReadSchemaQuery(databaseName, tableName string) (string, []any)

	// ScanSchemaRow scans one schema query row into a column map.
	ScanSchemaRow(rows *sql.Rows) (map[string]any, error)

	// ValidateQuery reports a policy error if the query is not read-only.
	ValidateQuery(sql string) error
}

// dialectFor maps a configured driver name to its dialect.
func dialectFor(driver string) (SQLDialect, error) {
	switch driver {
	case "postgres", "postgresql":
		return &PostgresDialect{}, nil
	case "mysql":
		return &MySQLDialect{}, nil
	case "sqlite", "sqlite3":
		return &SQLiteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported relational driver %q (expected postgres, mysql, or sqlite)", driver)
	}
}

// validateWithRules runs the shared checks plus a dialect's own deny
// tables. rawRules scan the original query text (needed for function
// calls whose arguments may hide inside literals the scrubber blanks);
// cleanedRules scan the scrubbed text.
func validateWithRules(sqlQuery, cleaned string, rawRules, cleanedRules []denyRule) error {
	if err := validateCommonSQL(sqlQuery, cleaned); err != nil {
		return err
	}
	for _, rule := range rawRules {
		if rule.re.MatchString(sqlQuery) {
			return policyDenied("query contains forbidden pattern: %s", rule.desc)
		}
	}
	for _, rule := range cleanedRules {
		if rule.re.MatchString(cleaned) {
			return policyDenied("query contains forbidden keyword: %s", rule.desc)
		}
	}
	return nil
}
