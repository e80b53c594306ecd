package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLBackend runs policy-checked SQL text against one relational engine.
type SQLBackend struct {
	dialect        SQLDialect
	dsn            string
	databaseName   string
	connectTimeout time.Duration
	opTimeout      time.Duration

	db *sql.DB
}

// NewSQLBackend builds the backend from configuration without connecting.
func NewSQLBackend(rc *RelationalConfig, connectTimeout, opTimeout time.Duration) (*SQLBackend, error) {
	dialect, err := dialectFor(rc.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := dialect.BuildDSN(rc)
	if err != nil {
		return nil, err
	}
	return &SQLBackend{
		dialect:        dialect,
		dsn:            dsn,
		databaseName:   dialect.DatabaseName(dsn),
		connectTimeout: connectTimeout,
		opTimeout:      opTimeout,
	}, nil
}

func (b *SQLBackend) Kind() BackendKind { return BackendRelational }
func (b *SQLBackend) Name() string      { return b.dialect.DriverName() }

func (b *SQLBackend) Connect(ctx context.Context) error {
	db, err := sql.Open(b.dialect.DriverName(), b.dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxIdleConns(MaxConnectionsIdle)
	db.SetMaxOpenConns(MaxConnectionsOpen)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("connecting to %s: %w", b.Name(), err)
	}

	// Driver-level read-only is the second layer behind policy evaluation.
	// A failure here is logged, not fatal: the policy layer still stands.
	if err := b.dialect.EnforceReadOnly(ctx, db); err != nil {
		logError("could not set read-only session on %s: %v", b.Name(), err)
	}

	b.db = db
	return nil
}

func (b *SQLBackend) Close(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// ExecuteReadOnly checks policy before anything else, including
// connectivity: a denied command on a disconnected backend reports the
// denial, never the missing connection.
func (b *SQLBackend) ExecuteReadOnly(ctx context.Context, cmd RawCommand) *ExecutionResult {
	if cmd.Doc != nil {
		return errorResult(unsupportedOperation("relational backend accepts SQL text only"))
	}

	if verdict := evaluateRelational(b.dialect, cmd.Text); !verdict.Allowed {
		logError("denied %s command: %s (%s)", b.Name(), verdict.Reason, cmdPreview(cmd.Text))
		return errorResult(policyDenied("%s", verdict.Reason))
	}

	if b.db == nil {
		return errorResult(connectivityError("%s backend is not connected", b.Name()))
	}

	queryCtx, cancel := b.queryContext(ctx, cmd.Timeout)
	defer cancel()

	rows, err := b.db.QueryContext(queryCtx, cmd.Text)
	if err != nil {
		logError("%s query failed: %v (%s)", b.Name(), err, cmdPreview(cmd.Text))
		return errorResult(backendFault(err))
	}
	defer rows.Close()

	results, err := normalizeRows(rows)
	if err != nil {
		return errorResult(backendFault(err))
	}
	return successResult(results)
}

// queryContext scopes the timeout (default or per-call override) to this
// single call. The deadline dies with the returned cancel, so a pooled
// connection's next user starts clean.
func (b *SQLBackend) queryContext(ctx context.Context, override time.Duration) (context.Context, context.CancelFunc) {
	timeout := b.opTimeout
	if override > 0 {
		timeout = override
	}
	return context.WithTimeout(ctx, timeout)
}

func (b *SQLBackend) SchemaResources(ctx context.Context) ([]Resource, error) {
	if b.db == nil {
		return nil, connectivityError("%s backend is not connected", b.Name())
	}

	queryCtx, cancel := b.queryContext(ctx, 0)
	defer cancel()

	query, args := b.dialect.ListTablesQuery(b.databaseName)
	rows, err := b.db.QueryContext(queryCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	resources := []Resource{}
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			logError("scanning table name: %v", err)
			continue
		}
		resources = append(resources, Resource{
			URI:      fmt.Sprintf("%s://%s/%s/schema", b.dialect.URIScheme(), b.databaseName, tableName),
			Name:     fmt.Sprintf("Schema for table '%s'", tableName),
			MimeType: "application/json",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tables: %w", err)
	}
	return resources, nil
}

func (b *SQLBackend) ReadSchemaResource(ctx context.Context, uri string) (string, error) {
	dbName, tableName, err := parseSchemaURI(uri, b.dialect.URIScheme())
	if err != nil {
		return "", err
	}
	if b.db == nil {
		return "", connectivityError("%s backend is not connected", b.Name())
	}

	queryCtx, cancel := b.queryContext(ctx, 0)
	defer cancel()

	query, args := b.dialect.ReadSchemaQuery(dbName, tableName)
	rows, err := b.db.QueryContext(queryCtx, query, args...)
	if err != nil {
		return "", fmt.Errorf("reading schema for %s: %w", tableName, err)
	}
	defer rows.Close()

	columns := []map[string]any{}
	for rows.Next() {
		col, err := b.dialect.ScanSchemaRow(rows)
		if err != nil {
			logError("scanning column info: %v", err)
			continue
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating schema rows: %w", err)
	}
	return marshalIndented(columns)
}

// parseSchemaURI splits <scheme>://<db>/<name>/schema into its parts.
func parseSchemaURI(uri, scheme string) (dbName, name string, err error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", fmt.Errorf("invalid resource URI: must start with %s", prefix)
	}
	parts := strings.Split(strings.TrimPrefix(uri, prefix), "/")
	if len(parts) != 3 || parts[2] != "schema" || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid resource URI format: expected %s<db>/<name>/schema", prefix)
	}
	return parts[0], parts[1], nil
}
