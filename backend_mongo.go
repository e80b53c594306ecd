package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoBackend runs policy-checked shell-style or structured commands
// against one MongoDB database.
type MongoBackend struct {
	cfg            *DocumentConfig
	connectTimeout time.Duration
	opTimeout      time.Duration

	client *mongo.Client
	db     *mongo.Database
}

func NewMongoBackend(cfg *DocumentConfig, connectTimeout, opTimeout time.Duration) (*MongoBackend, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("document config missing required field: uri")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("document config missing required field: database")
	}
	return &MongoBackend{
		cfg:            cfg,
		connectTimeout: connectTimeout,
		opTimeout:      opTimeout,
	}, nil
}

func (b *MongoBackend) Kind() BackendKind { return BackendDocument }
func (b *MongoBackend) Name() string      { return "mongodb" }

func (b *MongoBackend) Connect(ctx context.Context) error {
	opts := options.Client().
		ApplyURI(b.cfg.URI).
		SetConnectTimeout(b.connectTimeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return fmt.Errorf("connecting to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("pinging mongodb: %w", err)
	}

	b.client = client
	b.db = client.Database(b.cfg.Database)
	return nil
}

func (b *MongoBackend) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	err := b.client.Disconnect(ctx)
	b.client = nil
	b.db = nil
	return err
}

// ExecuteReadOnly runs the stages in fixed order: policy, then parse, then
// connectivity, then dispatch. A mutating command against a disconnected
// backend must report the denial, not the missing connection.
func (b *MongoBackend) ExecuteReadOnly(ctx context.Context, cmd RawCommand) *ExecutionResult {
	if verdict := evaluateDocument(cmd); !verdict.Allowed {
		logError("denied mongodb command: %s (%s)", verdict.Reason, cmdPreview(cmd.Text))
		return errorResult(policyDenied("%s", verdict.Reason))
	}

	var parsed *ParsedCommand
	var literal string
	if cmd.Doc == nil {
		trimmed := strings.TrimSpace(cmd.Text)
		if _, ok := safeShellStatements[strings.ToLower(trimmed)]; ok {
			literal = strings.ToLower(trimmed)
		} else {
			pc, err := parseShellCommand(trimmed)
			if err != nil {
				var qe *QueryError
				if errors.As(err, &qe) {
					return errorResult(qe)
				}
				return errorResult(parseFailure("%v", err))
			}
			parsed = pc
		}
	}

	if b.client == nil {
		return errorResult(connectivityError("mongodb backend is not connected"))
	}

	opCtx, cancel := b.opContext(ctx, cmd.Timeout)
	defer cancel()

	var result *ExecutionResult
	switch {
	case cmd.Doc != nil:
		result = b.dispatchStructured(opCtx, cmd.Doc)
	case literal != "":
		result = b.dispatchLiteral(opCtx, literal)
	default:
		result = b.dispatchParsed(opCtx, parsed)
	}
	if result.Error != nil && result.Error.Kind == ErrBackendFault {
		logError("mongodb command failed: %s (%s)", result.Error.Message, cmdPreview(commandText(cmd)))
	}
	return result
}

// commandText renders a command for log previews; structured commands have
// no source text and are serialized for the line.
func commandText(cmd RawCommand) string {
	if cmd.Doc == nil {
		return cmd.Text
	}
	buf, err := json.Marshal(cmd.Doc)
	if err != nil {
		return fmt.Sprintf("%v", cmd.Doc)
	}
	return string(buf)
}

func (b *MongoBackend) opContext(ctx context.Context, override time.Duration) (context.Context, context.CancelFunc) {
	timeout := b.opTimeout
	if override > 0 {
		timeout = override
	}
	return context.WithTimeout(ctx, timeout)
}

// --- literal statements --------------------------------------------------

func (b *MongoBackend) dispatchLiteral(ctx context.Context, stmt string) *ExecutionResult {
	switch stmt {
	case "show collections", "db.getcollectionnames()":
		names, err := b.db.ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return errorResult(backendFault(err))
		}
		if names == nil {
			names = []string{}
		}
		return successResult(names)
	case "show dbs", "show databases":
		names, err := b.client.ListDatabaseNames(ctx, bson.D{})
		if err != nil {
			return errorResult(backendFault(err))
		}
		if names == nil {
			names = []string{}
		}
		return successResult(names)
	case "db stats", "db.stats()":
		return b.runCommand(ctx, bson.D{{Key: "dbStats", Value: 1}})
	default:
		return errorResult(unsupportedOperation("statement %q is not supported", stmt))
	}
}

// --- parsed shell commands ----------------------------------------------

// cursorMods accumulates the chained modifiers applied to a find in the
// order they were written.
type cursorMods struct {
	sort       any
	projection any
	limit      int64
	hasLimit   bool
	skip       int64
	hasSkip    bool
	terminal   string // "", "count", or "explain"
}

func (b *MongoBackend) dispatchParsed(ctx context.Context, pc *ParsedCommand) *ExecutionResult {
	coll := b.db.Collection(pc.Target)

	switch pc.Op {
	case "find":
		filter, projection, err := filterAndProjection(pc.RawArgs)
		if err != nil {
			return errorResult(asQueryError(err))
		}
		mods, err := collectMods(pc.Chained)
		if err != nil {
			return errorResult(asQueryError(err))
		}
		if projection != nil && mods.projection == nil {
			mods.projection = projection
		}
		switch mods.terminal {
		case "count":
			return b.countDocuments(ctx, coll, filter)
		case "explain":
			return b.explainFind(ctx, pc.Target, filter)
		}
		return b.runFind(ctx, coll, filter, mods)

	case "findOne":
		filter, projection, err := filterAndProjection(pc.RawArgs)
		if err != nil {
			return errorResult(asQueryError(err))
		}
		mods, err := collectMods(pc.Chained)
		if err != nil {
			return errorResult(asQueryError(err))
		}
		if projection != nil && mods.projection == nil {
			mods.projection = projection
		}
		return b.runFindOne(ctx, coll, filter, mods)

	case "aggregate":
		pipelineArg, err := coerceArgument(pc.RawArgs)
		if err != nil {
			return errorResult(asQueryError(err))
		}
		return b.runAggregate(ctx, coll, pipelineArg)

	case "count", "countDocuments":
		filter, _, err := filterAndProjection(pc.RawArgs)
		if err != nil {
			return errorResult(asQueryError(err))
		}
		return b.countDocuments(ctx, coll, filter)

	case "estimatedDocumentCount":
		n, err := coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return errorResult(backendFault(err))
		}
		return successResult(n)

	case "distinct":
		args := splitTopLevelArgs(pc.RawArgs)
		if len(args) == 0 {
			return errorResult(parseFailure("distinct requires a field name"))
		}
		field := unquoteFieldName(args[0])
		var filter any = bson.D{}
		if len(args) > 1 {
			f, err := coerceArgument(args[1])
			if err != nil {
				return errorResult(asQueryError(err))
			}
			if f != nil {
				filter = f
			}
		}
		return b.runDistinct(ctx, coll, field, filter)

	case "stats":
		return b.runCommand(ctx, bson.D{{Key: "collStats", Value: pc.Target}})

	case "explain":
		filter, _, err := filterAndProjection(pc.RawArgs)
		if err != nil {
			return errorResult(asQueryError(err))
		}
		return b.explainFind(ctx, pc.Target, filter)

	default:
		return errorResult(unsupportedOperation("operation %q is not supported", pc.Op))
	}
}

// collectMods coerces chained modifier arguments. A terminal count or
// explain replaces the cursor result; anything written after it is a
// parse-level mistake.
func collectMods(chained []ChainedOp) (*cursorMods, error) {
	mods := &cursorMods{}
	for _, ch := range chained {
		if mods.terminal != "" {
			return nil, parseFailure("no operations may follow .%s()", mods.terminal)
		}
		switch ch.Name {
		case "sort":
			v, err := coerceArgument(ch.RawArgs)
			if err != nil {
				return nil, err
			}
			mods.sort = v
		case "project":
			v, err := coerceArgument(ch.RawArgs)
			if err != nil {
				return nil, err
			}
			mods.projection = v
		case "limit":
			n, err := coerceInt(ch.RawArgs)
			if err != nil {
				return nil, err
			}
			mods.limit, mods.hasLimit = n, true
		case "skip":
			n, err := coerceInt(ch.RawArgs)
			if err != nil {
				return nil, err
			}
			mods.skip, mods.hasSkip = n, true
		case "count", "explain":
			mods.terminal = ch.Name
		default:
			return nil, unsupportedOperation("chained operation %q is not supported", ch.Name)
		}
	}
	return mods, nil
}

func (b *MongoBackend) runFind(ctx context.Context, coll *mongo.Collection, filter any, mods *cursorMods) *ExecutionResult {
	opts := options.Find()
	if mods.sort != nil {
		opts.SetSort(mods.sort)
	}
	if mods.projection != nil {
		opts.SetProjection(mods.projection)
	}
	if mods.hasSkip {
		opts.SetSkip(mods.skip)
	}
	limit := int64(MaxResultRows)
	if mods.hasLimit && mods.limit < limit {
		limit = mods.limit
	}
	opts.SetLimit(limit)

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return errorResult(backendFault(err))
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return errorResult(backendFault(err))
	}
	results, err := normalizeDocuments(docs)
	if err != nil {
		return errorResult(backendFault(err))
	}
	return successResult(results)
}

func (b *MongoBackend) runFindOne(ctx context.Context, coll *mongo.Collection, filter any, mods *cursorMods) *ExecutionResult {
	opts := options.FindOne()
	if mods.sort != nil {
		opts.SetSort(mods.sort)
	}
	if mods.projection != nil {
		opts.SetProjection(mods.projection)
	}
	if mods.hasSkip {
		opts.SetSkip(mods.skip)
	}

	var doc bson.D
	err := coll.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		// No match is a successful null, not an error.
		return successResult(nil)
	}
	if err != nil {
		return errorResult(backendFault(err))
	}
	m, err := normalizeDocument(doc)
	if err != nil {
		return errorResult(backendFault(err))
	}
	return successResult(m)
}

func (b *MongoBackend) runAggregate(ctx context.Context, coll *mongo.Collection, pipelineArg any) *ExecutionResult {
	stages, ok := asSlice(pipelineArg)
	if !ok {
		return errorResult(parseFailure("aggregate requires a pipeline array"))
	}
	// Re-check on the coerced stages: the textual deny scan already ran,
	// this is the structural per-stage inspection.
	if err := pipelineStagesSafe(stages); err != nil {
		return errorResult(asQueryError(err))
	}

	cursor, err := coll.Aggregate(ctx, stages)
	if err != nil {
		return errorResult(backendFault(err))
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return errorResult(backendFault(err))
	}
	if len(docs) > MaxResultRows {
		return errorResult(backendFault(fmt.Errorf("result exceeds %d documents, add a $limit stage", MaxResultRows)))
	}
	results, err := normalizeDocuments(docs)
	if err != nil {
		return errorResult(backendFault(err))
	}
	return successResult(results)
}

func (b *MongoBackend) countDocuments(ctx context.Context, coll *mongo.Collection, filter any) *ExecutionResult {
	if filter == nil {
		n, err := coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return errorResult(backendFault(err))
		}
		return successResult(n)
	}
	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return errorResult(backendFault(err))
	}
	return successResult(n)
}

func (b *MongoBackend) runDistinct(ctx context.Context, coll *mongo.Collection, field string, filter any) *ExecutionResult {
	res := coll.Distinct(ctx, field, filter)
	if err := res.Err(); err != nil {
		return errorResult(backendFault(err))
	}
	var vals bson.A
	if err := res.Decode(&vals); err != nil {
		return errorResult(backendFault(err))
	}
	results, err := normalizeValues([]any(vals))
	if err != nil {
		return errorResult(backendFault(err))
	}
	return successResult(results)
}

func (b *MongoBackend) explainFind(ctx context.Context, collection string, filter any) *ExecutionResult {
	if filter == nil {
		filter = bson.D{}
	}
	return b.runCommand(ctx, bson.D{
		{Key: "explain", Value: bson.D{
			{Key: "find", Value: collection},
			{Key: "filter", Value: filter},
		}},
		{Key: "verbosity", Value: "queryPlanner"},
	})
}

// runCommand forwards one already-vetted command document and normalizes
// the single reply document.
func (b *MongoBackend) runCommand(ctx context.Context, cmd bson.D) *ExecutionResult {
	var reply bson.D
	if err := b.db.RunCommand(ctx, cmd).Decode(&reply); err != nil {
		return errorResult(backendFault(err))
	}
	m, err := normalizeDocument(reply)
	if err != nil {
		return errorResult(backendFault(err))
	}
	return successResult(m)
}

// --- structured commands -------------------------------------------------

func (b *MongoBackend) dispatchStructured(ctx context.Context, doc map[string]any) *ExecutionResult {
	if op, ok := structuredOperation(doc); ok {
		return b.dispatchStructuredRead(ctx, op, doc)
	}

	for key := range doc {
		if _, ok := documentIntrospectionCommands[key]; ok {
			return b.runCommand(ctx, orderedCommand(doc, key))
		}
	}
	return errorResult(unsupportedOperation("command has no supported operation key"))
}

func (b *MongoBackend) dispatchStructuredRead(ctx context.Context, op string, doc map[string]any) *ExecutionResult {
	collName, ok := doc[op].(string)
	if !ok || collName == "" {
		return errorResult(parseFailure("%s requires a collection name", op))
	}
	coll := b.db.Collection(collName)

	filter := doc["filter"]
	if filter == nil {
		filter = doc["query"]
	}

	switch op {
	case "find", "findOne":
		mods := &cursorMods{
			sort:       doc["sort"],
			projection: doc["projection"],
		}
		if n, ok := numericField(doc, "limit"); ok {
			mods.limit, mods.hasLimit = n, true
		}
		if n, ok := numericField(doc, "skip"); ok {
			mods.skip, mods.hasSkip = n, true
		}
		if filter == nil {
			filter = bson.D{}
		}
		if op == "findOne" {
			return b.runFindOne(ctx, coll, filter, mods)
		}
		return b.runFind(ctx, coll, filter, mods)

	case "aggregate":
		return b.runAggregate(ctx, coll, doc["pipeline"])

	case "count", "countDocuments":
		return b.countDocuments(ctx, coll, filter)

	case "estimatedDocumentCount":
		n, err := coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return errorResult(backendFault(err))
		}
		return successResult(n)

	case "distinct":
		field, ok := doc["key"].(string)
		if !ok || field == "" {
			return errorResult(parseFailure("distinct requires a string 'key' field"))
		}
		if filter == nil {
			filter = bson.D{}
		}
		return b.runDistinct(ctx, coll, field, filter)

	default:
		return errorResult(unsupportedOperation("operation %q is not supported", op))
	}
}

// orderedCommand rebuilds a map-shaped command as bson.D with the
// operation key first, which the server requires.
func orderedCommand(doc map[string]any, opKey string) bson.D {
	cmd := bson.D{{Key: opKey, Value: doc[opKey]}}
	for k, v := range doc {
		if k != opKey {
			cmd = append(cmd, bson.E{Key: k, Value: v})
		}
	}
	return cmd
}

// --- schema resources ----------------------------------------------------

const schemaSampleSize = 100

func (b *MongoBackend) SchemaResources(ctx context.Context) ([]Resource, error) {
	if b.client == nil {
		return nil, connectivityError("mongodb backend is not connected")
	}
	names, err := b.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	resources := []Resource{}
	for _, name := range names {
		resources = append(resources, Resource{
			URI:      fmt.Sprintf("mongodb://%s/%s/schema", b.cfg.Database, name),
			Name:     fmt.Sprintf("Schema for collection '%s'", name),
			MimeType: "application/json",
		})
	}
	return resources, nil
}

// ReadSchemaResource infers a collection's field layout from a sample of
// documents, since collections carry no declared schema.
func (b *MongoBackend) ReadSchemaResource(ctx context.Context, uri string) (string, error) {
	_, collName, err := parseSchemaURI(uri, "mongodb")
	if err != nil {
		return "", err
	}
	if b.client == nil {
		return "", connectivityError("mongodb backend is not connected")
	}

	cursor, err := b.db.Collection(collName).Find(ctx, bson.D{},
		options.Find().SetLimit(schemaSampleSize))
	if err != nil {
		return "", fmt.Errorf("sampling collection %s: %w", collName, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return "", fmt.Errorf("reading sample documents: %w", err)
	}

	return marshalIndented(map[string]any{
		"collection":  collName,
		"sample_size": len(docs),
		"fields":      inferFields(docs),
	})
}

// inferFields maps each top-level field seen in the sample to its BSON
// type name, or "mixed" when documents disagree.
func inferFields(docs []bson.D) map[string]string {
	fields := map[string]string{}
	for _, doc := range docs {
		for _, e := range doc {
			name := bsonTypeName(e.Value)
			if prev, seen := fields[e.Key]; seen && prev != name {
				fields[e.Key] = "mixed"
			} else if !seen {
				fields[e.Key] = name
			}
		}
	}
	return fields
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bson.ObjectID:
		return "objectId"
	case bson.DateTime:
		return "date"
	case bson.Decimal128:
		return "decimal"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	case bson.Binary:
		return "binData"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// --- small shared helpers ------------------------------------------------

// filterAndProjection coerces the common (filter, projection) argument
// pair used by find, findOne, and the count family. A missing filter stays
// nil so callers can pick the cheaper estimated count path.
func filterAndProjection(rawArgs string) (filter, projection any, err error) {
	args := splitTopLevelArgs(rawArgs)
	if len(args) > 0 && args[0] != "" {
		filter, err = coerceArgument(args[0])
		if err != nil {
			return nil, nil, err
		}
	}
	if len(args) > 1 && args[1] != "" {
		projection, err = coerceArgument(args[1])
		if err != nil {
			return nil, nil, err
		}
	}
	return filter, projection, nil
}

func coerceInt(raw string) (int64, error) {
	v, err := coerceArgument(raw)
	if err != nil {
		return 0, err
	}
	if n, ok := asInt64(v); ok {
		return n, nil
	}
	return 0, parseFailure("expected an integer argument, got %q", strings.TrimSpace(raw))
}

func numericField(doc map[string]any, key string) (int64, bool) {
	v, ok := doc[key]
	if !ok {
		return 0, false
	}
	return asInt64(v)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

// asQueryError preserves a typed QueryError or wraps anything else as a
// parse failure.
func asQueryError(err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return parseFailure("%v", err)
}
