package main

import (
	"context"
	"time"
)

// BackendKind selects which configured backend a command is routed to.
type BackendKind string

const (
	BackendRelational BackendKind = "relational"
	BackendDocument   BackendKind = "document"
)

// RawCommand is the sole input from the calling layer: either free-form
// text or a structured document command, never both.
type RawCommand struct {
	Text string
	Doc  map[string]any

	// Timeout overrides the backend's default operation timeout for this
	// single call. Zero means "use the default". The override is scoped to
	// the call's context and cannot leak into pooled reuse.
	Timeout time.Duration
}

// Verdict is the policy evaluator's decision. Computed fresh per command,
// never cached.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict             { return Verdict{Allowed: true} }
func deny(reason string) Verdict { return Verdict{Allowed: false, Reason: reason} }

// ExecutionResult is the normalized outcome of one command. Data holds a
// sequence of column-value or field-value mappings, or a bare scalar for
// counts and single documents. An empty sequence is success, not an error.
type ExecutionResult struct {
	Success bool         `json:"success"`
	Data    any          `json:"data"`
	Error   *ResultError `json:"error,omitempty"`
}

// ResultError is the result-shaped form of a QueryError.
type ResultError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func successResult(data any) *ExecutionResult {
	return &ExecutionResult{Success: true, Data: data}
}

func errorResult(err *QueryError) *ExecutionResult {
	return &ExecutionResult{
		Success: false,
		Error:   &ResultError{Kind: err.Kind, Message: err.Message},
	}
}

// Backend is implemented once per backend kind. Selection happens at the
// call boundary instead of string-keyed branching at every use site.
type Backend interface {
	Kind() BackendKind

	// Name is the short backend name used in logs and resource URIs.
	Name() string

	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// ExecuteReadOnly runs one policy-checked command. It never returns an
	// unhandled fault: every failure is folded into the result.
	ExecuteReadOnly(ctx context.Context, cmd RawCommand) *ExecutionResult

	// SchemaResources lists the introspectable tables or collections.
	SchemaResources(ctx context.Context) ([]Resource, error)

	// ReadSchemaResource resolves one schema resource URI to JSON text.
	ReadSchemaResource(ctx context.Context, uri string) (string, error)
}
