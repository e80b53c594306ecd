package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func (s *GatewayServer) handleInitialize(params json.RawMessage) (*InitializeResult, *Error) {
	var initParams InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &Error{
				Code:    InvalidParams,
				Message: "Invalid initialize parameters",
				Data:    err.Error(),
			}
		}
	}

	s.initialized = true

	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}, nil
}

func (s *GatewayServer) handleListTools() (*ListToolsResult, *Error) {
	return &ListToolsResult{
		Tools: []Tool{
			{
				Name:        "run_query",
				Description: "Execute a read-only query: SQL text against the relational backend, or a MongoDB shell/document command against the document backend. Mutating commands are rejected before reaching any driver.",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"command": {
							Type:        "string",
							Description: "The query to run: SQL text, a shell command like db.users.find({...}), or an extended-JSON command document",
						},
						"backend": {
							Type:        "string",
							Description: "Target backend: 'relational' or 'document'. Optional when only one backend is configured",
						},
						"timeout_ms": {
							Type:        "number",
							Description: "Per-call timeout override in milliseconds (optional)",
						},
					},
					Required: []string{"command"},
				},
			},
			{
				Name:        "refresh_schema",
				Description: "Invalidate the cached schema introspection results so the next resource read re-queries the backend.",
				InputSchema: InputSchema{
					Type:       "object",
					Properties: map[string]Property{},
					Required:   []string{},
				},
			},
		},
	}, nil
}

func (s *GatewayServer) handleCallTool(params json.RawMessage) (*CallToolResult, *Error) {
	var callParams CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid parameters",
			Data:    err.Error(),
		}
	}

	switch callParams.Name {
	case "run_query":
		return s.runQuery(callParams.Arguments)
	case "refresh_schema":
		s.cache.Clear()
		return &CallToolResult{
			Content: []Content{{Type: "text", Text: "schema cache cleared"}},
		}, nil
	default:
		return nil, &Error{
			Code:    MethodNotFound,
			Message: fmt.Sprintf("Unknown tool: %s", callParams.Name),
		}
	}
}

func (s *GatewayServer) runQuery(args map[string]any) (*CallToolResult, *Error) {
	backendName, _ := args["backend"].(string)
	backend, err := s.backend(backendName)
	if err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: err.Error(),
		}
	}

	cmd := RawCommand{}
	switch v := args["command"].(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, &Error{
				Code:    InvalidParams,
				Message: "Missing or empty 'command' parameter",
			}
		}
		cmd.Text = v
	case map[string]any:
		cmd.Doc = v
	default:
		return nil, &Error{
			Code:    InvalidParams,
			Message: "'command' must be a string or an object",
		}
	}

	if ms, ok := args["timeout_ms"].(float64); ok && ms > 0 {
		cmd.Timeout = time.Duration(ms) * time.Millisecond
	}

	result := backend.ExecuteReadOnly(s.ctx, cmd)

	resultJSON, merr := marshalIndented(result)
	if merr != nil {
		return &CallToolResult{
			Content: []Content{{Type: "text", Text: fmt.Sprintf("Failed to marshal result: %v", merr)}},
			IsError: true,
		}, nil
	}

	return &CallToolResult{
		Content: []Content{{Type: "text", Text: resultJSON}},
		IsError: !result.Success,
	}, nil
}

// backendOrder keeps resource listings deterministic across calls.
var backendOrder = []BackendKind{BackendRelational, BackendDocument}

func (s *GatewayServer) handleListResources() (*ListResourcesResult, *Error) {
	resources := []Resource{}
	for _, kind := range backendOrder {
		backend, ok := s.backends[kind]
		if !ok {
			continue
		}

		cacheKey := "resources:" + string(kind)
		if cached, ok := s.cache.Get(cacheKey); ok {
			resources = append(resources, cached.([]Resource)...)
			continue
		}

		list, err := backend.SchemaResources(s.ctx)
		if err != nil {
			return nil, &Error{
				Code:    InternalError,
				Message: fmt.Sprintf("Failed to list %s resources: %v", backend.Name(), err),
			}
		}
		s.cache.Put(cacheKey, list)
		resources = append(resources, list...)
	}
	return &ListResourcesResult{Resources: resources}, nil
}

func (s *GatewayServer) handleReadResource(params json.RawMessage) (*ReadResourceResult, *Error) {
	var readParams ReadResourceParams
	if err := json.Unmarshal(params, &readParams); err != nil {
		return nil, &Error{
			Code:    InvalidParams,
			Message: "Invalid parameters",
			Data:    err.Error(),
		}
	}

	backend, ok := s.backendForURI(readParams.URI)
	if !ok {
		return nil, &Error{
			Code:    InvalidParams,
			Message: fmt.Sprintf("No configured backend serves resource URI %q", readParams.URI),
		}
	}

	cacheKey := "schema:" + readParams.URI
	text, cached := "", false
	if v, ok := s.cache.Get(cacheKey); ok {
		text, cached = v.(string), true
	}
	if !cached {
		var err error
		text, err = backend.ReadSchemaResource(s.ctx, readParams.URI)
		if err != nil {
			return nil, &Error{
				Code:    InternalError,
				Message: fmt.Sprintf("Failed to read schema: %v", err),
			}
		}
		s.cache.Put(cacheKey, text)
	}

	return &ReadResourceResult{
		Contents: []ResourceContent{
			{
				URI:      readParams.URI,
				MimeType: "application/json",
				Text:     text,
			},
		},
	}, nil
}

func (s *GatewayServer) backendForURI(uri string) (Backend, bool) {
	if strings.HasPrefix(uri, "mongodb://") {
		b, ok := s.backends[BackendDocument]
		return b, ok
	}
	b, ok := s.backends[BackendRelational]
	return b, ok
}
