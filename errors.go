package main

import "fmt"

// ErrorKind classifies gateway failures so callers can tell "denied" from
// "malformed" from "backend blew up" without string matching.
type ErrorKind string

const (
	ErrPolicyDenied         ErrorKind = "policy_denied"
	ErrParseFailure         ErrorKind = "parse_failure"
	ErrConnectivity         ErrorKind = "connectivity_error"
	ErrBackendFault         ErrorKind = "backend_fault"
	ErrUnsupportedOperation ErrorKind = "unsupported_operation"
)

// QueryError is the typed error produced by the gateway. PolicyDenied and
// ParseFailure are terminal: the command was never sent to a driver.
type QueryError struct {
	Kind    ErrorKind
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func policyDenied(format string, args ...any) *QueryError {
	return &QueryError{Kind: ErrPolicyDenied, Message: fmt.Sprintf(format, args...)}
}

func parseFailure(format string, args ...any) *QueryError {
	return &QueryError{Kind: ErrParseFailure, Message: fmt.Sprintf(format, args...)}
}

func connectivityError(format string, args ...any) *QueryError {
	return &QueryError{Kind: ErrConnectivity, Message: fmt.Sprintf(format, args...)}
}

func backendFault(err error) *QueryError {
	return &QueryError{Kind: ErrBackendFault, Message: err.Error()}
}

func unsupportedOperation(format string, args ...any) *QueryError {
	return &QueryError{Kind: ErrUnsupportedOperation, Message: fmt.Sprintf(format, args...)}
}

// cmdPreview truncates a command for log lines so large literals are not
// echoed into the audit stream.
func cmdPreview(cmd string) string {
	const max = 120
	if len(cmd) <= max {
		return cmd
	}
	return cmd[:max] + "..."
}
