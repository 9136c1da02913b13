package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrTimeout      = fmt.Errorf("operation timed out")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	ErrMissingCredentials = fmt.Errorf("missing required credentials")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrUnknownAgent       = fmt.Errorf("unknown agent")
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrToolFailure        = fmt.Errorf("tool execution failed")
	ErrBridgeConnect      = fmt.Errorf("tool bridge connection failed")
	ErrMaxIterations      = fmt.Errorf("agent reached max iterations")
	ErrMaxHandoffs        = fmt.Errorf("turn exceeded max handoffs")
	ErrInvalidRecord      = fmt.Errorf("record does not match schema")
	ErrPersistence        = fmt.Errorf("row persistence failed")

	// Oracle errors.
	ErrProviderError = fmt.Errorf("provider error")
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid   = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "sheets.append")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category used as a log field.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeMissingCredentials ErrorCode = "MISSING_CREDENTIALS"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeUnknownAgent       ErrorCode = "UNKNOWN_AGENT"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure        ErrorCode = "TOOL_FAILURE"
	CodeBridgeConnect      ErrorCode = "BRIDGE_CONNECT"
	CodeMaxIterations      ErrorCode = "MAX_ITERATIONS"
	CodeMaxHandoffs        ErrorCode = "MAX_HANDOFFS"
	CodeInvalidRecord      ErrorCode = "INVALID_RECORD"
	CodePersistence        ErrorCode = "PERSISTENCE"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
)

// errorCodes is ordered most specific first; ErrorCodeOf returns the first match.
var errorCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrMissingCredentials, CodeMissingCredentials},
	{ErrConfigLoad, CodeConfigLoad},
	{ErrUnknownAgent, CodeUnknownAgent},
	{ErrToolNotFound, CodeToolNotFound},
	{ErrToolFailure, CodeToolFailure},
	{ErrBridgeConnect, CodeBridgeConnect},
	{ErrMaxIterations, CodeMaxIterations},
	{ErrMaxHandoffs, CodeMaxHandoffs},
	{ErrInvalidRecord, CodeInvalidRecord},
	{ErrPersistence, CodePersistence},
	{ErrRateLimit, CodeRateLimit},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrProviderError, CodeProviderError},
	{ErrDuplicate, CodeDuplicate},
	{ErrTimeout, CodeTimeout},
	{ErrInvalidInput, CodeInvalidInput},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found in the chain.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
