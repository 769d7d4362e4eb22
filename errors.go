package svcl

import (
	"fmt"

	"github.com/oarkflow/errors"
)

type ErrorCode string

const (
	ErrCodeUnknownVariable   ErrorCode = "UNKNOWN_VARIABLE"
	ErrCodeTypeMismatch      ErrorCode = "TYPE_MISMATCH"
	ErrCodeArityMismatch     ErrorCode = "ARITY_MISMATCH"
	ErrCodeUnknownCallee     ErrorCode = "UNKNOWN_CALLEE"
	ErrCodeIterationLimit    ErrorCode = "ITERATION_LIMIT_EXCEEDED"
	ErrCodeBuiltinFailure    ErrorCode = "BUILTIN_FAILURE"
	ErrCodeDivisionByZero    ErrorCode = "DIVISION_BY_ZERO"
	ErrCodeCallDepthExceeded ErrorCode = "CALL_DEPTH_EXCEEDED"
	ErrCodeCanceled          ErrorCode = "EVALUATION_CANCELED"
	ErrCodeRegistry          ErrorCode = "REGISTRY_ERROR"
)

var (
	ErrRegistryFrozen = errors.New("builtin registry is frozen")
	ErrNilProgram     = errors.New("program is nil")
)

// LexError reports a malformed token. Lexing stops at the first one.
type LexError struct {
	Message string
	Line    int
	Column  int
}

func (e *LexError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("lex error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// ParseError reports the first structural error in a source file.
type ParseError struct {
	Message string
	Line    int
	Column  int
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// RuntimeError aborts a single evaluation.
type RuntimeError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *RuntimeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func runtimeErrorf(code ErrorCode, format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: code, Message: fmt.Sprintf(format, args...)}
}
