package ot

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is against these; the concrete error is
// usually an *OpError carrying the offending operation.
var (
	// ErrInvalidOperation marks malformed input rejected at the boundary.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrOutOfRange marks an operation that does not fit the buffer it is
	// applied to. After transform this indicates a bug or hostile input.
	ErrOutOfRange = errors.New("operation out of range")
)

// ErrorCode categorizes operation errors for transports and logs.
type ErrorCode string

const (
	// CodeInvalidOperation is reported for ErrInvalidOperation.
	CodeInvalidOperation ErrorCode = "INVALID_OPERATION"

	// CodeOutOfRange is reported for ErrOutOfRange.
	CodeOutOfRange ErrorCode = "OUT_OF_RANGE"
)

// OpError describes why an operation was rejected.
type OpError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed.
	Op Operation

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Op)
}

// Unwrap maps the code back to its sentinel so errors.Is works.
func (e *OpError) Unwrap() error {
	switch e.Code {
	case CodeInvalidOperation:
		return ErrInvalidOperation
	case CodeOutOfRange:
		return ErrOutOfRange
	default:
		return nil
	}
}

func invalid(op Operation, format string, args ...any) *OpError {
	return &OpError{Code: CodeInvalidOperation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func outOfRange(op Operation, format string, args ...any) *OpError {
	return &OpError{Code: CodeOutOfRange, Op: op, Message: fmt.Sprintf(format, args...)}
}

// IsInvalidOperation reports whether err is (or wraps) ErrInvalidOperation.
func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

// IsOutOfRange reports whether err is (or wraps) ErrOutOfRange.
func IsOutOfRange(err error) bool {
	return errors.Is(err, ErrOutOfRange)
}
