// Package errors provides structured error handling for nusql.
//
// This package defines error types with:
//   - Error codes for programmatic handling
//   - Categories for grouping related errors
//   - Context fields for debugging
//   - Wrapping support for error chains
//
// Error codes follow a hierarchical scheme:
//   - 1xxx: Configuration errors
//   - 2xxx: Connection errors
//   - 3xxx: Query errors
//   - 4xxx: Timeout errors
//   - 5xxx: Protocol errors
//   - 6xxx: Type mapping errors
//   - 9xxx: Internal errors
//
// The host boundary reduces codes to a stable Kind (see KindOf), so the
// host can react to the class of failure without parsing messages.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code is a numeric error code for programmatic handling.
type Code int

// Error codes by category
const (
	// Configuration errors (1xxx)
	ErrCodeConfigInvalid   Code = 1001
	ErrCodeConfigMissing   Code = 1002
	ErrCodeConfigParse     Code = 1003
	ErrCodeProfileNotFound Code = 1004
	ErrCodeCredentials     Code = 1005

	// Connection errors (2xxx)
	ErrCodeConnectionFailed Code = 2001
	ErrCodeConnectionClosed Code = 2002
	ErrCodeAuthFailed       Code = 2003
	ErrCodeTLSError         Code = 2004
	ErrCodeSessionInvalid   Code = 2005
	ErrCodeSessionBusy      Code = 2006

	// Query errors (3xxx)
	ErrCodeQueryRejected    Code = 3001
	ErrCodeQuerySyntax      Code = 3002
	ErrCodePermissionDenied Code = 3003
	ErrCodeConstraint       Code = 3004
	ErrCodeParamBinding     Code = 3005

	// Timeout errors (4xxx)
	ErrCodeConnectTimeout Code = 4001
	ErrCodeQueryTimeout   Code = 4002

	// Protocol errors (5xxx)
	ErrCodeProtocolError   Code = 5001
	ErrCodeMalformedCall   Code = 5002
	ErrCodeStreamAbandoned Code = 5003

	// Type mapping errors (6xxx)
	ErrCodeUnmappableCell  Code = 6001
	ErrCodeUnsupportedType Code = 6002

	// Internal errors (9xxx)
	ErrCodeInternal Code = 9001
	ErrCodeHistory  Code = 9002
)

// String returns the error code as a string.
func (c Code) String() string {
	return fmt.Sprintf("E%04d", c)
}

// Category returns the category for this code.
func (c Code) Category() string {
	switch {
	case c >= 1000 && c < 2000:
		return "configuration"
	case c >= 2000 && c < 3000:
		return "connection"
	case c >= 3000 && c < 4000:
		return "query"
	case c >= 4000 && c < 5000:
		return "timeout"
	case c >= 5000 && c < 6000:
		return "protocol"
	case c >= 6000 && c < 7000:
		return "mapping"
	case c >= 9000:
		return "internal"
	default:
		return "unknown"
	}
}

// Kind is the stable, host-facing classification of a failure.
type Kind string

const (
	KindConfig      Kind = "config"
	KindConnection  Kind = "connection"
	KindQuery       Kind = "query"
	KindTimeout     Kind = "timeout"
	KindProtocol    Kind = "protocol"
	KindTypeMapping Kind = "type-mapping"
	KindInternal    Kind = "internal"
)

// Kind returns the host-facing kind for this code.
func (c Code) Kind() Kind {
	switch c.Category() {
	case "configuration":
		return KindConfig
	case "connection":
		return KindConnection
	case "query":
		return KindQuery
	case "timeout":
		return KindTimeout
	case "protocol":
		return KindProtocol
	case "mapping":
		return KindTypeMapping
	default:
		return KindInternal
	}
}

// InvalidatesSession reports whether an error with this code leaves the
// session in an indeterminate state and it must not return to the cache.
func (c Code) InvalidatesSession() bool {
	switch c.Kind() {
	case KindConnection, KindTimeout, KindProtocol:
		return true
	}
	return false
}

// Error is a structured error with code, context, and optional cause.
type Error struct {
	Code    Code
	Message string

	// Context
	Fields map[string]interface{}

	// Error chain
	Cause error

	Time   time.Time
	OpName string // Operation that failed (e.g., "Session.Acquire", "Executor.Run")
}

// Error implements the error interface.
func (e *Error) Error() string {
	var buf strings.Builder

	buf.WriteString(e.Code.String())
	buf.WriteString(": ")
	buf.WriteString(e.Message)

	if e.Cause != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Cause.Error())
	}

	return buf.String()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Format implements fmt.Formatter for detailed output.
func (e *Error) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "%s [%s] %s: %s\n",
				e.Time.Format(time.RFC3339),
				e.Code.Kind(),
				e.Code.String(),
				e.Message)

			if e.OpName != "" {
				fmt.Fprintf(f, "  Operation: %s\n", e.OpName)
			}

			if len(e.Fields) > 0 {
				fmt.Fprintf(f, "  Context:\n")
				for k, v := range e.Fields {
					fmt.Fprintf(f, "    %s: %v\n", k, v)
				}
			}

			if e.Cause != nil {
				fmt.Fprintf(f, "  Caused by: %v\n", e.Cause)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(f, e.Error())
	case 'q':
		fmt.Fprintf(f, "%q", e.Error())
	}
}

// WithField adds a context field to the error.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// WithOp sets the operation name.
func (e *Error) WithOp(op string) *Error {
	e.OpName = op
	return e
}

// New creates a new error with the given code.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Time:    time.Now(),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message. It returns nil if
// cause is nil, so it can be applied unconditionally to return values.
func Wrap(cause error, code Code, message string) *Error {
	if cause == nil {
		return nil
	}
	e := New(code, message)
	e.Cause = cause
	return e
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(cause error, code Code, format string, args ...interface{}) *Error {
	return Wrap(cause, code, fmt.Sprintf(format, args...))
}

// Extraction helpers

// GetCode extracts the error code from an error. Errors without a
// structured code in their chain, and nil, report 0.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// KindOf extracts the host-facing kind from an error.
func KindOf(err error) Kind {
	return GetCode(err).Kind()
}

// GetFields extracts context fields from an error.
func GetFields(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsKind checks if an error belongs to a kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Standard library compatibility

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join combines multiple errors.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
