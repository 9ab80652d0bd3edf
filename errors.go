package chainlock

import (
	"errors"
	"strings"
)

// Error is the chainlock error domain type.
//
// Errors coming from chainlock components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of components should create an Error at the system boundary
// (e.g. when issuing an HTTP request or reading a file) and intermediate
// layers should not wrap in another Error except to add additional
// [ErrorKind] information. That is to say, use [fmt.Errorf] with a "%w" verb
// in preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrConfiguration,
		ErrInputValidation,
		ErrNetworkTransient,
		ErrNetworkPermanent,
		ErrNotFound,
		ErrUpstreamSchema,
		ErrCancelled,
		ErrInternal:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// If an error is unsure which kind to use, ErrInternal should be used.
type ErrorKind string

// Defined error kinds.
var (
	ErrConfiguration    = ErrorKind("configuration")     // missing credential, unwritable directory
	ErrInputValidation  = ErrorKind("input_validation")  // unparseable or empty manifest
	ErrNetworkTransient = ErrorKind("network_transient") // DNS, connection reset, 5xx, timeout
	ErrNetworkPermanent = ErrorKind("network_permanent") // 4xx other than 404, TLS failure
	ErrNotFound         = ErrorKind("not_found")         // 404
	ErrUpstreamSchema   = ErrorKind("upstream_schema")   // response failed schema validation
	ErrCancelled        = ErrorKind("cancelled")         // run was cancelled
	ErrInternal         = ErrorKind("internal")          // unexpected invariant
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}

// Transient reports whether the error chain contains a retryable kind.
//
// Context cancellation is never transient; deadline expiry on the request
// level is.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCancelled) {
		return false
	}
	return errors.Is(err, ErrNetworkTransient)
}
