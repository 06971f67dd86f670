package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code classifies a failure. Callers branch on codes, never on messages.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeBelowMinimumQty   Code = "BELOW_MINIMUM_ORDER_QUANTITY"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeConflict          Code = "CONFLICT"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeDependency        Code = "DEPENDENCY_ERROR"
)

// Metadata is how a code surfaces to callers outside the process.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

const (
	final     = false
	retryable = true
	opaque    = false
	detailed  = true
)

var metadataByCode = map[Code]Metadata{
	CodeValidation:        {http.StatusBadRequest, final, "validation failed", detailed},
	CodeForbidden:         {http.StatusForbidden, final, "access denied", opaque},
	CodeNotFound:          {http.StatusNotFound, final, "resource not found", opaque},
	CodeInsufficientStock: {http.StatusConflict, final, "insufficient stock", detailed},
	CodeBelowMinimumQty:   {http.StatusUnprocessableEntity, final, "quantity below minimum order quantity", detailed},
	CodeInvalidState:      {http.StatusUnprocessableEntity, final, "state transition disallowed", detailed},
	CodeConflict:          {http.StatusConflict, final, "conflict detected", opaque},
	CodeInternal:          {http.StatusInternalServerError, retryable, "internal server error", opaque},
	CodeDependency:        {http.StatusServiceUnavailable, retryable, "dependency unavailable", detailed},
}

// MetadataFor treats unknown codes as internal errors.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the typed error every service operation returns for expected failures.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap keeps err reachable through errors.Is/As. A nil err behaves like New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches any *Error with the same code, so errors.Is(err, New(CodeNotFound, ""))
// works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// HasCode reports whether err or anything it wraps carries code.
func HasCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

// IsRetryable reports whether retrying the same call could succeed. Untyped
// errors are assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if typed := As(err); typed != nil {
		return MetadataFor(typed.Code()).Retryable
	}
	return true
}
