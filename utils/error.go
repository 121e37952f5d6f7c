package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind classifies failures for the HTTP layer and for logging.
type ErrorKind string

const (
	// ErrorKindValidation covers client-caused failures (empty input,
	// unknown ids, quota exceeded, illegal state transitions).
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindNotFound covers absent records, including records outside
	// the caller's organization. Tenancy misses are folded in here so
	// existence is never confirmed across tenants.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindInternal covers everything else. The message is generic;
	// the cause and fields are for server-side logs only.
	ErrorKindInternal ErrorKind = "internal"
)

// AppError carries a kind, a user-safe message, the wrapped cause and
// diagnostic fields (ids involved). Causes are re-labeled, never swallowed.
type AppError struct {
	Kind    ErrorKind
	Message string
	Cause   error
	Fields  map[string]any
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func ValidationError(message string, fields map[string]any) *AppError {
	return &AppError{Kind: ErrorKindValidation, Message: message, Fields: fields}
}

func NotFoundError(message string, fields map[string]any) *AppError {
	return &AppError{Kind: ErrorKindNotFound, Message: message, Fields: fields}
}

func InternalError(cause error, message string, fields map[string]any) *AppError {
	return &AppError{Kind: ErrorKindInternal, Message: message, Cause: cause, Fields: fields}
}

// WrapError re-labels err as an internal failure unless it already carries a
// kind, in which case the original classification is preserved and the new
// fields are merged in.
func WrapError(err error, message string, fields map[string]any) *AppError {
	var app *AppError
	if errors.As(err, &app) {
		merged := make(map[string]any, len(app.Fields)+len(fields))
		for k, v := range fields {
			merged[k] = v
		}
		for k, v := range app.Fields {
			merged[k] = v
		}
		return &AppError{Kind: app.Kind, Message: app.Message, Cause: app.Cause, Fields: merged}
	}
	return InternalError(err, message, fields)
}

func KindOf(err error) ErrorKind {
	var app *AppError
	if errors.As(err, &app) {
		return app.Kind
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrorKindNotFound
	}
	return ErrorKindInternal
}

// UserMessage is what may be surfaced to the caller. Internal detail stays
// server-side.
func UserMessage(err error) string {
	switch KindOf(err) {
	case ErrorKindInternal:
		return "something went wrong, please try again later"
	default:
		var app *AppError
		if errors.As(err, &app) {
			return app.Message
		}
		return err.Error()
	}
}
