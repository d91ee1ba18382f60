package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	// ErrorTypeContent is an authoring bug in a package (unknown macro,
	// unparsable header). Fatal for the one file, never for the process.
	ErrorTypeContent ErrorType = "content"
	// ErrorTypeEnvironment is a missing optional input recovered with a default.
	ErrorTypeEnvironment ErrorType = "environment"
	ErrorTypeIO          ErrorType = "io"
	// ErrorTypeRemote covers database and publish endpoint failures.
	ErrorTypeRemote   ErrorType = "remote"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Error is a structured error carrying the package/file/event that produced it.
type Error struct {
	Type     ErrorType
	Code     string
	Message  string
	Cause    error
	Package  string
	FilePath string
	Event    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Package != "" {
		parts = append(parts, "package:"+e.Package)
	}
	if e.FilePath != "" {
		location := e.FilePath
		if e.Event != "" {
			location += "(" + e.Event + ")"
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)
	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithPackage adds package context.
func (e *Error) WithPackage(pkg string) *Error {
	e.Package = pkg

	return e
}

// WithFile adds file and event context.
func (e *Error) WithFile(path, event string) *Error {
	e.FilePath = path
	e.Event = event

	return e
}

// Fields returns the logging key/value pairs for this error.
func (e *Error) Fields() []interface{} {
	fields := []interface{}{"error_type", string(e.Type)}
	if e.Code != "" {
		fields = append(fields, "code", e.Code)
	}
	if e.Package != "" {
		fields = append(fields, "package", e.Package)
	}
	if e.FilePath != "" {
		fields = append(fields, "file", e.FilePath)
	}
	if e.Event != "" {
		fields = append(fields, "event", e.Event)
	}
	return fields
}

// NewContentError creates a content error.
func NewContentError(code, message string, cause error) *Error {
	return &Error{Type: ErrorTypeContent, Code: code, Message: message, Cause: cause}
}

// NewEnvironmentError creates an environment error.
func NewEnvironmentError(code, message string, cause error) *Error {
	return &Error{Type: ErrorTypeEnvironment, Code: code, Message: message, Cause: cause}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *Error {
	return &Error{Type: ErrorTypeIO, Code: code, Message: message, Cause: cause}
}

// NewRemoteError creates a remote call error.
func NewRemoteError(code, message string, cause error) *Error {
	return &Error{Type: ErrorTypeRemote, Code: code, Message: message, Cause: cause}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *Error {
	return &Error{Type: ErrorTypeConfig, Code: code, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return &Error{Type: ErrorTypeInternal, Code: code, Message: message, Cause: cause}
}

// Wrap wraps err as the given type, keeping package/file context of an
// inner *Error when present.
func Wrap(err error, errType ErrorType, code, message string) *Error {
	if err == nil {
		return nil
	}

	wrapped := &Error{Type: errType, Code: code, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) {
		wrapped.Package = inner.Package
		wrapped.FilePath = inner.FilePath
		wrapped.Event = inner.Event
	}
	return wrapped
}

func isType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsContentError reports whether err is a content error.
func IsContentError(err error) bool { return isType(err, ErrorTypeContent) }

// IsRemoteError reports whether err is a remote call error.
func IsRemoteError(err error) bool { return isType(err, ErrorTypeRemote) }

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool { return isType(err, ErrorTypeConfig) }
