package repositories

import "fmt"

// ErrorKind classifies store failures so services can map them without knowing the backend.
type ErrorKind string

const (
	// ErrorKindUnknown represents an unspecified failure.
	ErrorKindUnknown ErrorKind = "unknown"
	// ErrorKindNotFound indicates the addressed record does not exist.
	ErrorKindNotFound ErrorKind = "not_found"
	// ErrorKindConflict indicates a concurrent write or duplicate key.
	ErrorKindConflict ErrorKind = "conflict"
	// ErrorKindUnavailable indicates a transient backend outage.
	ErrorKindUnavailable ErrorKind = "unavailable"
	// ErrorKindInvalidReference indicates a foreign reference (user, address, product) is unknown.
	ErrorKindInvalidReference ErrorKind = "invalid_reference"
	// ErrorKindInvalidInput indicates the caller supplied invalid arguments.
	ErrorKindInvalidInput ErrorKind = "invalid_input"
	// ErrorKindExhausted indicates a counter cannot be incremented further due to a configured max value.
	ErrorKindExhausted ErrorKind = "exhausted"
)

// Error is the RepositoryError returned by every store backend.
type Error struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error
}

var (
	_ RepositoryError = (*Error)(nil)
	_ ReferenceError  = (*Error)(nil)
)

// NewError constructs a typed repository error.
func NewError(op string, kind ErrorKind, message string, err error) *Error {
	if message == "" {
		if err != nil {
			message = err.Error()
		} else {
			message = string(kind)
		}
	}
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) IsNotFound() bool { return e != nil && e.Kind == ErrorKindNotFound }
func (e *Error) IsConflict() bool { return e != nil && e.Kind == ErrorKindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }
func (e *Error) IsInvalidReference() bool { return e != nil && e.Kind == ErrorKindInvalidReference }
