// internal/fault/fault.go
package fault

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the HTTP boundary.
type Kind int

const (
	Internal Kind = iota
	NotFound
	Conflict
	OutOfStock
	Validation
	Unauthorized
	RateLimited
	Storage
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case OutOfStock:
		return "out_of_stock"
	case Validation:
		return "validation_failed"
	case Unauthorized:
		return "unauthorized"
	case RateLimited:
		return "rate_limited"
	case Storage:
		return "storage_failure"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case OutOfStock, Validation:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Domain packages declare their sentinels as *Error
// values so that errors.Is keeps working through %w wrapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates a classified error with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err, keeping it as the cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the outermost classified error in the chain,
// or Internal for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the client-safe message of the outermost classified error.
// Unclassified and storage errors never leak their cause.
func MessageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		switch fe.Kind {
		case Storage:
			return "storage unavailable, retry later"
		case Internal:
			return "internal server error"
		}
		return fe.Message
	}
	return "internal server error"
}
