// Package validate holds the explicit input checks used by the HTTP handlers.
// A check never panics or throws; it records a reason per field.
package validate

import (
	"errors"
	"net/mail"
	"sort"
	"strings"

	"github.com/google/uuid"

	"libris/internal/fault"
)

// Errors maps a field name to the reason it was rejected.
type Errors map[string]string

// OK reports whether no field was rejected.
func (e Errors) OK() bool { return len(e) == 0 }

// Error renders the rejected fields in a stable order.
func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+e[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Err returns nil when e is empty, otherwise a fault.Validation error wrapping e.
func (e Errors) Err() error {
	if e.OK() {
		return nil
	}
	return fault.Wrap(fault.Validation, "validation failed", e)
}

// Required rejects empty or whitespace-only values.
func (e Errors) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.add(field, "is required")
	}
}

// Email rejects values that are not a bare address.
func (e Errors) Email(field, value string) {
	if strings.TrimSpace(value) == "" {
		e.add(field, "is required")
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		e.add(field, "must be a valid email address")
	}
}

// UUID parses value as an id, recording a reason when it is missing or malformed.
func (e Errors) UUID(field, value string) uuid.UUID {
	if strings.TrimSpace(value) == "" {
		e.add(field, "is required")
		return uuid.Nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		e.add(field, "must be a valid id")
		return uuid.Nil
	}
	return id
}

// NonNegative rejects a missing or negative count.
func (e Errors) NonNegative(field string, value *int) {
	switch {
	case value == nil:
		e.add(field, "is required")
	case *value < 0:
		e.add(field, "must not be negative")
	}
}

func (e Errors) add(field, reason string) {
	if _, exists := e[field]; !exists {
		e[field] = reason
	}
}

// FieldsOf extracts the per-field reasons from a validation error chain.
func FieldsOf(err error) (Errors, bool) {
	var fields Errors
	if errors.As(err, &fields) {
		return fields, true
	}
	return nil, false
}
