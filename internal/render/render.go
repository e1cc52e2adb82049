// Package render writes JSON responses and maps classified errors to status codes.
package render

import (
	"errors"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"libris/internal/fault"
	"libris/internal/validate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// Message is the body of every non-data response.
type Message struct {
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes err as a Message using the status of its fault kind.
func Error(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	body := Message{Message: fault.MessageOf(err)}
	if fields, ok := validate.FieldsOf(err); ok {
		body.Errors = fields
	}
	JSON(w, kind.Status(), body)
}

// Decode reads a JSON request body into v. Malformed input is a validation failure.
func Decode(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fault.New(fault.Validation, "request body is required")
		}
		return fault.Wrap(fault.Validation, "malformed JSON body", err)
	}
	return nil
}
