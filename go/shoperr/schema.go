// Package shoperr defines the error taxonomy of the coffeeshop framework.
//
// Every error that can reach a client is expressed as a Schema: a JSON
// envelope carrying the HTTP status code, a PascalCase error code, and
// free-form details. Baristas persist the envelope verbatim in the result
// table, so a retrieval served by any shop in the cluster reports the same
// body a blocking request would have.
package shoperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Details is the free-form payload of a Schema. The framework populates
// "message", plus "fields" for validation failures, "size" and "limit" for
// oversized payloads, and "ticket" for ticket and result lookups; machines
// may attach anything JSON-serializable.
type Details map[string]interface{}

// Schema is the standardised error envelope.
type Schema struct {
	StatusCode int     `json:"status_code"`
	Code       string  `json:"error"`
	Details    Details `json:"details,omitempty"`
}

// New builds a Schema from a status code, an error code and its details.
func New(statusCode int, code string, details Details) *Schema {
	return &Schema{
		StatusCode: statusCode,
		Code:       code,
		Details:    details,
	}
}

var _ error = &Schema{}

func (s *Schema) Error() string {
	if msg, ok := s.Details["message"].(string); ok {
		return fmt.Sprintf("%s (%d): %s", s.Code, s.StatusCode, msg)
	}
	return fmt.Sprintf("%s (%d)", s.Code, s.StatusCode)
}

// MarshalBinary serializes the Schema to its canonical JSON form, which is
// also the representation stored in the result table.
func (s *Schema) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// ParseSchema decodes a Schema from its stored JSON form.
func ParseSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing error schema: %w", err)
	}
	if s.StatusCode == 0 || s.Code == "" {
		return nil, fmt.Errorf("error schema is missing status_code or error")
	}
	return &s, nil
}

// Coerce maps an arbitrary error onto a Schema. A *Schema passes through
// unchanged; anything else becomes an opaque 500 so that stack internals
// never leak to clients.
func Coerce(err error) *Schema {
	var s *Schema
	if errors.As(err, &s) {
		return s
	}
	return New(http.StatusInternalServerError, "InternalServerError", Details{
		"message": err.Error(),
	})
}
